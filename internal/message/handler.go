package message

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/httpx"
)

// Handler exposes HTTP endpoints for the message exchange. Every route sits
// behind auth.Middleware.
type Handler struct {
	svc    *MessageService
	logger *zap.SugaredLogger
}

func NewHandler(svc *MessageService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type messageResponse struct {
	Message any `json:"message"`
}

// Get serves GET /messages/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Get(r.Context(), caller, id)
	if err != nil {
		h.fail(w, "get message", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: d})
}

// Create serves POST /messages. from_username in the body is ignored.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFrom(r.Context())
	if !ok {
		httpx.WriteError(w, apperror.ErrUnauthorized)
		return
	}
	var in SendInput
	if err := httpx.Decode(w, r, &in); err != nil {
		h.logger.Debugw("invalid message payload", "err", err)
		httpx.WriteError(w, err)
		return
	}
	m, err := h.svc.Create(r.Context(), caller, in)
	if err != nil {
		h.fail(w, "create message", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: m})
}

// MarkRead serves POST /messages/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.MarkRead(r.Context(), caller, id)
	if err != nil {
		h.fail(w, "mark read", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: m})
}

// callerAndID resolves the identity and the {id} path value. An id that
// is not a message id can name no message, so it is a 404.
func (h *Handler) callerAndID(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	caller, ok := auth.IdentityFrom(r.Context())
	if !ok {
		httpx.WriteError(w, apperror.ErrUnauthorized)
		return "", 0, false
	}
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httpx.WriteError(w, apperror.New(apperror.NotFound, "Message: %s not found", raw))
		return "", 0, false
	}
	return caller, id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperror.KindOf(err) == apperror.Internal {
		h.logger.Errorw(op+" failed", "err", err)
	} else {
		h.logger.Debugw(op+" rejected", "err", err)
	}
	httpx.WriteError(w, err)
}
