package user

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/httpx"
)

var errBadCredentials = apperror.New(apperror.Unauthorized, "Invalid user/password")

// Handler exposes HTTP endpoints for the user directory: login, register,
// lookups and the per-user message listings.
type Handler struct {
	svc    *UserService
	issuer *auth.Issuer
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, issuer *auth.Issuer, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, issuer: issuer, logger: logger}
}

// LoginInput login payload.
type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Login serves POST /auth/login: {username, password} => {token}.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := httpx.Decode(w, r, &in); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		httpx.WriteError(w, err)
		return
	}
	h.issueToken(w, r, in.Username, in.Password)
}

// Register serves POST /auth/register: registers, logs in and returns
// {token}.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := httpx.Decode(w, r, &in); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		httpx.WriteError(w, err)
		return
	}
	p, err := h.svc.Register(r.Context(), in)
	if err != nil {
		h.fail(w, "register", err)
		return
	}
	h.logger.Infow("user registered", "username", p.Username)
	h.issueToken(w, r, p.Username, in.Password)
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request, username, password string) {
	ok, err := h.svc.Authenticate(r.Context(), username, password)
	if err != nil {
		h.fail(w, "authenticate", err)
		return
	}
	if !ok {
		h.logger.Debugw("login failed", "username", username)
		httpx.WriteError(w, errBadCredentials)
		return
	}
	if _, err := h.svc.RecordLogin(r.Context(), username); err != nil {
		h.fail(w, "record login", err)
		return
	}
	token, err := h.issuer.Sign(username)
	if err != nil {
		h.fail(w, "sign token", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// List serves GET /users => {users: [{username, first_name, last_name}]}.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListAll(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

// Get serves GET /users/{username} => {user}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProfile(r.Context(), r.PathValue("username"))
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"user": p})
}

// Received serves GET /users/{username}/to, the caller's inbox.
func (h *Handler) Received(w http.ResponseWriter, r *http.Request) {
	username, ok := h.ensureCorrectUser(w, r)
	if !ok {
		return
	}
	msgs, err := h.svc.ListReceived(r.Context(), username)
	if err != nil {
		h.fail(w, "list received", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// Sent serves GET /users/{username}/from, the caller's outbox.
func (h *Handler) Sent(w http.ResponseWriter, r *http.Request) {
	username, ok := h.ensureCorrectUser(w, r)
	if !ok {
		return
	}
	msgs, err := h.svc.ListSent(r.Context(), username)
	if err != nil {
		h.fail(w, "list sent", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// ensureCorrectUser only lets a user read their own listings.
func (h *Handler) ensureCorrectUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, ok := auth.IdentityFrom(r.Context())
	if !ok {
		httpx.WriteError(w, apperror.ErrUnauthorized)
		return "", false
	}
	username := r.PathValue("username")
	if caller != username {
		httpx.WriteError(w, apperror.New(apperror.Forbidden, "Only %s may read these messages", username))
		return "", false
	}
	return username, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperror.KindOf(err) == apperror.Internal {
		h.logger.Errorw(op+" failed", "err", err)
	} else {
		h.logger.Debugw(op+" rejected", "err", err)
	}
	httpx.WriteError(w, err)
}
