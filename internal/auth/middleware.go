package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/httpx"
)

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying the verified username.
func WithIdentity(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, identityKey, username)
}

// IdentityFrom extracts the verified username set by Middleware.
func IdentityFrom(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(identityKey).(string)
	return u, ok && u != ""
}

// Middleware verifies the bearer token once per request and stores the
// identity in the request context. The token is read from the
// Authorization header, falling back to a _token query parameter or a
// _token field of a JSON body.
func Middleware(issuer *Issuer, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				httpx.WriteError(w, apperror.ErrUnauthorized)
				return
			}
			claims, err := issuer.Verify(token)
			if err != nil {
				logger.Debugw("token rejected", "path", r.URL.Path, "err", err)
				httpx.WriteError(w, apperror.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.Username)))
		})
	}
}

// maxTokenPeek bounds how much of a request body is read looking for a
// _token field.
const maxTokenPeek = 1 << 20

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if t := r.URL.Query().Get("_token"); t != "" {
		return t
	}
	return tokenFromBody(r)
}

// tokenFromBody reads _token from a JSON body and restores r.Body so the
// handler can still decode it.
func tokenFromBody(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxTokenPeek))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil || len(buf) == 0 {
		return ""
	}
	var payload struct {
		Token string `json:"_token"`
	}
	if err := json.Unmarshal(buf, &payload); err != nil {
		return ""
	}
	return payload.Token
}
