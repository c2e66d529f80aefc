package router

import (
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/message"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-messenger-go/pkg/utilities"
)

const requestIDHeader = "X-Request-ID"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

func (lrw *loggingResponseWriter) statusCode() int {
	if lrw.status == 0 {
		return http.StatusOK
	}
	return lrw.status
}

// LoggingMiddleware tags each request with an id (echoed as X-Request-ID)
// and logs it at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = utilities.NewKSUID()
			}
			w.Header().Set(requestIDHeader, reqID)

			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			logger.Debugw("http request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", lrw.statusCode(),
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// MetricsMiddleware records request count and latency per matched route.
// It must wrap the ServeMux directly so r.Pattern is visible after
// dispatch.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lrw, r)
		metrics.ObserveRequest(r.Method, r.Pattern, lrw.statusCode(), time.Since(start))
	})
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Clickjacking protection
			w.Header().Set("X-Frame-Options", "DENY")

			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")

			// JSON API only; nothing to load
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}

			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the handlers and settings the routes are built from.
type Deps struct {
	Logger      *zap.SugaredLogger
	Issuer      *auth.Issuer
	Users       *user.Handler
	Messages    *message.Handler
	CORSOrigins []string
	RateRPS     float64
	RateBurst   int
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	requireAuth := auth.Middleware(d.Issuer, d.Logger)
	limit := RateLimitMiddleware(d.RateRPS, d.RateBurst)

	protected := func(h http.HandlerFunc) http.Handler { return requireAuth(h) }

	// health
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	// auth routes
	mux.Handle("POST /auth/login", limit(http.HandlerFunc(d.Users.Login)))
	mux.Handle("POST /auth/register", limit(http.HandlerFunc(d.Users.Register)))

	// user routes
	mux.Handle("GET /users", protected(d.Users.List))
	mux.Handle("GET /users/{username}", protected(d.Users.Get))
	mux.Handle("GET /users/{username}/to", protected(d.Users.Received))
	mux.Handle("GET /users/{username}/from", protected(d.Users.Sent))

	// message routes
	mux.Handle("POST /messages", protected(d.Messages.Create))
	mux.Handle("GET /messages/{id}", protected(d.Messages.Get))
	mux.Handle("POST /messages/{id}/read", protected(d.Messages.MarkRead))

	// empty origin list allows any origin
	c := cors.New(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         600,
	})

	// logging outermost, metrics directly around the mux
	handler := LoggingMiddleware(d.Logger)(SecurityHeadersMiddleware()(c.Handler(MetricsMiddleware(mux))))
	return handler
}
