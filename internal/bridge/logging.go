package bridge

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/supercorp-ai/supergateway/internal/ctxkey"
)

type requestIDContextKey struct{}

// RequestIDKey is the context key for the per-request correlation id.
var RequestIDKey = requestIDContextKey{}

// RequestLogging enriches every request's context with a request-scoped
// logger carrying request_id, method, and path fields (retrievable with
// LoggerFromContext), and echoes the id in the X-Request-ID response header.
// Grounded on the teacher's RequestIDMiddleware, generalized
// from HTTP-only proxying to every bridging mode's shared mux.
func RequestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}

			enriched := logger.With("request_id", requestID, "method", r.Method, "path", r.URL.Path)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, enriched)

			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the request-scoped logger, falling back to
// slog.Default() when none was attached (e.g. in a non-HTTP call path).
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
