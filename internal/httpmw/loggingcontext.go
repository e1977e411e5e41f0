package httpmw

import (
	"log/slog"
	"net/http"
)

// LoggingContext logs endpoint, method, and correlation ID at debug level
// once the rest of the chain has handled the request — the Go stand-in
// for the original LoggingContextMiddleware's contextvar-scoped logging
// fields. It attaches no logger to the request context. It reads the
// principal from its own request, which a later Authentication stage does
// not modify (that stage passes a derived request downstream), so in the
// pipeline cmd/gateway builds no user identifier is logged.
func LoggingContext() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			attrs := []any{
				"endpoint", r.URL.Path,
				"method", r.Method,
				"correlation_id", CorrelationIDFrom(r.Context()),
			}
			if p := PrincipalFrom(r.Context()); p != nil {
				attrs = append(attrs, "user_id", p.UserID)
			}
			slog.Debug("httpmw: request handled", attrs...)
		})
	}
}
