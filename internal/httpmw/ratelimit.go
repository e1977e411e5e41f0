package httpmw

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ocx/wsgateway/internal/ratelimit"
)

// RateLimit enforces the HTTP rate limit described in spec.md §4.9 stage 5:
// keyed on the authenticated user if present, else the resolved client IP.
// A denial returns 429 with the standard rate-limit headers.
func RateLimit(limiter *ratelimit.Limiter, trusted *TrustedProxies, limit, burst int, window time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(WithClientIP(r.Context(), ClientIP(r, trusted)))
			key := rateLimitKey(r, trusted)

			allowed, remaining, err := limiter.Allow(r.Context(), key, limit, window, burst, "http")
			if err != nil {
				// Store errors are already resolved to fail-mode policy inside
				// Allow; this branch only covers a construction-time misuse.
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", "60")
				w.Header().Set("Retry-After", "60")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":{"code":"rate_limit_exceeded","msg":"Rate limit exceeded. Please try again later."}}`))
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", "60")
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request, trusted *TrustedProxies) string {
	if p := PrincipalFrom(r.Context()); p != nil && p.Username != "" {
		return "user:" + p.Username
	}
	return "ip:" + ClientIP(r, trusted)
}
