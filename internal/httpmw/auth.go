package httpmw

import (
	"net/http"
	"strings"

	"github.com/ocx/wsgateway/internal/identity"
)

// Authentication validates a bearer token, if present, and attaches the
// resulting Principal to the request context. An absent or invalid token
// does not fail the request here — individual endpoints enforce
// authentication themselves (spec.md §4.9 stage 4); only the WebSocket
// handshake and role-gated routes reject outright.
func Authentication(verifier identity.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token != "" {
				if p, err := verifier.Verify(r.Context(), token); err == nil {
					r = r.WithContext(WithPrincipal(r.Context(), p))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken reads the token from the Authorization header, falling back
// to an `Authorization` query parameter for browser WebSocket clients that
// cannot set custom headers on the upgrade request (spec.md §6).
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return strings.TrimPrefix(r.URL.Query().Get("Authorization"), "Bearer ")
}
