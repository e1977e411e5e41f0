package httpmw

import (
	"net/http"
	"strings"
)

// TrustedHost rejects requests whose Host header does not match any entry
// in allowedHosts. A "*" entry (or an empty list) allows any host, matching
// Starlette's TrustedHostMiddleware default.
func TrustedHost(allowedHosts []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hostAllowed(r.Host, allowedHosts) {
				http.Error(w, "Invalid host header", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hostAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.Split(host, ":")[0]
	for _, a := range allowed {
		if a == "*" || a == host {
			return true
		}
		if strings.HasPrefix(a, "*.") && strings.HasSuffix(host, a[1:]) {
			return true
		}
	}
	return false
}
