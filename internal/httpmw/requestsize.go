package httpmw

import "net/http"

// RequestSizeLimit rejects a request with 413 when its Content-Length
// exceeds maxBytes. A Content-Length exactly equal to maxBytes is
// accepted; a missing or malformed header is let through, matching the
// original middleware's "let FastAPI handle invalid requests" fallback.
func RequestSizeLimit(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
