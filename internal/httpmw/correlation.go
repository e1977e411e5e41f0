package httpmw

import (
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader is the header clients may set to carry a correlation ID
// across a preceding HTTP request into this one, and the header the
// response mirrors it back on.
const CorrelationHeader = "X-Correlation-ID"

// CorrelationID extracts X-Correlation-ID if present, else generates a
// fresh one, truncates to 8 characters either way, attaches it to the
// request context, and mirrors it onto the response — spec.md §4.9 stage 2.
func CorrelationID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cid := r.Header.Get(CorrelationHeader)
			if cid == "" {
				cid = uuid.NewString()
			}
			if len(cid) > 8 {
				cid = cid[:8]
			}

			w.Header().Set(CorrelationHeader, cid)
			ctx := WithCorrelationID(r.Context(), cid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
