package httpmw

import (
	"net/http"
	"time"

	"github.com/ocx/wsgateway/internal/audit"
)

// excludedAuditPaths are never written to the audit trail, mirroring the
// original middleware's EXCLUDED_PATHS allowance for health/metrics/docs
// noise.
var excludedAuditPaths = map[string]struct{}{
	"/health":       {},
	"/metrics":      {},
	"/docs":         {},
	"/openapi.json": {},
}

// Audit records one entry per authenticated HTTP request, per spec.md
// §4.9 stage 7. Unauthenticated requests are not logged here — the
// WebSocket endpoint (internal/wsgateway) records its own per-frame audit
// entries independently.
func Audit(pipeline *audit.Pipeline, trusted *TrustedProxies) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := excludedAuditPaths[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			p := PrincipalFrom(r.Context())
			if p == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			duration := time.Since(start)

			outcome := audit.OutcomeSuccess
			if sw.status >= 400 {
				outcome = audit.OutcomeError
			}

			pipeline.Enqueue(r.Context(), audit.Entry{
				Timestamp:      time.Now().UTC(),
				UserID:         p.UserID,
				Username:       p.Username,
				UserRoles:      p.Roles,
				ActionType:     r.Method,
				Resource:       r.URL.Path,
				Outcome:        outcome,
				IPAddress:      ClientIP(r, trusted),
				UserAgent:      r.Header.Get("User-Agent"),
				CorrelationID:  CorrelationIDFrom(r.Context()),
				ResponseStatus: sw.status,
				DurationMS:     duration.Milliseconds(),
			})
		})
	}
}

// statusWriter captures the status code written by the downstream handler
// so the audit stage can observe it without buffering the body.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.status = http.StatusOK
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
