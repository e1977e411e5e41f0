package httpmw

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ocx/wsgateway/internal/metrics"
)

// RequestMetrics observes request duration by route and status code, per
// spec.md §4.9 stage 9. It measures only the stages registered after it
// and the final handler; a 429 or 413 returned by a stage that runs
// before it is not observed.
func RequestMetrics(m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			m.HTTPRequestDuration.WithLabelValues(r.URL.Path, fmt.Sprintf("%d", sw.status)).
				Observe(time.Since(start).Seconds())
		})
	}
}
