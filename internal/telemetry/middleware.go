package telemetry

import (
	"net/http"
	"time"
)

// Metrics returns middleware recording RED metrics for every request. Tracing
// for the REST surface comes from the otelhttp handler wrapping the router,
// so this middleware only feeds the meters.
func Metrics(t *Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if t == nil {
				next.ServeHTTP(w, r)

				return
			}

			start := time.Now()

			t.IncrementHTTPInFlight()
			defer t.DecrementHTTPInFlight()

			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			t.RecordHTTPRequest(r.Method, r.URL.Path, statusClass(wrapped.status), time.Since(start))
		})
	}
}

func statusClass(status int) string {
	switch {
	case status < http.StatusOK:
		return "1xx"
	case status < http.StatusMultipleChoices:
		return "2xx"
	case status < http.StatusBadRequest:
		return "3xx"
	case status < http.StatusInternalServerError:
		return "4xx"
	default:
		return "5xx"
	}
}
