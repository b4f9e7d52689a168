package gateway

import (
	"net/http"
	"time"

	"tranchepool/observability"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// observe records request metrics for the route. Tracing spans come from the
// otelhttp wrapper around the whole router, so this middleware only feeds the
// prometheus registry.
func observe(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			observability.API().Observe(route, r.Method, rec.status, time.Since(start))
		})
	}
}
