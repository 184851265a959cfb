package server

import (
	"net/http"

	"StableLedger/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewOpsRouter serves /metrics, /healthz and /readyz on the ops port.
func NewOpsRouter(gatherer prometheus.Gatherer, health *observability.HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if health != nil {
		r.Get("/healthz", health.LivenessHandler)
		r.Get("/readyz", health.ReadinessHandler)
	} else {
		ok := func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
		r.Get("/healthz", ok)
		r.Get("/readyz", ok)
	}
	return r
}
