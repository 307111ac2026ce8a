package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter creates the operations router served next to the SQS poller:
// liveness, readiness and Prometheus metrics.
func NewRouter(checks map[string]Pinger, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))

	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(checks))
	r.Handle("/metrics", promhttp.Handler())

	return r
}
