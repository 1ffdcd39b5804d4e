package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maxpert/logflume/telemetry"
)

// Router builds the admin HTTP router.
func Router(handlers *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handlers.handleHealth)
	r.Get("/stats", handlers.handleStats)
	r.Post("/flush/{name}", handlers.handleFlush)

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	return r
}
