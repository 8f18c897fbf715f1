package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// NewRouter mounts /metrics, /health and /ready. ready may be nil.
func NewRouter(registry *prometheus.Registry, ready func() bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", MetricsHandler(registry))
	r.Get("/health", HealthHandler)
	r.Get("/ready", ReadyHandler(ready))
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/metrics", http.StatusFound)
	})
	return r
}
