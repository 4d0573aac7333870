package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/handlers"
)

func init() {
	Register("liveness", registerLiveness)
	Register("probes", registerProbes, LocalOnly)
}

func registerLiveness(r chi.Router, d deps.Deps) {
	r.Get("/healthz", handlers.Healthz(d))
}

func registerProbes(r chi.Router, d deps.Deps) {
	r.Get("/readyz", handlers.Readyz(d))
	r.Get("/infra", handlers.Infra(d))
	if d.Metrics != nil {
		r.Method("GET", "/metrics", d.Metrics)
	}
}
