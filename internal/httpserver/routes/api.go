package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/mw"
)

func init() { Register("api", registerAPI, LocalOnly) }

func registerAPI(r chi.Router, d deps.Deps) {
	r.Route("/api", func(r chi.Router) {
		if d.RequestTimeout > 0 {
			r.Use(middleware.Timeout(d.RequestTimeout))
		}

		r.Get("/products", handlers.Products(d))
		r.Get("/connectivity", handlers.Connectivity(d))
		r.Get("/notifications", handlers.Notifications(d))

		// mutating routes share a per-client budget
		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit(mw.RateLimitConfig{RequestsPerMin: d.APIRatePerMin, TrustProxy: d.TrustProxy}))
			r.Post("/products", handlers.Track(d))
			r.Post("/products/scrape", handlers.ScrapeNow(d))
			r.Put("/products/{id}/alarm", handlers.ProductAlarm(d))
			r.Put("/products/{id}/interval", handlers.ProductInterval(d))
			r.Delete("/products/{id}", handlers.DeleteProduct(d))
			r.Post("/sync", handlers.Sync(d))
		})
	})
}
