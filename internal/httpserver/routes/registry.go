package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/mw"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
	// MiddlewareFactory builds a middleware once the dependencies are known.
	MiddlewareFactory func(d deps.Deps) Middleware
)

type entry struct {
	name string
	reg  Registrar
	mws  []MiddlewareFactory
}

var registry []entry

// Register a named registrar with optional middlewares applied to every
// route it adds.
func Register(name string, reg Registrar, mws ...MiddlewareFactory) {
	registry = append(registry, entry{name: name, reg: reg, mws: mws})
}

// LocalOnly restricts routes to the configured CIDR allow-list.
func LocalOnly(d deps.Deps) Middleware {
	return mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)
}

// Called once from server.NewRouter()
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, e := range registry {
		if len(e.mws) == 0 {
			e.reg(r, d)
		} else {
			r.Group(func(sub chi.Router) {
				for _, f := range e.mws {
					sub.Use(f(d))
				}
				e.reg(sub, d)
			})
		}
		d.Logger.Debug("routes registered",
			logger.String("group", e.name),
			logger.Int("middlewares", len(e.mws)))
	}
}
