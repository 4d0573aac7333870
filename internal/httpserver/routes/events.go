package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/handlers"
)

func init() { Register("events", registerEvents, LocalOnly) }

// The click target is opened by the desktop notification, so it sits outside /api.
func registerEvents(r chi.Router, d deps.Deps) {
	r.Get("/notifications/{id}/click", handlers.NotificationClick(d))
	if d.Events != nil {
		r.Method("GET", "/ws", d.Events)
	}
}
