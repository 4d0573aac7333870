package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/quickbasket/internal/notify"
)

type notificationsResponse struct {
	Notifications []notify.Notification `json:"notifications"`
}

func Notifications(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := d.Notifier.Active()
		if active == nil {
			active = []notify.Notification{}
		}
		writeJSON(w, http.StatusOK, notificationsResponse{Notifications: active})
	}
}

// NotificationClick clears a notification and sends the browser to the
// dashboard. Unknown ids still redirect.
func NotificationClick(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, _ := d.Notifier.Click(r.Context(), chi.URLParam(r, "id"))
		http.Redirect(w, r, target, http.StatusFound)
	}
}
