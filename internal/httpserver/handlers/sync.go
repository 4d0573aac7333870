package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
)

type syncResponse struct {
	Triggered bool   `json:"triggered"`
	Message   string `json:"message"`
}

// Sync asks the reconciler for a pass without waiting for it.
func Sync(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.SyncTrigger() {
			d.Logger.Info("manual sync triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			writeJSON(w, http.StatusAccepted, syncResponse{Triggered: true, Message: "Sync triggered"})
			return
		}
		d.Logger.Warn("sync already pending",
			logger.String("remote_ip", r.RemoteAddr))
		writeJSON(w, http.StatusTooManyRequests, syncResponse{Message: "Sync already pending, please wait"})
	}
}
