package handlers

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/deps"
)

type engineHealth struct {
	Online  bool `json:"online"`
	Tracked int  `json:"tracked"`
	Loaded  bool `json:"loaded"`
}

type healthzResponse struct {
	Status        string        `json:"status"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Version       string        `json:"version,omitempty"`
	Commit        string        `json:"commit,omitempty"`
	Engine        *engineHealth `json:"engine,omitempty"`
}

// Healthz is the liveness probe. It never fails once the server answers;
// readiness lives in Readyz.
func Healthz(d deps.Deps) http.HandlerFunc {
	now := d.TimeNow
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthzResponse{
			Status:        "ok",
			UptimeSeconds: now().Sub(d.StartTime).Seconds(),
			Version:       d.Version,
			Commit:        d.Commit,
		}
		if d.Projection != nil {
			resp.Engine = &engineHealth{
				Tracked: d.Projection.Count(),
				Loaded:  d.Projection.Loaded(),
			}
			if d.Connectivity != nil {
				resp.Engine.Online = d.Connectivity.State().IsOnline
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
