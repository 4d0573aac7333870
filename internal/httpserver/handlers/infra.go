package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/deps"
)

type componentStatus struct {
	OK     bool   `json:"ok"`
	Mode   string `json:"mode,omitempty"`
	Count  *int   `json:"count,omitempty"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := d.Projection.Count()
		offlineSize := d.Offline.Len(r.Context())
		stats := d.Scrapes.Stats()
		conn := d.Connectivity.State()

		lastChecked := "never"
		if !conn.LastCheckedAt.IsZero() {
			lastChecked = conn.LastCheckedAt.Format(time.RFC3339)
		}

		components := map[string]componentStatus{
			"projection": {
				OK:    d.Projection.Loaded(),
				Count: &items,
			},
			"connectivity": {
				OK:     conn.IsOnline,
				Mode:   connectivityMode(conn.IsOnline, conn.ServerConnected),
				Detail: "last checked " + lastChecked,
			},
			"scraper": {
				OK:     true,
				Count:  &stats.Running,
				Detail: formatQueue(stats.Running, stats.Max, stats.Queued),
			},
			"offline_queue": {
				OK:    offlineSize == 0 || !conn.IsOnline,
				Count: &offlineSize,
			},
			"redis": checkRedis(r.Context(), d),
		}
		if d.CatalogBreaker != nil {
			state := d.CatalogBreaker()
			components["catalog"] = componentStatus{OK: state != "open", Mode: "breaker " + state}
		}

		writeJSON(w, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func connectivityMode(online, server bool) string {
	switch {
	case !online:
		return "offline"
	case !server:
		return "network-only"
	}
	return "online"
}

func formatQueue(running, max, queued int) string {
	return fmt.Sprintf("%d/%d running, %d queued", running, max, queued)
}

func determineMode(components map[string]componentStatus) string {
	if c := components["connectivity"]; !c.OK {
		return "offline" // alarms queue until connectivity returns
	}
	for _, name := range []string{"redis", "catalog", "projection"} {
		if c, ok := components[name]; ok && !c.OK {
			return "degraded"
		}
	}
	return "operational"
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{OK: true, Mode: "memory-only"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:    false,
			Mode:  "degraded",
			Error: "timeout",
		}
	}
	return componentStatus{OK: true, Mode: "persistent"}
}
