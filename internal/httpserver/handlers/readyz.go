package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready            bool   `json:"ready"`
	ProjectionLoaded bool   `json:"projection_loaded"`
	Redis            string `json:"redis"`
}

// Readyz reports ready once the projection is loaded and Redis answers.
// A memory-only engine only needs the projection.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := readyzResponse{
			ProjectionLoaded: d.Projection.Loaded(),
			Redis:            "disabled",
		}
		redisOK := true
		if d.RedisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.RedisClient.Ping(ctx).Err(); err != nil {
				redisOK = false
				res.Redis = "unreachable"
			} else {
				res.Redis = "ok"
			}
		}

		res.Ready = res.ProjectionLoaded && redisOK
		status := http.StatusOK
		if !res.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, res)
	}
}
