package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/quickbasket/internal/domain"
	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/deps"
)

type trackRequest struct {
	URL     string          `json:"url"`
	Product domain.Snapshot `json:"product"`
}

type alarmRequest struct {
	NextRunAt time.Time `json:"nextRunAt"`
}

type intervalRequest struct {
	UpdateInterval int `json:"updateInterval"`
}

type productsResponse struct {
	Products []*domain.TrackedItem `json:"products"`
	Count    int                   `json:"count"`
}

func Products(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := d.Tracker.Products()
		writeJSON(w, http.StatusOK, productsResponse{Products: items, Count: len(items)})
	}
}

func Track(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req trackRequest
		if err := decode(w, r, &req); err != nil || req.URL == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}
		writeResult(w, d.Tracker.TrackProduct(r.Context(), req.URL, req.Product))
	}
}

func ScrapeNow(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, d.Tracker.TriggerScrapeNow(r.Context()))
	}
}

func ProductAlarm(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req alarmRequest
		if err := decode(w, r, &req); err != nil || req.NextRunAt.IsZero() {
			writeError(w, http.StatusBadRequest, "nextRunAt must be an RFC 3339 timestamp")
			return
		}
		writeResult(w, d.Tracker.UpdateProductAlarm(r.Context(), chi.URLParam(r, "id"), req.NextRunAt))
	}
}

func ProductInterval(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req intervalRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "updateInterval is required")
			return
		}
		writeResult(w, d.Tracker.ChangeInterval(r.Context(), chi.URLParam(r, "id"), req.UpdateInterval))
	}
}

func DeleteProduct(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, d.Tracker.Remove(r.Context(), chi.URLParam(r, "id")))
	}
}

func Connectivity(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Connectivity.State())
	}
}
