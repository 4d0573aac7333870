package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/MrSnakeDoc/quickbasket/internal/catalog"
	"github.com/MrSnakeDoc/quickbasket/internal/domain"
	"github.com/MrSnakeDoc/quickbasket/internal/tracker"
)

const maxBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, tracker.Result{Error: message})
}

// decode reads a bounded JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// statusFor maps an operation result to an HTTP status.
func statusFor(res tracker.Result) int {
	if res.Success {
		return http.StatusOK
	}
	err := res.Err
	var apiErr *catalog.APIError
	switch {
	case errors.Is(err, domain.ErrInvalidURL), errors.Is(err, domain.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotTracked):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOffline):
		return http.StatusServiceUnavailable
	case catalog.IsValidation(err) && errors.As(err, &apiErr):
		return apiErr.Status
	case catalog.IsTransient(err):
		return http.StatusBadGateway
	case err == nil:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeResult(w http.ResponseWriter, res tracker.Result) {
	writeJSON(w, statusFor(res), res)
}
