package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/MrSnakeDoc/quickbasket/internal/utils"
)

type RateLimitConfig struct {
	RequestsPerMin int
	TrustProxy     bool // resolve IP from proxy headers when true
}

// RateLimit limits requests per client IP over a sliding one-minute window.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestsPerMin < 1 {
		cfg.RequestsPerMin = 1
	}
	return httprate.Limit(
		cfg.RequestsPerMin,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return utils.ClientIP(r, cfg.TrustProxy), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(60))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
}
