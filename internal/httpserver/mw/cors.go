package mw

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/cors"
)

var extensionSchemes = []string{"chrome-extension://", "moz-extension://", "safari-web-extension://"}

// allowOrigin accepts the browser extension and local dashboards.
func allowOrigin(_ *http.Request, origin string) bool {
	for _, scheme := range extensionSchemes {
		if strings.HasPrefix(origin, scheme) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// CORS lets the extension and local dashboard call the API.
func CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc:  allowOrigin,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           600,
	})
}
