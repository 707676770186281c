package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyMiddleware gates the API behind a static key set. Session and
// token validation live in front of this service; the dispatch engine
// itself never sees credentials. With no keys configured the check is
// disabled, which is the development default.
func APIKeyMiddleware(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 || exemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			provided := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if provided == "" {
				writeError(w, http.StatusUnauthorized, "missing_api_key", "X-API-Key header is required")
				return
			}
			for _, key := range keys {
				if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusUnauthorized, "invalid_api_key", "invalid API key")
		})
	}
}

func exemptPath(path string) bool {
	if path == "/healthz" || path == "/metrics" {
		return true
	}
	return strings.HasPrefix(path, "/realtime")
}
