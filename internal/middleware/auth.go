package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"stocksync/pkg/apierror"
)

// HeaderAdminKey carries the operator key on admin routes.
const HeaderAdminKey = "X-Admin-Key"

// AuthConfig holds configuration for the admin auth middleware.
type AuthConfig struct {
	// AdminKeys are accepted operator keys. An empty list rejects every request.
	AdminKeys []string
}

// NewAdminAuth guards the admin API with a static key sent as X-Admin-Key
// or as a bearer token.
func NewAdminAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	keys := make([]string, 0, len(cfg.AdminKeys))
	for _, k := range cfg.AdminKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderAdminKey)
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if key == "" {
				writeError(w, apierror.Unauthorized("Authentication required. Use the X-Admin-Key header."))
				return
			}
			if !isValidKey(key, keys) {
				writeError(w, apierror.Unauthorized("Invalid admin key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	w.Write(err.ToJSON())
}

// isValidKey checks key against validKeys in constant time per candidate.
func isValidKey(key string, validKeys []string) bool {
	ok := false
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			ok = true
		}
	}
	return ok
}
