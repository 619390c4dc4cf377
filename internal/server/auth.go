package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireKey rejects API calls that do not carry the configured key as a
// bearer token or an x-api-key header. An empty key or "-" disables the check.
func requireKey(key string) func(http.Handler) http.Handler {
	key = strings.TrimSpace(key)
	return func(next http.Handler) http.Handler {
		if key == "" || key == "-" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAuthorized(r, key) {
				writeError(w, http.StatusUnauthorized, "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isAuthorized(r *http.Request, requiredKey string) bool {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" && keyEqual(token, requiredKey) {
		return true
	}
	if key := strings.TrimSpace(r.Header.Get("x-api-key")); key != "" && keyEqual(key, requiredKey) {
		return true
	}
	return false
}

func keyEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func bearerToken(authorizationValue string) string {
	parts := strings.Fields(authorizationValue)
	if len(parts) < 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
