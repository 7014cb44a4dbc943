package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware guards a route group with the configured credentials.
// Both schemes are checked; either one admits the request.
func authMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authorized(cfg, r) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func authorized(cfg AuthConfig, r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if header == "" {
		return false
	}

	if cfg.BearerToken != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && constantTimeEqual(token, cfg.BearerToken) {
			return true
		}
	}

	if cfg.BasicUser != "" && cfg.BasicPass != "" {
		user, pass, ok := r.BasicAuth()
		if ok && constantTimeEqual(user, cfg.BasicUser) && constantTimeEqual(pass, cfg.BasicPass) {
			return true
		}
	}

	return false
}

// constantTimeEqual keeps credential comparison timing-independent.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
