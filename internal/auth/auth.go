// Package auth guards the control endpoints with a static bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
}

// TokenParam carries the token for websocket upgrades, which browsers
// cannot send with an Authorization header.
const TokenParam = "access_token"

// guardedReads are read-method paths that still need the token: the camera
// websocket is opened with GET but feeds input into the view.
var guardedReads = map[string]bool{
	"/api/v1/camera/ws": true,
}

// requiresToken reports whether r changes view state. Reads are public.
func requiresToken(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return guardedReads[r.URL.Path]
	default:
		return true
	}
}

func requestToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return ""
		}
		return token
	}
	if guardedReads[r.URL.Path] {
		return r.URL.Query().Get(TokenParam)
	}
	return ""
}

// Middleware returns an HTTP middleware that enforces Bearer token auth
// on control requests when auth is enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || !requiresToken(r) {
				next.ServeHTTP(w, r)
				return
			}

			token := requestToken(r)
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="orrery"`)
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
