// Package httputil holds request helpers shared by the API and stream handlers.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address used to key per-client limits.
// With trustProxy, the leftmost parseable X-Forwarded-For entry wins, then
// X-Real-IP; otherwise, or when neither header holds an IP, the host part of
// RemoteAddr is used. Enable trustProxy only behind a reverse proxy that
// overwrites these headers.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := forwardedIP(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// KeyFunc adapts ClientIP to the key function signature used by httprate.
func KeyFunc(trustProxy bool) func(*http.Request) (string, error) {
	return func(r *http.Request) (string, error) {
		return ClientIP(r, trustProxy), nil
	}
}

func forwardedIP(xff string) string {
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	return parseIP(first)
}

// parseIP returns s in canonical form, or "" when it is not an IP.
func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
