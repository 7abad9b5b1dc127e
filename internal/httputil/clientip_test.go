package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newRequest(remoteAddr string, headers map[string]string) *http.Request {
	r := httptest.NewRequest("GET", "/api/v1/stream/frames", nil)
	r.RemoteAddr = remoteAddr
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestClientIP(t *testing.T) {
	const proxied = "10.0.0.3:1234"

	tests := []struct {
		name    string
		addr    string
		headers map[string]string
		trust   bool
		want    string
	}{
		{name: "ipv4 host:port", addr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "ipv6 host:port", addr: "[::1]:12345", want: "::1"},
		{name: "bare address", addr: "192.168.1.1", want: "192.168.1.1"},
		{
			name:    "headers ignored without trust",
			addr:    proxied,
			headers: map[string]string{"X-Forwarded-For": "1.2.3.4", "X-Real-IP": "5.6.7.8"},
			want:    "10.0.0.3",
		},
		{
			name:    "forwarded chain uses leftmost hop",
			addr:    proxied,
			headers: map[string]string{"X-Forwarded-For": " 1.2.3.4 , 10.0.0.1,10.0.0.2"},
			trust:   true,
			want:    "1.2.3.4",
		},
		{
			name:    "forwarded beats real ip",
			addr:    proxied,
			headers: map[string]string{"X-Forwarded-For": "1.2.3.4", "X-Real-IP": "5.6.7.8"},
			trust:   true,
			want:    "1.2.3.4",
		},
		{
			name:    "real ip alone",
			addr:    proxied,
			headers: map[string]string{"X-Real-IP": "5.6.7.8"},
			trust:   true,
			want:    "5.6.7.8",
		},
		{
			name:    "unparseable forwarded skipped",
			addr:    proxied,
			headers: map[string]string{"X-Forwarded-For": "not-an-ip", "X-Real-IP": "5.6.7.8"},
			trust:   true,
			want:    "5.6.7.8",
		},
		{
			name:    "ipv6 canonical form",
			addr:    proxied,
			headers: map[string]string{"X-Forwarded-For": "2001:DB8:0::1"},
			trust:   true,
			want:    "2001:db8::1",
		},
		{
			name:    "both headers junk",
			addr:    proxied,
			headers: map[string]string{"X-Forwarded-For": "unknown", "X-Real-IP": "also unknown"},
			trust:   true,
			want:    "10.0.0.3",
		},
		{name: "trusted without headers", addr: proxied, trust: true, want: "10.0.0.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRequest(tt.addr, tt.headers)
			if got := ClientIP(r, tt.trust); got != tt.want {
				t.Errorf("ClientIP(trust=%v) = %q, want %q", tt.trust, got, tt.want)
			}
		})
	}
}

func TestKeyFunc(t *testing.T) {
	r := newRequest("10.0.0.1:1234", map[string]string{"X-Forwarded-For": "1.2.3.4"})

	for trust, want := range map[bool]string{true: "1.2.3.4", false: "10.0.0.1"} {
		got, err := KeyFunc(trust)(r)
		if err != nil {
			t.Fatalf("KeyFunc(%v): %v", trust, err)
		}
		if got != want {
			t.Errorf("KeyFunc(%v) = %q, want %q", trust, got, want)
		}
	}
}
