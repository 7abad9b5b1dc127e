package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(Config{Enabled: true, Token: "s3cret"})(ok)

	tests := []struct {
		name   string
		method string
		target string
		header string
		want   int
	}{
		{"read is public", "GET", "/api/v1/timeline", "", http.StatusNoContent},
		{"stream is public", "GET", "/api/v1/stream/frames", "", http.StatusNoContent},
		{"post without token", "POST", "/api/v1/timeline/play", "", http.StatusUnauthorized},
		{"post wrong token", "POST", "/api/v1/range", "Bearer nope", http.StatusUnauthorized},
		{"post not bearer", "POST", "/api/v1/range", "Basic s3cret", http.StatusUnauthorized},
		{"post with token", "POST", "/api/v1/range", "Bearer s3cret", http.StatusNoContent},
		{"websocket without token", "GET", "/api/v1/camera/ws", "", http.StatusUnauthorized},
		{"websocket query token", "GET", "/api/v1/camera/ws?access_token=s3cret", "", http.StatusNoContent},
		{"websocket header token", "GET", "/api/v1/camera/ws", "Bearer s3cret", http.StatusNoContent},
		{"query token ignored for posts", "POST", "/api/v1/range?access_token=s3cret", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	h := Middleware(Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/range", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}
