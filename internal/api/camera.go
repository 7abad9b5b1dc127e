package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/star/orrery/internal/scene"
	"github.com/star/orrery/internal/view"
)

const (
	cameraReadLimit  = 512
	cameraPongWait   = 60 * time.Second
	cameraPingPeriod = 25 * time.Second
	cameraWriteWait  = 5 * time.Second

	// maxRotate bounds one rotate message, in radians.
	maxRotate = math.Pi
	// zoom factors outside this band are rejected.
	minZoomFactor = 0.1
	maxZoomFactor = 10
)

// cameraInput is one client message: {"type":"rotate","dx":0.1,"dy":-0.05}
// or {"type":"zoom","factor":1.1}.
type cameraInput struct {
	Type   string  `json:"type"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	Factor float64 `json:"factor"`
}

type cameraPayload struct {
	Position [3]float64 `json:"p"`
	Up       [3]float64 `json:"up"`
	Target   [3]float64 `json:"t"`
	FOV      float64    `json:"fov"`
}

func cameraResponse(cs scene.CameraState) cameraPayload {
	return cameraPayload{
		Position: [3]float64{cs.Position.X, cs.Position.Y, cs.Position.Z},
		Up:       [3]float64{cs.Up.X, cs.Up.Y, cs.Up.Z},
		Target:   [3]float64{cs.Target.X, cs.Target.Y, cs.Target.Z},
		FOV:      cs.FOV,
	}
}

type cameraReply struct {
	Type   string         `json:"type"` // "camera" or "error"
	Camera *cameraPayload `json:"camera,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// cameraSocket feeds websocket input into the view's orbit controls.
type cameraSocket struct {
	controller Controller
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

func newCameraSocket(c Controller, origins []string, logger *slog.Logger) *cameraSocket {
	return &cameraSocket{
		controller: c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      originChecker(origins),
		},
		logger: logger,
	}
}

// originChecker accepts same-host origins, requests without an Origin
// header, and any origin listed in allowed ("*" allows all).
func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		if set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// GET /api/v1/camera/ws
func (s *cameraSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("camera websocket upgrade failed", "component", "api", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Debug("camera websocket connected", "component", "api", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	write := func(fn func() error) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(cameraWriteWait))
		return fn()
	}

	conn.SetReadLimit(cameraReadLimit)
	conn.SetReadDeadline(time.Now().Add(cameraPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cameraPongWait))
	})

	go func() {
		ticker := time.NewTicker(cameraPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := write(func() error {
					return conn.WriteMessage(websocket.PingMessage, nil)
				}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("camera websocket read error", "component", "api", "error", err)
			}
			return
		}

		reply := s.handle(ctx, data)
		if err := write(func() error { return conn.WriteJSON(reply) }); err != nil {
			return
		}
	}
}

// handle applies one message and returns the reply to send.
func (s *cameraSocket) handle(ctx context.Context, data []byte) cameraReply {
	var in cameraInput
	if err := json.Unmarshal(data, &in); err != nil {
		return cameraReply{Type: "error", Error: "invalid message"}
	}

	var err error
	switch in.Type {
	case "rotate":
		if !finite(in.DX) || !finite(in.DY) || math.Abs(in.DX) > maxRotate || math.Abs(in.DY) > maxRotate {
			return cameraReply{Type: "error", Error: "rotate dx and dy must be finite radians within [-pi, pi]"}
		}
		err = s.controller.Rotate(ctx, in.DX, in.DY)
	case "zoom":
		if !finite(in.Factor) || in.Factor < minZoomFactor || in.Factor > maxZoomFactor {
			return cameraReply{Type: "error", Error: "zoom factor must be within [0.1, 10]"}
		}
		err = s.controller.Zoom(ctx, in.Factor)
	default:
		return cameraReply{Type: "error", Error: "unknown message type"}
	}
	if err != nil {
		if errors.Is(err, view.ErrNotRunning) {
			return cameraReply{Type: "error", Error: "view is not running"}
		}
		return cameraReply{Type: "error", Error: err.Error()}
	}

	cs, err := s.controller.Camera(ctx)
	if err != nil {
		return cameraReply{Type: "error", Error: err.Error()}
	}
	p := cameraResponse(cs)
	return cameraReply{Type: "camera", Camera: &p}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
