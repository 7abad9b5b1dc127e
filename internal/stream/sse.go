// Package stream implements Server-Sent Events (SSE) streaming of rendered
// frames. Clients connect via GET /api/v1/stream/frames and receive the
// scene as the view loop draws it.
//
// SSE message format:
//
//	data: {"type":"frame","seq":812,"index":3,"total":6,"running":true,"bodies":[...],"camera":{...}}\n\n
//
// First message is always metadata (static body configuration):
//
//	data: {"type":"metadata","client_id":"...","fps":30,"bodies":[{"id":"earth","radius":2.6,...}]}\n\n
//
// A trails message precedes the first frame and is resent whenever the
// orbit trails are rebuilt. Keep-alive comments (:\n\n) are sent every
// KeepaliveInterval while no frames flow. Reconnecting clients receive a
// fresh metadata and trails message on each connection.
package stream

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orrery/internal/bodies"
	"github.com/star/orrery/internal/httputil"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/render"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 4).
	MaxTotal           int           // Max concurrent streams overall (default: 256).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 15s).
	DefaultFPS         int           // Frame rate when the client does not ask (default: 30).
	MaxFPS             int           // Highest frame rate a client may request (default: 60).
	TrustProxy         bool          // Take the client IP from X-Forwarded-For.
}

// Handler manages SSE streaming connections.
type Handler struct {
	hub      *Hub
	registry *bodies.Registry
	config   Config
	limiter  *streamLimiter
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(hub *Hub, registry *bodies.Registry, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP < 1 {
		config.MaxConcurrentPerIP = 4
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 15 * time.Second
	}
	if config.MaxFPS < 1 {
		config.MaxFPS = 60
	}
	if config.DefaultFPS < 1 || config.DefaultFPS > config.MaxFPS {
		config.DefaultFPS = min(30, config.MaxFPS)
	}
	return &Handler{
		hub:      hub,
		registry: registry,
		config:   config,
		limiter:  newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:   logger,
	}
}

// Active returns the number of open streams.
func (h *Handler) Active() int {
	return h.limiter.active()
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HandleFrames serves the SSE frame stream.
// GET /api/v1/stream/frames?fps=30
func (h *Handler) HandleFrames(w http.ResponseWriter, r *http.Request) {
	fps := h.config.DefaultFPS
	if v := r.URL.Query().Get("fps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > h.config.MaxFPS {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid fps parameter, must be 1-%d", h.config.MaxFPS))
			return
		}
		fps = n
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	release, rejected := h.limiter.admit(ip)
	if rejected != "" {
		metrics.IncStreamErrors(string(rejected))
		h.logger.Warn("stream rejected",
			"component", "stream",
			"reason", string(rejected),
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
			"active", h.limiter.active(),
		)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}
	defer release()

	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := uuid.NewString()
	metrics.IncStreamConnections()
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"component", "stream",
		"client_id", id,
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"fps", fps,
	)

	c := &client{id: id, ip: ip, w: w, rc: http.NewResponseController(w), logger: h.logger}
	defer func() {
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"component", "stream",
			"client_id", id,
			"remote_ip", ip,
			"messages", c.messagesSent,
			"bytes", c.bytesSent,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)

	// The server WriteTimeout would cut the stream; each write sets its own deadline.
	if err := c.rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "component", "stream", "client_id", id, "error", err)
	}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	if err := c.sendRetry(3*time.Second + rand.N(4*time.Second)); err != nil {
		return
	}

	if err := c.sendJSON("metadata", h.metadata(id, fps)); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "client_id", id, "error", err)
		return
	}

	closed := h.hub.Done()
	notify, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	pending := true
	var lastSeq, trailsVer uint64
	var trailsSent bool

	for {
		select {
		case <-ctx.Done():
			return

		case <-closed:
			return

		case <-notify:
			pending = true

		case <-ticker.C:
			if !pending {
				continue
			}
			pending = false

			f, trails, version, ok := h.hub.snapshot()
			if !ok || f.Seq == lastSeq {
				continue
			}

			if !trailsSent || version != trailsVer {
				if err := c.sendJSON("trails", buildTrailsMessage(trails, version)); err != nil {
					metrics.IncStreamErrors("send_error")
					h.logger.Warn("stream send error (trails)", "client_id", id, "error", err)
					return
				}
				trailsSent = true
				trailsVer = version
			}

			if err := c.sendJSON("frame", buildFrameMessage(f)); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "client_id", id, "error", err)
				return
			}
			lastSeq = f.Seq

			// Reset keepalive since we just sent data.
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "client_id", id, "error", err)
				return
			}
		}
	}
}

func (h *Handler) metadata(id string, fps int) metadataMessage {
	ordered := h.registry.Ordered()
	bs := make([]bodyInfo, len(ordered))
	for i, b := range ordered {
		bs[i] = bodyInfo{
			ID:      b.ID,
			Name:    b.Name,
			Radius:  b.Radius,
			Color:   b.Color,
			Primary: b.Primary,
		}
	}
	return metadataMessage{Type: "metadata", ClientID: id, FPS: fps, Bodies: bs}
}

// snapshot returns the latest frame together with the trails it was drawn with.
func (h *Hub) snapshot() (render.Frame, map[string][]r3.Vec, uint64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frame, h.trails, h.trailVersion, h.hasFrame
}

func vec3(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func buildFrameMessage(f render.Frame) frameMessage {
	bs := make([]bodyPayload, len(f.Bodies))
	for i, b := range f.Bodies {
		bs[i] = bodyPayload{ID: b.ID, P: vec3(b.Position), D: b.HasData}
	}
	return frameMessage{
		Type:    "frame",
		Seq:     f.Seq,
		Index:   f.Index,
		Total:   f.Total,
		Running: f.Running,
		Bodies:  bs,
		Camera: cameraPayload{
			P:   vec3(f.Camera.Position),
			Up:  vec3(f.Camera.Up),
			T:   vec3(f.Camera.Target),
			FOV: f.Camera.FOV,
		},
	}
}

func buildTrailsMessage(trails map[string][]r3.Vec, version uint64) trailsMessage {
	out := make(map[string][][3]float64, len(trails))
	for id, tr := range trails {
		pts := make([][3]float64, len(tr))
		for i, p := range tr {
			pts[i] = vec3(p)
		}
		out[id] = pts
	}
	return trailsMessage{Type: "trails", Version: version, Trails: out}
}

// SSE message payload types.

type metadataMessage struct {
	Type     string     `json:"type"`
	ClientID string     `json:"client_id"`
	FPS      int        `json:"fps"`
	Bodies   []bodyInfo `json:"bodies"`
}

type bodyInfo struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Radius  float64 `json:"radius"`
	Color   string  `json:"color"`
	Primary string  `json:"primary,omitempty"`
}

type trailsMessage struct {
	Type    string                  `json:"type"`
	Version uint64                  `json:"version"`
	Trails  map[string][][3]float64 `json:"trails"`
}

type frameMessage struct {
	Type    string        `json:"type"`
	Seq     uint64        `json:"seq"`
	Index   int           `json:"index"`
	Total   int           `json:"total"`
	Running bool          `json:"running"`
	Bodies  []bodyPayload `json:"bodies"`
	Camera  cameraPayload `json:"camera"`
}

type bodyPayload struct {
	ID string     `json:"id"`
	P  [3]float64 `json:"p"`
	D  bool       `json:"d"` // has ephemeris data
}

type cameraPayload struct {
	P   [3]float64 `json:"p"`
	Up  [3]float64 `json:"up"`
	T   [3]float64 `json:"t"`
	FOV float64    `json:"fov"`
}
