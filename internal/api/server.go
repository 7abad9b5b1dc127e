// Package api wires the HTTP surface: probes, metrics, the control API, the
// camera websocket, the frame stream and the embedded web UI.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/star/orrery/internal/auth"
	"github.com/star/orrery/internal/bodies"
	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/health"
	"github.com/star/orrery/internal/httputil"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/scene"
	"github.com/star/orrery/internal/timeline"
)

// Controller is the view surface the API drives. *view.Controller
// implements it.
type Controller interface {
	Ready() bool
	SelectRange(ctx context.Context, rng ephemeris.Range) (string, error)
	Play(ctx context.Context) (timeline.State, error)
	Pause(ctx context.Context) (timeline.State, error)
	Toggle(ctx context.Context) (timeline.State, error)
	State(ctx context.Context) (timeline.State, error)
	Rotate(ctx context.Context, dx, dy float64) error
	Zoom(ctx context.Context, factor float64) error
	Camera(ctx context.Context) (scene.CameraState, error)
}

// Config holds HTTP server settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	TrustProxy      bool
	RangeRateLimit  int // POST /api/v1/range per client per minute
	Auth            auth.Config
}

// Deps are the components behind the routes.
type Deps struct {
	Controller Controller
	Registry   *bodies.Registry
	Store      *ephemeris.Store
	Frames     http.HandlerFunc // SSE frame stream
	Web        fs.FS            // static UI; nil disables it
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	config     Config
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RangeRateLimit < 1 {
		cfg.RangeRateLimit = 30
	}
	h := &handlers{deps: deps, logger: logger}

	r := chi.NewRouter()

	// Middleware chain: metrics -> logging -> recover -> cors -> auth -> routes.
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger, cfg.TrustProxy))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(auth.Middleware(cfg.Auth))

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz(deps.Controller.Ready))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/bodies", h.listBodies)
		r.Get("/bodies/{id}", h.getBody)

		r.Get("/timeline", h.timelineState)
		r.Post("/timeline/play", h.timelineCommand(deps.Controller.Play))
		r.Post("/timeline/pause", h.timelineCommand(deps.Controller.Pause))
		r.Post("/timeline/toggle", h.timelineCommand(deps.Controller.Toggle))

		r.With(httprate.Limit(
			cfg.RangeRateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httputil.KeyFunc(cfg.TrustProxy)),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusTooManyRequests, "too many range selections")
			}),
		)).Post("/range", h.selectRange)

		r.Get("/ephemeris/status", h.ephemerisStatus)
		r.Get("/camera", h.cameraState)
		r.Get("/camera/ws", newCameraSocket(deps.Controller, cfg.CORSOrigins, logger).ServeHTTP)

		if deps.Frames != nil {
			r.Get("/stream/frames", deps.Frames)
		}
	})

	if deps.Web != nil {
		r.Handle("/*", http.FileServer(http.FS(deps.Web)))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		config: cfg,
		logger: logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("http server listening",
		"component", "api",
		"addr", ln.Addr().String(),
		"auth_enabled", s.config.Auth.Enabled,
	)

	errc := make(chan error, 1)
	go func() {
		errc <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down http server", "component", "api")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", "component", "api", "error", err)
		s.httpServer.Close()
	}
	<-errc
	return ctx.Err()
}

func (s *Server) String() string {
	return "http-server"
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
