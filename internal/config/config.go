// Package config loads the service configuration. Values come from struct
// defaults, then an optional YAML file, then ORRERY_* environment variables.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/star/orrery/internal/api"
	"github.com/star/orrery/internal/auth"
	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/logging"
	"github.com/star/orrery/internal/scene"
	"github.com/star/orrery/internal/stream"
	"github.com/star/orrery/internal/validation"
	"github.com/star/orrery/internal/view"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Ephemeris EphemerisConfig `koanf:"ephemeris"`
	Cache     CacheConfig     `koanf:"cache"`
	Timeline  TimelineConfig  `koanf:"timeline"`
	Render    RenderConfig    `koanf:"render"`
	Camera    CameraConfig    `koanf:"camera"`
	Stream    StreamConfig    `koanf:"stream"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	TrustProxy      bool          `koanf:"trust_proxy"`
	RangeRateLimit  int           `koanf:"range_rate_limit" validate:"min=1"` // range selections per minute per client
}

type AuthConfig struct {
	Enabled bool   `koanf:"enabled"`
	Token   string `koanf:"token" validate:"required_if=Enabled true"`
}

type EphemerisConfig struct {
	BaseURL           string        `koanf:"base_url" validate:"required,url"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
	Retries           int           `koanf:"retries" validate:"min=0,max=10"`
	RetryDelay        time.Duration `koanf:"retry_delay" validate:"gte=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int           `koanf:"burst" validate:"gte=0"`
	Concurrency       int           `koanf:"concurrency" validate:"gte=0"`
	BreakerFailures   uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
	DefaultStart      string        `koanf:"default_start" validate:"required"`
	DefaultStop       string        `koanf:"default_stop" validate:"required"`
	DefaultStep       string        `koanf:"default_step" validate:"required,horizons_step"`
}

type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Dir        string        `koanf:"dir"` // empty keeps the cache in memory
	MaxAge     time.Duration `koanf:"max_age" validate:"gt=0"`
	GCInterval time.Duration `koanf:"gc_interval" validate:"gt=0"`
}

type TimelineConfig struct {
	TickInterval time.Duration `koanf:"tick_interval" validate:"gt=0"`
	Autoplay     bool          `koanf:"autoplay"`
}

type RenderConfig struct {
	FPS int `koanf:"fps" validate:"min=1,max=240"`
}

// CameraConfig uses degrees for angles.
type CameraConfig struct {
	FOV         float64 `koanf:"fov" validate:"gt=0,lt=180"`
	Distance    float64 `koanf:"distance" validate:"gt=0"`
	MinDistance float64 `koanf:"min_distance" validate:"gt=0"`
	MaxDistance float64 `koanf:"max_distance" validate:"gt=0"`
	Damping     float64 `koanf:"damping" validate:"gt=0,lte=1"`
	MinPolar    float64 `koanf:"min_polar" validate:"gte=0,lte=180"`
	MaxPolar    float64 `koanf:"max_polar" validate:"gt=0,lte=180"`
}

type StreamConfig struct {
	MaxConcurrentPerIP int           `koanf:"max_concurrent_per_ip" validate:"min=1"`
	MaxTotal           int           `koanf:"max_total" validate:"min=1"`
	KeepaliveInterval  time.Duration `koanf:"keepalive_interval" validate:"gt=0"`
	DefaultFPS         int           `koanf:"default_fps" validate:"min=1"`
	MaxFPS             int           `koanf:"max_fps" validate:"min=1,max=120"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RangeRateLimit:  30,
		},
		Ephemeris: EphemerisConfig{
			BaseURL:           "https://ssd.jpl.nasa.gov/api/horizons.api",
			Timeout:           30 * time.Second,
			Retries:           2,
			RetryDelay:        time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
			DefaultStart:      "2024-10-01",
			DefaultStop:       "2024-10-06",
			DefaultStep:       "1 d",
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxAge:     24 * time.Hour,
			GCInterval: 10 * time.Minute,
		},
		Timeline: TimelineConfig{
			TickInterval: time.Second,
			Autoplay:     true,
		},
		Render: RenderConfig{
			FPS: 60,
		},
		Camera: CameraConfig{
			FOV:         125,
			Distance:    60,
			MinDistance: 5,
			MaxDistance: 500,
			Damping:     0.05,
			MinPolar:    0,
			MaxPolar:    90,
		},
		Stream: StreamConfig{
			MaxConcurrentPerIP: 4,
			MaxTotal:           256,
			KeepaliveInterval:  15 * time.Second,
			DefaultFPS:         30,
			MaxFPS:             60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks field rules and the cross-field constraints.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if _, err := c.DefaultRange(); err != nil {
		return fmt.Errorf("ephemeris default range: %w", err)
	}
	if c.Camera.MinDistance > c.Camera.MaxDistance {
		return fmt.Errorf("camera.min_distance %.1f exceeds camera.max_distance %.1f", c.Camera.MinDistance, c.Camera.MaxDistance)
	}
	if c.Camera.Distance < c.Camera.MinDistance || c.Camera.Distance > c.Camera.MaxDistance {
		return fmt.Errorf("camera.distance %.1f outside [%.1f, %.1f]", c.Camera.Distance, c.Camera.MinDistance, c.Camera.MaxDistance)
	}
	if c.Camera.MinPolar >= c.Camera.MaxPolar {
		return fmt.Errorf("camera.min_polar must be below camera.max_polar")
	}
	if c.Stream.DefaultFPS > c.Stream.MaxFPS {
		return fmt.Errorf("stream.default_fps %d exceeds stream.max_fps %d", c.Stream.DefaultFPS, c.Stream.MaxFPS)
	}
	return nil
}

// DefaultRange parses the range selected at startup.
func (c *Config) DefaultRange() (ephemeris.Range, error) {
	return ephemeris.ParseRange(c.Ephemeris.DefaultStart, c.Ephemeris.DefaultStop, c.Ephemeris.DefaultStep)
}

// FetcherConfig returns the Horizons fetcher settings.
func (c *Config) FetcherConfig() ephemeris.FetcherConfig {
	e := c.Ephemeris
	return ephemeris.FetcherConfig{
		BaseURL:           e.BaseURL,
		Timeout:           e.Timeout,
		Retries:           e.Retries,
		RetryDelay:        e.RetryDelay,
		RequestsPerSecond: e.RequestsPerSecond,
		Burst:             e.Burst,
		BreakerFailures:   e.BreakerFailures,
		BreakerTimeout:    e.BreakerTimeout,
	}
}

// ClientConfig returns the multi-body fetch settings.
func (c *Config) ClientConfig() ephemeris.ClientConfig {
	return ephemeris.ClientConfig{Concurrency: c.Ephemeris.Concurrency}
}

// ViewConfig returns the controller settings. The default range is
// selected at startup.
func (c *Config) ViewConfig() (view.Config, error) {
	rng, err := c.DefaultRange()
	if err != nil {
		return view.Config{}, err
	}
	return view.Config{
		TickInterval: c.Timeline.TickInterval,
		FPS:          c.Render.FPS,
		Autoplay:     c.Timeline.Autoplay,
		Controls:     c.ControlsConfig(),
		InitialRange: &rng,
	}, nil
}

// ControlsConfig returns the camera settings with angles in radians.
func (c *Config) ControlsConfig() scene.ControlsConfig {
	cam := c.Camera
	return scene.ControlsConfig{
		FOV:         cam.FOV,
		Distance:    cam.Distance,
		MinDistance: cam.MinDistance,
		MaxDistance: cam.MaxDistance,
		Damping:     cam.Damping,
		MinPolar:    cam.MinPolar * math.Pi / 180,
		MaxPolar:    cam.MaxPolar * math.Pi / 180,
	}
}

// StreamConfig returns the SSE handler settings.
func (c *Config) StreamConfig() stream.Config {
	s := c.Stream
	return stream.Config{
		MaxConcurrentPerIP: s.MaxConcurrentPerIP,
		MaxTotal:           s.MaxTotal,
		KeepaliveInterval:  s.KeepaliveInterval,
		DefaultFPS:         s.DefaultFPS,
		MaxFPS:             s.MaxFPS,
		TrustProxy:         c.Server.TrustProxy,
	}
}

// APIConfig returns the HTTP server settings.
func (c *Config) APIConfig() api.Config {
	s := c.Server
	return api.Config{
		Addr:            s.Addr,
		ReadTimeout:     s.ReadTimeout,
		WriteTimeout:    s.WriteTimeout,
		IdleTimeout:     s.IdleTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
		CORSOrigins:     s.CORSOrigins,
		TrustProxy:      s.TrustProxy,
		RangeRateLimit:  s.RangeRateLimit,
		Auth:            auth.Config{Enabled: c.Auth.Enabled, Token: c.Auth.Token},
	}
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}
