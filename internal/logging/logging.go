// Package logging builds the service's *slog.Logger on top of zerolog.
//
// Components log through slog (key/value pairs, a "component" field) while
// zerolog does the encoding, so JSON output stays allocation-light and the
// console format is available for local runs.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error (default: info)
	Format string // json or console (default: json)
	Output io.Writer
}

// New returns a slog.Logger writing through a zerolog logger built from cfg.
func New(cfg Config) *slog.Logger {
	return slog.New(NewSlogHandler(NewZerolog(cfg)))
}

// NewZerolog builds the zerolog backend for cfg.
func NewZerolog(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.MessageFieldName = "msg"

	return zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return New(Config{Level: "disabled", Output: io.Discard})
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "", "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
