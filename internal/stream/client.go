package stream

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/star/orrery/internal/metrics"
)

// writeTimeout bounds each event write; the connection itself has no deadline.
const writeTimeout = 30 * time.Second

// client writes SSE events to one connection. Not safe for concurrent use.
type client struct {
	id     string
	ip     string
	w      io.Writer
	rc     *http.ResponseController
	logger *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// sendJSON writes v as a "data:" event. kind labels it in metrics.
func (c *client) sendJSON(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", kind, err)
	}
	return c.write(kind, "data: %s\n\n", data)
}

// sendRetry sets the client's reconnect delay.
func (c *client) sendRetry(d time.Duration) error {
	return c.write("", "retry: %d\n\n", d.Milliseconds())
}

// sendKeepalive writes an SSE comment.
func (c *client) sendKeepalive() error {
	return c.write("", ":\n\n")
}

// write frames one event and flushes it. Comments and control lines pass
// an empty kind and do not count as messages.
func (c *client) write(kind, format string, args ...any) error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "component", "stream", "client_id", c.id, "error", err)
	}
	n, err := fmt.Fprintf(c.w, format, args...)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := c.rc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	c.bytesSent += int64(n)
	metrics.AddStreamBytes(n)
	if kind != "" {
		c.messagesSent++
		metrics.IncStreamMessages(kind)
	}
	return nil
}
