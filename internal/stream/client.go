package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/trackgo/internal/metrics"
)

// client manages a single SSE connection's write operations.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	ip      string
	logger  *slog.Logger
	metrics *metrics.Collector

	// budget is the byte allowance per second; zero is unlimited.
	budget      int
	windowStart time.Time
	windowBytes int

	messagesSent int64
	bytesSent    int64
}

// errOverBudget reports a message skipped by the bandwidth limit.
var errOverBudget = errors.New("bandwidth limit reached")

// sendJSON marshals v and sends it as an SSE "data:" message.
func (c *client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	msg := "data: " + string(data) + "\n\n"
	if !c.allow(len(msg), time.Now()) {
		return errOverBudget
	}
	n, err := c.write(msg)
	if err != nil {
		return err
	}
	c.messagesSent++
	c.metrics.StreamSent(n, true)
	return nil
}

// sendKeepalive sends an SSE comment line to keep the connection alive.
func (c *client) sendKeepalive() error {
	n, err := c.write(":\n\n")
	if err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}
	c.metrics.StreamSent(n, false)
	return nil
}

func (c *client) write(s string) (int, error) {
	// Extend the write deadline per write; the server-wide timeout was
	// cleared for this connection.
	if err := c.rc.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := fmt.Fprint(c.w, s)
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	c.flusher.Flush()
	c.bytesSent += int64(n)
	return n, nil
}

// allow charges n bytes to the current one-second window.
func (c *client) allow(n int, now time.Time) bool {
	if c.budget <= 0 {
		return true
	}
	if now.Sub(c.windowStart) >= time.Second {
		c.windowStart, c.windowBytes = now, 0
	}
	if c.windowBytes+n > c.budget {
		return false
	}
	c.windowBytes += n
	return true
}
