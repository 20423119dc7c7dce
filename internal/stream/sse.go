// Package stream implements Server-Sent Events (SSE) streaming of antenna
// mount telemetry. Clients connect via GET /api/v1/stream/mount and receive
// the latest controller status each time it changes.
//
// SSE message format:
//
//	data: {"type":"mount_status","t":"2026-02-06T04:00:00.250Z","attitude":{...},"status":{...}}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","interval_ms":1000,"link_up":true,"station":{...}}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
// Reconnecting clients receive a fresh metadata message on each connection.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/trackgo/internal/httputil"
	"github.com/star/trackgo/internal/metrics"
	"github.com/star/trackgo/internal/protocol"
)

// StatusSource yields the most recent controller telemetry, or nil before
// the first frame arrives.
type StatusSource interface {
	Latest() *protocol.Status
}

// Station describes the site in metadata messages.
type Station struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Tilt      float64 `json:"tilt"`
}

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Max concurrent streams overall (default: 1000).
	BandwidthLimit     int           // Bytes per second per stream; zero is unlimited.
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	StatusInterval     time.Duration // Default poll interval (default: 1s).
	Proxies            httputil.Proxies
}

const (
	minIntervalMs = 100
	maxIntervalMs = 10000
)

// Handler manages SSE streaming connections.
type Handler struct {
	source  StatusSource
	station Station
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewHandler creates a streaming handler. source may be nil when no
// controller link is configured; streams then carry only keepalives.
func NewHandler(source StatusSource, station Station, config Config, logger *slog.Logger, m *metrics.Collector) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 10
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	if config.StatusInterval <= 0 {
		config.StatusInterval = time.Second
	}
	return &Handler{
		source:  source,
		station: station,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:  logger,
		metrics: m,
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HandleMount serves the SSE mount telemetry stream.
// GET /api/v1/stream/mount?interval_ms=1000
func (h *Handler) HandleMount(w http.ResponseWriter, r *http.Request) {
	interval := h.config.StatusInterval
	if v := r.URL.Query().Get("interval_ms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < minIntervalMs || n > maxIntervalMs {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid interval_ms parameter, must be %d-%d", minIntervalMs, maxIntervalMs))
			return
		}
		interval = time.Duration(n) * time.Millisecond
	}

	// Enforce the concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.config.Proxies)
	if !h.limiter.acquire(ip) {
		h.metrics.StreamError("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	h.metrics.StreamConnected()
	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"interval_ms", interval.Milliseconds(),
	)

	defer func() {
		h.limiter.release(ip)
		h.metrics.StreamDisconnected()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
		metrics: h.metrics,
		budget:  h.config.BandwidthLimit,
	}

	// Jittered retry interval (3-7s) spreads reconnections after a restart.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	meta := metadataMessage{
		Type:       "metadata",
		IntervalMs: interval.Milliseconds(),
		LinkUp:     h.source != nil,
		Station:    h.station,
	}
	if err := c.sendJSON(meta); err != nil {
		h.metrics.StreamError("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	var lastTick uint32
	sent := false
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if h.source == nil {
				continue
			}
			s := h.source.Latest()
			if s == nil || (sent && s.Tick == lastTick) {
				continue
			}
			err := c.sendJSON(buildStatusMessage(s))
			if errors.Is(err, errOverBudget) {
				h.metrics.StreamError("bandwidth")
				continue
			}
			if err != nil {
				h.metrics.StreamError("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			lastTick, sent = s.Tick, true
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				h.metrics.StreamError("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// buildStatusMessage formats one telemetry snapshot.
func buildStatusMessage(s *protocol.Status) statusMessage {
	return statusMessage{
		Type:       "mount_status",
		T:          s.Time.UTC().Format(time.RFC3339Nano),
		Attitude:   s.Attitude(),
		TrackState: s.TrackState,
		PassID:     s.TrackPassID,
		Index:      s.TrackIndex,
		Status:     s,
	}
}

// SSE message payload types.

type metadataMessage struct {
	Type       string  `json:"type"`
	IntervalMs int64   `json:"interval_ms"`
	LinkUp     bool    `json:"link_up"`
	Station    Station `json:"station"`
}

type statusMessage struct {
	Type       string           `json:"type"`
	T          string           `json:"t"`
	Attitude   protocol.Angles  `json:"attitude"`
	TrackState uint8            `json:"track_state"`
	PassID     uint32           `json:"pass_id"`
	Index      uint16           `json:"index"`
	Status     *protocol.Status `json:"status"`
}
