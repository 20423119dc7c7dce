// Package metrics bundles the Prometheus instrumentation for the tracking
// service. A nil *Collector is valid and records nothing.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the service exports.
type Collector struct {
	gatherer prometheus.Gatherer

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	GenerationDuration   *prometheus.HistogramVec
	WindowsFound         prometheus.Counter
	PassesGenerated      *prometheus.CounterVec
	KeyholePasses        prometheus.Counter
	OptimizerEvaluations prometheus.Counter
	ElementSets          prometheus.Gauge

	FramesSent     *prometheus.CounterVec
	FramesDecoded  *prometheus.CounterVec
	FramesRejected *prometheus.CounterVec
	EventsDropped  prometheus.Counter

	StreamConnections *prometheus.CounterVec
	StreamsActive     prometheus.Gauge
	StreamMessages    prometheus.Counter
	StreamBytes       prometheus.Counter
	StreamErrors      *prometheus.CounterVec
}

// New registers the metrics on reg, or on the default registry when reg is
// nil. Registering twice on one registry returns the existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{gatherer: prometheus.DefaultGatherer}
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}

	var err error
	if c.HTTPRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackgo_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"path", "method", "code"})); err != nil {
		return nil, err
	}
	if c.HTTPDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trackgo_http_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method"})); err != nil {
		return nil, err
	}
	if c.GenerationDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trackgo_generation_duration_seconds",
		Help:    "Per-satellite pipeline duration in seconds, by outcome.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.WindowsFound, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trackgo_windows_found_total",
		Help: "Visibility windows found by the scan.",
	})); err != nil {
		return nil, err
	}
	if c.PassesGenerated, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackgo_passes_generated_total",
		Help: "Pass records produced, by pipeline stage.",
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if c.KeyholePasses, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trackgo_keyhole_passes_total",
		Help: "Passes that triggered the keyhole branch.",
	})); err != nil {
		return nil, err
	}
	if c.OptimizerEvaluations, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trackgo_optimizer_evaluations_total",
		Help: "Train-angle candidates simulated by the optimizer.",
	})); err != nil {
		return nil, err
	}
	if c.ElementSets, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trackgo_element_sets",
		Help: "Element sets currently loaded.",
	})); err != nil {
		return nil, err
	}
	if c.FramesSent, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackgo_frames_sent_total",
		Help: "Controller frames sent, by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.FramesDecoded, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackgo_frames_decoded_total",
		Help: "Controller frames decoded, by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.FramesRejected, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackgo_frames_rejected_total",
		Help: "Controller frames rejected, by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if c.EventsDropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trackgo_events_dropped_total",
		Help: "Satellite-track events dropped because the consumer was behind.",
	})); err != nil {
		return nil, err
	}
	if c.StreamConnections, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackgo_stream_connections_total",
		Help: "Mount stream connection events.",
	}, []string{"event"})); err != nil {
		return nil, err
	}
	if c.StreamsActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trackgo_streams_active",
		Help: "Open mount streams.",
	})); err != nil {
		return nil, err
	}
	if c.StreamMessages, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trackgo_stream_messages_total",
		Help: "Messages written to mount streams.",
	})); err != nil {
		return nil, err
	}
	if c.StreamBytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trackgo_stream_bytes_total",
		Help: "Bytes written to mount streams.",
	})); err != nil {
		return nil, err
	}
	if c.StreamErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackgo_stream_errors_total",
		Help: "Mount stream errors, by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	return c, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector already registered with incompatible type: %v", err)
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Handler returns the /metrics handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveGeneration records one satellite's pipeline run.
func (c *Collector) ObserveGeneration(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.GenerationDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// AddWindows counts windows found by one scan.
func (c *Collector) AddWindows(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.WindowsFound.Add(float64(n))
}

// PassGenerated counts one pass record at stage.
func (c *Collector) PassGenerated(stage string) {
	if c == nil {
		return
	}
	c.PassesGenerated.WithLabelValues(stage).Inc()
}

// KeyholePass counts one pass entering the keyhole branch.
func (c *Collector) KeyholePass() {
	if c == nil {
		return
	}
	c.KeyholePasses.Inc()
}

// AddOptimizerEvaluations counts simulated candidates.
func (c *Collector) AddOptimizerEvaluations(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.OptimizerEvaluations.Add(float64(n))
}

// SetElementSets records the loaded element-set count.
func (c *Collector) SetElementSets(n int) {
	if c == nil {
		return
	}
	c.ElementSets.Set(float64(n))
}

// FrameSent counts one outbound frame.
func (c *Collector) FrameSent(kind string) {
	if c == nil {
		return
	}
	c.FramesSent.WithLabelValues(kind).Inc()
}

// FrameDecoded counts one accepted inbound frame.
func (c *Collector) FrameDecoded(kind string) {
	if c == nil {
		return
	}
	c.FramesDecoded.WithLabelValues(kind).Inc()
}

// FrameRejected counts one rejected inbound frame.
func (c *Collector) FrameRejected(reason string) {
	if c == nil {
		return
	}
	c.FramesRejected.WithLabelValues(reason).Inc()
}

// EventDropped counts one event lost to a full channel.
func (c *Collector) EventDropped() {
	if c == nil {
		return
	}
	c.EventsDropped.Inc()
}

// StreamConnected records a stream opening.
func (c *Collector) StreamConnected() {
	if c == nil {
		return
	}
	c.StreamConnections.WithLabelValues("connect").Inc()
	c.StreamsActive.Inc()
}

// StreamDisconnected records a stream closing.
func (c *Collector) StreamDisconnected() {
	if c == nil {
		return
	}
	c.StreamConnections.WithLabelValues("disconnect").Inc()
	c.StreamsActive.Dec()
}

// StreamSent counts one message of n bytes, or a keepalive when message is
// false.
func (c *Collector) StreamSent(n int, message bool) {
	if c == nil {
		return
	}
	if message {
		c.StreamMessages.Inc()
	}
	c.StreamBytes.Add(float64(n))
}

// StreamError counts one stream error.
func (c *Collector) StreamError(reason string) {
	if c == nil {
		return
	}
	c.StreamErrors.WithLabelValues(reason).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE handlers keep working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := normalizeRoute(r.URL.Path)
		c.HTTPRequests.WithLabelValues(path, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		c.HTTPDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}

var exactRoutes = map[string]bool{
	"/":                    true,
	"/healthz":             true,
	"/readyz":              true,
	"/metrics":             true,
	"/api/v1/passes":       true,
	"/api/v1/satellites":   true,
	"/api/v1/mount/status": true,
	"/api/v1/stream/mount": true,
	"/api/v1/generate":     true,
}

var paramRoutes = []struct {
	prefix string
	suffix string
	label  string
}{
	{"/api/v1/passes/", "", "/api/v1/passes/{id}"},
	{"/api/v1/passes/", "/optimize", "/api/v1/passes/{id}/optimize"},
	{"/api/v1/passes/", "/upload", "/api/v1/passes/{id}/upload"},
	{"/api/v1/generate/", "", "/api/v1/generate/{sat_id}"},
}

// normalizeRoute maps a request path onto a bounded label set so ids and
// scanner noise do not explode label cardinality.
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}
	for _, r := range paramRoutes {
		rest, ok := strings.CutPrefix(path, r.prefix)
		if !ok {
			continue
		}
		if rest, ok = strings.CutSuffix(rest, r.suffix); !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		if _, err := strconv.Atoi(rest); err == nil {
			return r.label
		}
	}
	return "other"
}
