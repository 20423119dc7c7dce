package metrics

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/", "/"},
		{"/api/v1/passes", "/api/v1/passes"},
		{"/api/v1/mount/status", "/api/v1/mount/status"},
		{"/api/v1/stream/mount", "/api/v1/stream/mount"},

		{"/api/v1/passes/17", "/api/v1/passes/{id}"},
		{"/api/v1/passes/900001", "/api/v1/passes/{id}"},
		{"/api/v1/generate/25544", "/api/v1/generate/{sat_id}"},
		{"/api/v1/passes/17/optimize", "/api/v1/passes/{id}/optimize"},
		{"/api/v1/passes/17/upload", "/api/v1/passes/{id}/upload"},

		{"/api/v1/passes/abc", "other"},
		{"/api/v1/passes/1/points", "other"},
		{"/api/v1/passes/x/optimize", "other"},
		{"/api/v1/passes//upload", "other"},
		{"/wp-admin", "other"},
		{"/.env", "other"},
		{"/api/v2/passes", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizeRoute(tt.path); got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		seen[normalizeRoute("/api/v1/passes/"+strconv.Itoa(i))] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 label for parameterized paths, got %d: %v", len(seen), seen)
	}
}

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.PassGenerated("raw")
	c.PassGenerated("raw")
	c.KeyholePass()
	c.AddOptimizerEvaluations(41)
	c.FrameRejected("crc")
	c.EventDropped()
	c.AddWindows(3)
	c.ObserveGeneration("ok", 250*time.Millisecond)

	if got := testutil.ToFloat64(c.PassesGenerated.WithLabelValues("raw")); got != 2 {
		t.Errorf("passes_generated{raw} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.OptimizerEvaluations); got != 41 {
		t.Errorf("optimizer_evaluations = %v, want 41", got)
	}
	if got := testutil.ToFloat64(c.FramesRejected.WithLabelValues("crc")); got != 1 {
		t.Errorf("frames_rejected{crc} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.WindowsFound); got != 3 {
		t.Errorf("windows_found = %v, want 3", got)
	}
	c.StreamConnected()
	c.StreamConnected()
	c.StreamDisconnected()
	c.StreamSent(120, true)
	c.StreamSent(3, false)
	if got := testutil.ToFloat64(c.StreamsActive); got != 1 {
		t.Errorf("streams_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.StreamMessages); got != 1 {
		t.Errorf("stream_messages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.StreamBytes); got != 123 {
		t.Errorf("stream_bytes = %v, want 123", got)
	}
	if n := testutil.CollectAndCount(c.GenerationDuration); n != 1 {
		t.Errorf("generation histogram series = %d, want 1", n)
	}

	// A second registration on the same registry reuses the collectors.
	again, err := New(reg)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	if again.KeyholePasses != c.KeyholePasses {
		t.Error("expected shared keyhole counter")
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.PassGenerated("raw")
	c.FrameDecoded("status")
	c.EventDropped()
	c.ObserveGeneration("error", time.Second)

	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestMiddlewareLabels(t *testing.T) {
	c, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	for _, p := range []string{"/api/v1/passes/1", "/api/v1/passes/2", "/nope"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/api/v1/passes/{id}", "GET", "404")); got != 2 {
		t.Errorf("requests{passes/{id}} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("other", "GET", "404")); got != 1 {
		t.Errorf("requests{other} = %v, want 1", got)
	}
}
