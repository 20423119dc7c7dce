package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/star/trackgo/internal/protocol"
	"github.com/star/trackgo/internal/track"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

type fakeToken struct {
	err     error
	pending bool
}

func (t fakeToken) Wait() bool                     { return !t.pending }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu       sync.Mutex
	messages []message
	token    fakeToken
	closed   bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) sent() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.messages...)
}

func TestPublishTopics(t *testing.T) {
	fc := &fakeClient{}
	p := New(fc, Config{TopicPrefix: "site1", QoS: 1, Retain: true}, testLogger)

	if err := p.PublishStatus(&protocol.Status{Tick: 4}); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}
	if err := p.PublishPass(track.Pass{ID: 42, Stage: track.KeyholeFinalOptimized}); err != nil {
		t.Fatalf("PublishPass: %v", err)
	}
	p.PublishEvent(protocol.Event{At: time.Unix(100, 0), Message: protocol.DataRequest{PassID: 3, Count: 10}})
	p.PublishEvent(protocol.Event{At: time.Unix(100, 0), Message: protocol.TrackHeaderAck{}})
	p.Close()

	want := []string{
		"site1/status",
		"site1/passes/42/keyhole_final_optimized",
		"site1/events/data_request",
		"site1/events/header_ack",
	}
	got := fc.sent()
	if len(got) != len(want) {
		t.Fatalf("published %d messages, want %d", len(got), len(want))
	}
	for i, m := range got {
		if m.topic != want[i] || m.qos != 1 || !m.retained {
			t.Errorf("message %d = %s qos %d retained %v", i, m.topic, m.qos, m.retained)
		}
	}

	var ev struct {
		Kind    string `json:"kind"`
		Message struct {
			PassID uint32
			Count  uint8
		} `json:"message"`
	}
	if err := json.Unmarshal(got[2].payload, &ev); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	if ev.Kind != "data_request" || ev.Message.PassID != 3 || ev.Message.Count != 10 {
		t.Errorf("event payload = %s", got[2].payload)
	}
	if !fc.closed {
		t.Error("Close did not disconnect")
	}

	p.Close()
	p.PublishEvent(protocol.Event{Message: protocol.DataRequest{}})
	if n := len(fc.sent()); n != len(want) {
		t.Errorf("published %d messages after Close", n-len(want))
	}
}

// stalledClient holds every Publish until release is closed.
type stalledClient struct {
	fakeClient
	release chan struct{}
}

func (c *stalledClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	<-c.release
	return c.fakeClient.Publish(topic, qos, retained, payload)
}

func TestPublishEventDoesNotWaitOnBroker(t *testing.T) {
	sc := &stalledClient{release: make(chan struct{})}
	p := New(sc, Config{EventQueue: 4}, testLogger)

	start := time.Now()
	for i := range 10 {
		p.PublishEvent(protocol.Event{At: time.Unix(100, 0), Message: protocol.DataRequest{PassID: uint32(i), Count: 1}})
	}
	elapsed := time.Since(start)
	t.Logf("10 events queued in %v", elapsed)
	if elapsed > time.Second {
		t.Errorf("PublishEvent blocked for %v on a stalled broker", elapsed)
	}

	close(sc.release)
	p.Close()
	// One event in flight plus a full queue; the rest were dropped.
	if n := len(sc.sent()); n < 4 || n > 5 {
		t.Errorf("published %d events, want 4 or 5", n)
	}
}

func TestPublishErrors(t *testing.T) {
	fc := &fakeClient{token: fakeToken{err: errors.New("not connected")}}
	p := New(fc, Config{}, testLogger)
	if err := p.PublishStatus(&protocol.Status{}); err == nil {
		t.Error("expected broker error")
	}

	fc.token = fakeToken{pending: true}
	if err := p.PublishPass(track.Pass{ID: 1, Stage: track.Raw}); err == nil {
		t.Error("expected timeout")
	}
	if m := fc.sent(); m[0].topic != "trackgo/status" {
		t.Errorf("default prefix topic = %s", m[0].topic)
	}
}

func TestRunStatusSkipsRepeats(t *testing.T) {
	fc := &fakeClient{}
	p := New(fc, Config{StatusInterval: 5 * time.Millisecond}, testLogger)

	var mu sync.Mutex
	var current *protocol.Status
	latest := func() *protocol.Status {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.RunStatus(ctx, latest)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	current = &protocol.Status{Tick: 1}
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	current = &protocol.Status{Tick: 2}
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	if n := len(fc.sent()); n != 2 {
		t.Errorf("published %d snapshots, want 2", n)
	}
}
