package protocol

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/star/trackgo/internal/metrics"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func newTestReceiver(t *testing.T, buffer int) (*Receiver, *metrics.Collector) {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics.New: %v", err)
	}
	return NewReceiver(buffer, testLogger, m), m
}

func mustEncode(t *testing.T, m Message) []byte {
	t.Helper()
	f, err := EncodeMessage(m)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	return f
}

func TestReceiverStoresLatestStatus(t *testing.T) {
	r, m := newTestReceiver(t, 4)
	if r.Latest() != nil {
		t.Fatal("expected no status before the first frame")
	}

	first := sampleStatus()
	r.Handle(mustEncode(t, first))
	second := sampleStatus()
	second.TrackIndex = 3002
	r.Handle(mustEncode(t, second))

	got := r.Latest()
	if got == nil || got.TrackIndex != 3002 {
		t.Fatalf("Latest = %+v", got)
	}
	if n := testutil.ToFloat64(m.FramesDecoded.WithLabelValues("status")); n != 2 {
		t.Errorf("decoded status frames = %v, want 2", n)
	}
	select {
	case ev := <-r.Events():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestReceiverPublishesTrackEvents(t *testing.T) {
	r, _ := newTestReceiver(t, 4)
	ack := TrackHeaderAck{Header: TrackHeader{SatID: 25544, PassID: 9, Start: trackStart, Count: 10, IntervalMs: 100}, Status: 1}
	req := DataRequest{PassID: 9, StartIndex: 0, Count: 10}

	r.Handle(mustEncode(t, ack))
	r.Handle(mustEncode(t, TimeOffsetReply{OffsetMs: 1}))
	r.Handle(mustEncode(t, req))

	for _, want := range []Message{ack, req} {
		select {
		case ev := <-r.Events():
			if ev.Message != want {
				t.Errorf("event %+v, want %+v", ev.Message, want)
			}
			if ev.At.IsZero() {
				t.Error("event without timestamp")
			}
		default:
			t.Fatalf("missing event %+v", want)
		}
	}
}

func TestReceiverNeverBlocks(t *testing.T) {
	r, m := newTestReceiver(t, 1)
	req := mustEncode(t, DataRequest{PassID: 1, Count: 5})
	for range 5 {
		if _, ok := r.Handle(req); !ok {
			t.Fatal("Handle rejected a valid frame")
		}
	}
	if n := testutil.ToFloat64(m.EventsDropped); n != 4 {
		t.Errorf("dropped = %v, want 4", n)
	}
}

func TestReceiverRejects(t *testing.T) {
	r, m := newTestReceiver(t, 1)
	stop := mustEncode(t, StopReply{Axes: 1})
	stop[4] ^= 0x01

	tests := []struct {
		name   string
		buf    []byte
		reason string
	}{
		{"checksum", stop, "checksum"},
		{"short", []byte{STX, 'T', 0, 0}, "short"},
		{"garbage", []byte{0xFF, 0x00, 0x13}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msg, ok := r.Handle(tt.buf); ok || msg != nil {
				t.Fatalf("Handle = %+v, %v", msg, ok)
			}
			if n := testutil.ToFloat64(m.FramesRejected.WithLabelValues(tt.reason)); n != 1 {
				t.Errorf("rejected[%s] = %v, want 1", tt.reason, n)
			}
		})
	}
	if r.Latest() != nil {
		t.Error("rejected frames changed the status")
	}
}
