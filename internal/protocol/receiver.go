package protocol

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/star/trackgo/internal/metrics"
)

// Event is a satellite-track protocol event for the tracking pipeline: a
// TrackHeaderAck or a DataRequest.
type Event struct {
	At      time.Time
	Message Message
}

// Receiver is the inbound side of the controller link. Handle runs on the
// transport's receive path and never blocks.
type Receiver struct {
	status  atomic.Pointer[Status]
	events  chan Event
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewReceiver creates a Receiver whose event channel holds up to buffer
// undelivered events; later events are dropped until the consumer catches
// up.
func NewReceiver(buffer int, logger *slog.Logger, m *metrics.Collector) *Receiver {
	return &Receiver{
		events:  make(chan Event, buffer),
		logger:  logger,
		metrics: m,
	}
}

// Latest returns the most recent telemetry, or nil before the first one.
func (r *Receiver) Latest() *Status { return r.status.Load() }

// Events delivers satellite-track events.
func (r *Receiver) Events() <-chan Event { return r.events }

// Handle decodes one datagram and routes it. Unknown frames are ignored;
// invalid frames are logged with a byte dump and dropped.
func (r *Receiver) Handle(buf []byte) (Message, bool) {
	m, err := Inspect(buf)
	if err != nil {
		reason := rejectReason(err)
		r.metrics.FrameRejected(reason)
		if reason != "unknown" {
			r.logger.Warn("controller frame rejected",
				"reason", reason,
				"error", err,
				"len", len(buf),
				"frame", dump(buf),
			)
		}
		return nil, false
	}
	r.metrics.FrameDecoded(m.Kind().String())

	switch msg := m.(type) {
	case *Status:
		r.status.Store(msg)
	case TrackHeaderAck, DataRequest:
		select {
		case r.events <- Event{At: time.Now(), Message: m}:
		default:
			r.metrics.EventDropped()
			r.logger.Warn("track event dropped, consumer behind", "kind", m.Kind().String())
		}
	default:
		r.logger.Debug("controller reply", "kind", m.Kind().String(), "reply", m)
	}
	return m, true
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrShortFrame):
		return "short"
	case errors.Is(err, ErrChecksum):
		return "checksum"
	case errors.Is(err, ErrEndMarker):
		return "end_marker"
	default:
		return "unknown"
	}
}

// dump formats a frame as spaced hex only when the record is emitted.
type dump []byte

func (d dump) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("% x", []byte(d)))
}
