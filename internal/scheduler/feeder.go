package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/star/trackgo/internal/metrics"
	"github.com/star/trackgo/internal/passes"
	"github.com/star/trackgo/internal/protocol"
	"github.com/star/trackgo/internal/track"
)

// Sender transmits one frame to the controller.
type Sender interface {
	Send(frame []byte) error
}

// EventSink receives every satellite-track event the feeder handles.
type EventSink interface {
	PublishEvent(ev protocol.Event)
}

// Feeder uploads commanded tracks to the controller: the header and initial
// position on Upload, then point blocks as the controller asks for them.
type Feeder struct {
	store   *PassStore
	sender  Sender
	sink    EventSink
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewFeeder creates a Feeder. sink may be nil.
func NewFeeder(store *PassStore, sender Sender, sink EventSink, logger *slog.Logger, m *metrics.Collector) *Feeder {
	return &Feeder{store: store, sender: sender, sink: sink, logger: logger, metrics: m}
}

// Upload announces pass id and moves the mount to its first point. Passes
// the u16/u32 header fields cannot carry are refused with
// protocol.ErrPayloadTooLarge, and a first point off the whole second
// with ErrUnalignedStart.
func (f *Feeder) Upload(id int64) error {
	t, ok := f.store.Commanded(id)
	if !ok || len(t.Points) == 0 {
		return fmt.Errorf("pass %d: %w", id, ErrUnknownPass)
	}
	if id < 0 || id > math.MaxUint32 {
		return fmt.Errorf("pass id %d exceeds 32 bits: %w", id, protocol.ErrPayloadTooLarge)
	}
	if n := len(t.Points); n > math.MaxUint16 {
		return fmt.Errorf("pass %d has %d points, max %d: %w", id, n, math.MaxUint16, protocol.ErrPayloadTooLarge)
	}
	start := t.Points[0].Time
	if !start.Equal(start.Truncate(time.Second)) {
		return fmt.Errorf("pass %d starts at %s: %w", id, start.Format(time.RFC3339Nano), ErrUnalignedStart)
	}
	hdr := protocol.TrackHeader{
		SatID:      uint32(t.Pass.SatID),
		PassID:     uint32(id),
		Start:      start,
		Count:      uint16(len(t.Points)),
		IntervalMs: interval(t.Points),
		Train:      float32(t.Pass.TrainAngle),
	}
	if err := f.send(hdr); err != nil {
		return err
	}
	if err := f.send(protocol.TrackInit{Position: angles(t.Points[0]), Mode: 1}); err != nil {
		return err
	}
	f.logger.Info("track uploaded",
		"pass_id", id,
		"sat_id", t.Pass.SatID,
		"stage", string(t.Pass.Stage),
		"points", len(t.Points),
		"train", t.Pass.TrainAngle,
	)
	return nil
}

// Run serves events until ctx is done or events is closed.
func (f *Feeder) Run(ctx context.Context, events <-chan protocol.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			f.handle(ev)
		}
	}
}

// handle answers the controller first; the sink sees the event afterwards.
func (f *Feeder) handle(ev protocol.Event) {
	if f.sink != nil {
		defer f.sink.PublishEvent(ev)
	}
	switch m := ev.Message.(type) {
	case protocol.TrackHeaderAck:
		f.logger.Info("controller accepted track header",
			"pass_id", m.Header.PassID,
			"count", m.Header.Count,
			"status", m.Status,
		)
	case protocol.DataRequest:
		if err := f.Serve(m); err != nil {
			f.logger.Warn("track data request failed",
				"pass_id", m.PassID,
				"start_index", m.StartIndex,
				"count", m.Count,
				"error", err,
			)
		}
	}
}

// Serve answers one data request. A request past the last point gets an
// empty block.
func (f *Feeder) Serve(req protocol.DataRequest) error {
	t, ok := f.store.Commanded(int64(req.PassID))
	if !ok {
		return fmt.Errorf("pass %d: %w", req.PassID, ErrUnknownPass)
	}
	from := min(int(req.StartIndex), len(t.Points))
	to := min(from+min(int(req.Count), protocol.MaxTrackPoints), len(t.Points))

	block := make([]protocol.Angles, 0, to-from)
	for _, p := range t.Points[from:to] {
		block = append(block, angles(p))
	}
	return f.send(protocol.TrackData{PassID: req.PassID, StartIndex: req.StartIndex, Points: block})
}

func (f *Feeder) send(c protocol.Command) error {
	frame, err := protocol.Encode(c)
	if err != nil {
		return err
	}
	if err := f.sender.Send(frame); err != nil {
		return fmt.Errorf("sending %s: %w", c.Kind(), err)
	}
	f.metrics.FrameSent(c.Kind().String())
	return nil
}

func angles(p track.Point) protocol.Angles {
	a := protocol.Angles{Azimuth: float32(p.Azimuth), Elevation: float32(p.Elevation)}
	if p.Train != nil {
		a.Train = float32(*p.Train)
	}
	return a
}

// interval is the nominal point spacing in milliseconds.
func interval(points []track.Point) uint16 {
	if len(points) < 2 {
		return uint16(passes.DefaultInterval / time.Millisecond)
	}
	d := points[1].Time.Sub(points[0].Time).Round(time.Millisecond)
	if d <= 0 || d > math.MaxUint16*time.Millisecond {
		return uint16(passes.DefaultInterval / time.Millisecond)
	}
	return uint16(d / time.Millisecond)
}
