package link

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/trackgo/internal/protocol"
)

// Track states reported in status telemetry.
const (
	TrackIdle    uint8 = 0
	TrackLoading uint8 = 1
	TrackReady   uint8 = 2
)

// EmulatorConfig describes the simulated controller.
type EmulatorConfig struct {
	StatusInterval time.Duration // zero disables unsolicited status
	Info           protocol.DefaultInfo
	Version        protocol.VersionInfo
	Latitude       float64
	Longitude      float64
	Altitude       float64
}

// Emulator answers controller commands the way the antenna controller
// does: every command gets its reply, a track header starts a pull of
// point blocks, and status telemetry goes out on a fixed cadence. Moves
// complete instantly.
type Emulator struct {
	conn   *Conn
	cfg    EmulatorConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	status   protocol.Status
	offsetMs int32
	upload   *upload
}

type upload struct {
	header protocol.TrackHeader
	points []protocol.Angles
}

// NewEmulator creates an Emulator replying on conn. conn may be nil when
// only Reply is used.
func NewEmulator(conn *Conn, cfg EmulatorConfig, logger *slog.Logger) *Emulator {
	e := &Emulator{conn: conn, cfg: cfg, logger: logger, now: time.Now}
	e.status.Latitude = float32(cfg.Latitude)
	e.status.Longitude = float32(cfg.Longitude)
	e.status.Altitude = float32(cfg.Altitude)
	return e
}

// Run serves commands and sends telemetry until ctx is done.
func (e *Emulator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.conn.Run(ctx, e.handle) })
	if e.cfg.StatusInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(e.cfg.StatusInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if e.conn.Remote() != nil {
						e.send(e.Status())
					}
				}
			}
		})
	}
	return g.Wait()
}

func (e *Emulator) handle(buf []byte) {
	cmd, err := protocol.InspectCommand(buf)
	if err != nil {
		e.logger.Debug("emulator ignored frame", "error", err, "len", len(buf))
		return
	}
	for _, m := range e.Reply(cmd) {
		e.send(m)
	}
}

func (e *Emulator) send(m protocol.Message) {
	frame, err := protocol.EncodeMessage(m)
	if err != nil {
		e.logger.Warn("emulator reply not encodable", "kind", m.Kind().String(), "error", err)
		return
	}
	if err := e.conn.Send(frame); err != nil {
		e.logger.Warn("emulator send failed", "kind", m.Kind().String(), "error", err)
	}
}

// Status returns a telemetry snapshot and advances the tick counter.
func (e *Emulator) Status() *protocol.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Tick++
	s := e.status
	s.Time = e.now().Add(time.Duration(e.offsetMs) * time.Millisecond).UTC()
	return &s
}

// Uploaded returns the points received so far for passID.
func (e *Emulator) Uploaded(passID uint32) ([]protocol.Angles, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.upload == nil || e.upload.header.PassID != passID {
		return nil, false
	}
	return append([]protocol.Angles(nil), e.upload.points...), true
}

// Reply applies cmd to the emulated state and returns the controller's
// answers in send order.
func (e *Emulator) Reply(cmd protocol.Command) []protocol.Message {
	if _, ok := cmd.(protocol.StatusRequest); ok {
		return []protocol.Message{e.Status()}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch c := cmd.(type) {
	case protocol.SetTimeOffset:
		e.offsetMs = c.OffsetMs
		return []protocol.Message{protocol.TimeOffsetReply{OffsetMs: c.OffsetMs, Applied: true}}
	case protocol.SetPositionOffset:
		return []protocol.Message{protocol.PositionOffsetReply{Offset: c.Offset, Applied: true}}
	case protocol.ManualMove:
		e.moveAxis(axisIndex(c.Axis), c.Angle)
		return []protocol.Message{protocol.ManualMoveReply{Axis: c.Axis, Angle: c.Angle, Speed: c.Speed}}
	case protocol.MultiMove:
		e.moveTo(c.Target)
		return []protocol.Message{protocol.MultiMoveReply{Target: c.Target, Speed: c.Speed}}
	case protocol.Stop:
		for i := range e.status.Axes {
			if c.Axes.Bit(i) {
				e.status.Axes[i].Rate = 0
			}
		}
		return []protocol.Message{protocol.StopReply{Axes: c.Axes}}
	case protocol.Standby:
		e.status.Mode = c.Mode
		return []protocol.Message{protocol.StandbyReply{Mode: c.Mode}}
	case protocol.FeedPower:
		e.status.Feed = 0
		if c.On {
			e.status.Feed = 1
		}
		return []protocol.Message{protocol.FeedPowerReply{On: c.On, State: e.status.Feed}}
	case protocol.TrackHeader:
		return e.startUpload(c)
	case protocol.TrackInit:
		e.moveTo(c.Position)
		return []protocol.Message{protocol.TrackInitReply{Position: c.Position, Mode: c.Mode}}
	case protocol.TrackData:
		return e.receive(c)
	case protocol.EncoderPreset:
		return []protocol.Message{protocol.EncoderPresetReply{Axis: c.Axis, Counts: c.Counts}}
	case protocol.AlarmReset:
		e.status.Alarms &^= 1 << uint(axisIndex(c.Axis))
		return []protocol.Message{protocol.AlarmResetReply{Axis: c.Axis}}
	case protocol.VersionRequest:
		return []protocol.Message{e.cfg.Version}
	case protocol.DefaultInfoRequest:
		return []protocol.Message{e.cfg.Info}
	case protocol.PowerRelay:
		return []protocol.Message{e.switchRelay(c)}
	case protocol.EmergencyStop:
		for i := range e.status.Axes {
			e.status.Axes[i].Rate = 0
			e.status.Alarms |= 1 << uint(i)
		}
		e.status.TrackState = TrackIdle
		return []protocol.Message{protocol.EmergencyStopReply{}}
	}
	return nil
}

func (e *Emulator) startUpload(h protocol.TrackHeader) []protocol.Message {
	e.upload = &upload{header: h, points: make([]protocol.Angles, 0, h.Count)}
	e.status.TrackPassID = h.PassID
	e.status.TrackIndex = 0
	e.status.TrackState = TrackLoading
	out := []protocol.Message{protocol.TrackHeaderAck{Header: h}}
	if h.Count == 0 {
		e.status.TrackState = TrackReady
		return out
	}
	return append(out, e.request(0))
}

// receive appends an in-order block and asks for the next one. A block at
// the wrong index is answered with a request for the expected index.
func (e *Emulator) receive(d protocol.TrackData) []protocol.Message {
	u := e.upload
	if u == nil || d.PassID != u.header.PassID {
		e.logger.Debug("emulator dropped track data for unknown pass", "pass_id", d.PassID)
		return nil
	}
	if int(d.StartIndex) != len(u.points) {
		return []protocol.Message{e.request(len(u.points))}
	}
	u.points = append(u.points, d.Points...)
	e.status.TrackIndex = uint16(len(u.points))
	if len(d.Points) == 0 || len(u.points) >= int(u.header.Count) {
		e.status.TrackState = TrackReady
		e.logger.Info("emulator track upload complete", "pass_id", u.header.PassID, "points", len(u.points))
		return nil
	}
	return []protocol.Message{e.request(len(u.points))}
}

func (e *Emulator) request(from int) protocol.DataRequest {
	remaining := int(e.upload.header.Count) - from
	return protocol.DataRequest{
		PassID:     e.upload.header.PassID,
		StartIndex: uint16(from),
		Count:      uint8(min(remaining, protocol.MaxTrackPoints)),
	}
}

func (e *Emulator) switchRelay(c protocol.PowerRelay) protocol.PowerRelayReply {
	if c.Relay >= 8 {
		return protocol.PowerRelayReply{On: c.On, Relay: c.Relay, State: 0xFF}
	}
	bit := protocol.Flags(1) << c.Relay
	if c.On {
		e.status.Relays |= bit
	} else {
		e.status.Relays &^= bit
	}
	var state uint8
	if c.On {
		state = 1
	}
	return protocol.PowerRelayReply{On: c.On, Relay: c.Relay, State: state}
}

func (e *Emulator) moveTo(a protocol.Angles) {
	e.moveAxis(0, a.Azimuth)
	e.moveAxis(1, a.Elevation)
	e.moveAxis(2, a.Train)
	e.status.TrackCommanded = a
	e.status.TrackActual = a
}

func (e *Emulator) moveAxis(i int, angle float32) {
	if i < 0 {
		return
	}
	e.status.Axes[i].Commanded = angle
	e.status.Axes[i].Actual = angle
}

func axisIndex(a protocol.Axis) int {
	switch a {
	case protocol.AxisAzimuth:
		return 0
	case protocol.AxisElevation:
		return 1
	case protocol.AxisTrain:
		return 2
	}
	return -1
}
