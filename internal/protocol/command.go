package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// MaxTrackPoints bounds one track data frame so it fits a single Ethernet
// datagram.
const MaxTrackPoints = 100

// trackDataBaseLen is the track data frame length with no points.
const trackDataBaseLen = 13

// Command is an outbound frame. The set of commands is closed.
type Command interface {
	frameBody
	command()
}

// Encode builds the wire frame for c.
func Encode(c Command) ([]byte, error) { return encode(c) }

// StatusRequest polls the telemetry frame.
type StatusRequest struct{}

// SetTimeOffset shifts the controller clock by OffsetMs.
type SetTimeOffset struct {
	OffsetMs int32
}

// SetPositionOffset sets the pointing offsets in degrees.
type SetPositionOffset struct {
	Offset Angles
}

// ManualMove drives one axis to Angle at Speed °/s.
type ManualMove struct {
	Axis  Axis
	Angle float32
	Speed float32
}

// MultiMove drives all three axes at Speed °/s.
type MultiMove struct {
	Target Angles
	Speed  float32
}

// Stop halts the axes whose bits are set in Axes (bit 0 azimuth, bit 1
// elevation, bit 2 train).
type Stop struct {
	Axes Flags
}

// Standby switches the controller standby mode.
type Standby struct {
	Mode uint8
}

// FeedPower switches the feed supply.
type FeedPower struct {
	On bool
}

// TrackHeader announces a satellite track upload.
type TrackHeader struct {
	SatID      uint32    `json:"sat_id"`
	PassID     uint32    `json:"pass_id"`
	Start      time.Time `json:"start"` // whole seconds on the wire
	Count      uint16    `json:"count"`
	IntervalMs uint16    `json:"interval_ms"`
	Train      float32   `json:"train"`
}

// TrackInit moves the mount to the first track point before the pass.
type TrackInit struct {
	Position Angles
	Mode     uint8
}

// TrackData carries a block of track points starting at StartIndex.
type TrackData struct {
	PassID     uint32
	StartIndex uint16
	Points     []Angles
}

// EncoderPreset loads an encoder count into one axis.
type EncoderPreset struct {
	Axis   Axis
	Counts int32
}

// AlarmReset clears the servo alarm of one axis.
type AlarmReset struct {
	Axis Axis
}

// VersionRequest queries firmware version and serial number.
type VersionRequest struct{}

// DefaultInfoRequest queries the controller's mechanical configuration.
type DefaultInfoRequest struct{}

// PowerRelay switches one power relay.
type PowerRelay struct {
	Relay uint8
	On    bool
}

// EmergencyStop cuts drive power on every axis.
type EmergencyStop struct{}

func (StatusRequest) command()      {}
func (SetTimeOffset) command()      {}
func (SetPositionOffset) command()  {}
func (ManualMove) command()         {}
func (MultiMove) command()          {}
func (Stop) command()               {}
func (Standby) command()            {}
func (FeedPower) command()          {}
func (TrackHeader) command()        {}
func (TrackInit) command()          {}
func (TrackData) command()          {}
func (EncoderPreset) command()      {}
func (AlarmReset) command()         {}
func (VersionRequest) command()     {}
func (DefaultInfoRequest) command() {}
func (PowerRelay) command()         {}
func (EmergencyStop) command()      {}

func (StatusRequest) Kind() Kind      { return KindStatus }
func (SetTimeOffset) Kind() Kind      { return KindTimeOffset }
func (SetPositionOffset) Kind() Kind  { return KindPositionOffset }
func (ManualMove) Kind() Kind         { return KindManualMove }
func (MultiMove) Kind() Kind          { return KindMultiMove }
func (Stop) Kind() Kind               { return KindStop }
func (Standby) Kind() Kind            { return KindStandby }
func (FeedPower) Kind() Kind          { return KindFeedPower }
func (TrackHeader) Kind() Kind        { return KindTrackHeader }
func (TrackInit) Kind() Kind          { return KindTrackInit }
func (TrackData) Kind() Kind          { return KindTrackData }
func (EncoderPreset) Kind() Kind      { return KindEncoderPreset }
func (AlarmReset) Kind() Kind         { return KindAlarmReset }
func (VersionRequest) Kind() Kind     { return KindVersion }
func (DefaultInfoRequest) Kind() Kind { return KindDefaultInfo }
func (PowerRelay) Kind() Kind         { return KindPowerRelay }
func (EmergencyStop) Kind() Kind      { return KindEmergencyStop }

func (StatusRequest) letters() (byte, byte)      { return 'S', 0 }
func (SetTimeOffset) letters() (byte, byte)      { return 'T', 0 }
func (SetPositionOffset) letters() (byte, byte)  { return 'O', 0 }
func (c ManualMove) letters() (byte, byte)       { return 'M', byte(c.Axis) }
func (MultiMove) letters() (byte, byte)          { return 'M', 'X' }
func (Stop) letters() (byte, byte)               { return 'P', 0 }
func (Standby) letters() (byte, byte)            { return 'B', 0 }
func (c FeedPower) letters() (byte, byte)        { return 'F', onOff(c.On) }
func (TrackHeader) letters() (byte, byte)        { return 'K', 'H' }
func (TrackInit) letters() (byte, byte)          { return 'K', 'I' }
func (TrackData) letters() (byte, byte)          { return 'K', 'D' }
func (c EncoderPreset) letters() (byte, byte)    { return 'E', byte(c.Axis) }
func (c AlarmReset) letters() (byte, byte)       { return 'R', byte(c.Axis) }
func (VersionRequest) letters() (byte, byte)     { return 'V', 0 }
func (DefaultInfoRequest) letters() (byte, byte) { return 'D', 0 }
func (c PowerRelay) letters() (byte, byte)       { return 'W', onOff(c.On) }
func (EmergencyStop) letters() (byte, byte)      { return 'X', 0 }

func (StatusRequest) appendPayload(b []byte) ([]byte, error)      { return b, nil }
func (VersionRequest) appendPayload(b []byte) ([]byte, error)     { return b, nil }
func (DefaultInfoRequest) appendPayload(b []byte) ([]byte, error) { return b, nil }
func (EmergencyStop) appendPayload(b []byte) ([]byte, error)      { return b, nil }
func (FeedPower) appendPayload(b []byte) ([]byte, error)          { return b, nil }

func (c SetTimeOffset) appendPayload(b []byte) ([]byte, error) {
	return binary.BigEndian.AppendUint32(b, uint32(c.OffsetMs)), nil
}

func (c SetPositionOffset) appendPayload(b []byte) ([]byte, error) {
	return appendAngles(b, c.Offset), nil
}

func (c ManualMove) appendPayload(b []byte) ([]byte, error) {
	if !c.Axis.Valid() {
		return nil, fmt.Errorf("axis %q: %w", c.Axis, ErrInvalidField)
	}
	b = appendF32(b, c.Angle)
	return appendF32(b, c.Speed), nil
}

func (c MultiMove) appendPayload(b []byte) ([]byte, error) {
	b = appendAngles(b, c.Target)
	return appendF32(b, c.Speed), nil
}

func (c Stop) appendPayload(b []byte) ([]byte, error) {
	if c.Axes > 0xFF {
		return nil, fmt.Errorf("axes %#x: %w", uint32(c.Axes), ErrInvalidField)
	}
	return append(b, byte(c.Axes)), nil
}

func (c Standby) appendPayload(b []byte) ([]byte, error) {
	return append(b, c.Mode), nil
}

func (c TrackHeader) appendPayload(b []byte) ([]byte, error) {
	if c.Start.Unix() < 0 || c.Start.Unix() > 0xFFFFFFFF {
		return nil, fmt.Errorf("start %s: %w", c.Start, ErrInvalidField)
	}
	b = binary.BigEndian.AppendUint32(b, c.SatID)
	b = binary.BigEndian.AppendUint32(b, c.PassID)
	b = binary.BigEndian.AppendUint32(b, uint32(c.Start.Unix()))
	b = binary.BigEndian.AppendUint16(b, c.Count)
	b = binary.BigEndian.AppendUint16(b, c.IntervalMs)
	return appendF32(b, c.Train), nil
}

func (c TrackInit) appendPayload(b []byte) ([]byte, error) {
	b = appendAngles(b, c.Position)
	return append(b, c.Mode), nil
}

func (c TrackData) appendPayload(b []byte) ([]byte, error) {
	if len(c.Points) > MaxTrackPoints {
		return nil, fmt.Errorf("%d track points, max %d: %w", len(c.Points), MaxTrackPoints, ErrPayloadTooLarge)
	}
	b = binary.BigEndian.AppendUint32(b, c.PassID)
	b = binary.BigEndian.AppendUint16(b, c.StartIndex)
	b = append(b, byte(len(c.Points)))
	for _, p := range c.Points {
		b = appendAngles(b, p)
	}
	return b, nil
}

func (c EncoderPreset) appendPayload(b []byte) ([]byte, error) {
	if !c.Axis.Valid() {
		return nil, fmt.Errorf("axis %q: %w", c.Axis, ErrInvalidField)
	}
	return binary.BigEndian.AppendUint32(b, uint32(c.Counts)), nil
}

func (c AlarmReset) appendPayload(b []byte) ([]byte, error) {
	if !c.Axis.Valid() {
		return nil, fmt.Errorf("axis %q: %w", c.Axis, ErrInvalidField)
	}
	return b, nil
}

func (c PowerRelay) appendPayload(b []byte) ([]byte, error) {
	return append(b, c.Relay), nil
}

func cmdStatus(*reader, byte) Command        { return StatusRequest{} }
func cmdVersion(*reader, byte) Command       { return VersionRequest{} }
func cmdDefaultInfo(*reader, byte) Command   { return DefaultInfoRequest{} }
func cmdEmergencyStop(*reader, byte) Command { return EmergencyStop{} }

func cmdTimeOffset(r *reader, _ byte) Command {
	return SetTimeOffset{OffsetMs: r.i32()}
}

func cmdPositionOffset(r *reader, _ byte) Command {
	return SetPositionOffset{Offset: r.angles()}
}

func cmdManualMove(r *reader, sub byte) Command {
	return ManualMove{Axis: Axis(sub), Angle: r.f32(), Speed: r.f32()}
}

func cmdMultiMove(r *reader, _ byte) Command {
	return MultiMove{Target: r.angles(), Speed: r.f32()}
}

func cmdStop(r *reader, _ byte) Command {
	return Stop{Axes: Flags(r.u8())}
}

func cmdStandby(r *reader, _ byte) Command {
	return Standby{Mode: r.u8()}
}

func cmdFeedPower(_ *reader, sub byte) Command {
	return FeedPower{On: sub == subOn}
}

func cmdTrackHeader(r *reader, _ byte) Command {
	h := TrackHeader{SatID: r.u32(), PassID: r.u32()}
	h.Start = time.Unix(int64(r.u32()), 0).UTC()
	h.Count = r.u16()
	h.IntervalMs = r.u16()
	h.Train = r.f32()
	return h
}

func cmdTrackInit(r *reader, _ byte) Command {
	return TrackInit{Position: r.angles(), Mode: r.u8()}
}

func cmdTrackData(r *reader, _ byte) Command {
	d := TrackData{PassID: r.u32(), StartIndex: r.u16()}
	n := int(r.u8())
	d.Points = make([]Angles, n)
	for i := range d.Points {
		d.Points[i] = r.angles()
	}
	return d
}

func cmdEncoderPreset(r *reader, sub byte) Command {
	return EncoderPreset{Axis: Axis(sub), Counts: r.i32()}
}

func cmdAlarmReset(_ *reader, sub byte) Command {
	return AlarmReset{Axis: Axis(sub)}
}

func cmdPowerRelay(r *reader, sub byte) Command {
	return PowerRelay{Relay: r.u8(), On: sub == subOn}
}
