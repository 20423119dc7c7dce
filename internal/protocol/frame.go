// Package protocol encodes commands to and decodes replies from the antenna
// controller.
//
// Every frame is
//
//	STX | command letter | [sub letter] | payload | CRC16 (big-endian) | ETX
//
// and the CRC covers every byte strictly between STX and the CRC field.
// Multi-byte fields are big-endian; reals are IEEE-754 singles.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Frame markers.
const (
	STX byte = 0x02
	ETX byte = 0x03
)

// Decode rejections, reported by Inspect.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrShortFrame     = errors.New("frame shorter than declared length")
	ErrEndMarker      = errors.New("missing end marker")
	ErrChecksum       = errors.New("checksum mismatch")
)

// Encode failures.
var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrInvalidField    = errors.New("invalid field")
)

// Kind identifies a command family.
type Kind int

const (
	KindStatus Kind = iota + 1
	KindTimeOffset
	KindPositionOffset
	KindManualMove
	KindMultiMove
	KindStop
	KindStandby
	KindFeedPower
	KindTrackHeader
	KindTrackInit
	KindTrackData
	KindEncoderPreset
	KindAlarmReset
	KindVersion
	KindDefaultInfo
	KindPowerRelay
	KindEmergencyStop
)

var kindNames = map[Kind]string{
	KindStatus:         "status",
	KindTimeOffset:     "time_offset",
	KindPositionOffset: "position_offset",
	KindManualMove:     "manual_move",
	KindMultiMove:      "multi_move",
	KindStop:           "stop",
	KindStandby:        "standby",
	KindFeedPower:      "feed_power",
	KindTrackHeader:    "track_header",
	KindTrackInit:      "track_init",
	KindTrackData:      "track_data",
	KindEncoderPreset:  "encoder_preset",
	KindAlarmReset:     "alarm_reset",
	KindVersion:        "version",
	KindDefaultInfo:    "default_info",
	KindPowerRelay:     "power_relay",
	KindEmergencyStop:  "emergency_stop",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Axis selects one mount axis. Its value is the frame's sub letter.
type Axis byte

const (
	AxisAzimuth   Axis = 'A'
	AxisElevation Axis = 'E'
	AxisTrain     Axis = 'T'
)

// Valid reports whether a is one of the three mount axes.
func (a Axis) Valid() bool {
	return a == AxisAzimuth || a == AxisElevation || a == AxisTrain
}

// Sub letters of the on/off families.
const (
	subOn  byte = 'N'
	subOff byte = 'F'
)

// Angles is one az/el/train triple in degrees.
type Angles struct {
	Azimuth   float32 `json:"azimuth"`
	Elevation float32 `json:"elevation"`
	Train     float32 `json:"train"`
}

// layout describes one (command, sub) pair: the family it belongs to and the
// declared total frame length in each direction. getLen is the minimum for
// the status telemetry, whose length is taken from the buffer; setLen is the
// minimum for track data, whose length follows from its point count.
type layout struct {
	kind      Kind
	setLen    int
	getLen    int
	decode    func(r *reader, sub byte) Message
	decodeCmd func(r *reader, sub byte) Command
}

type letters [2]byte

var axisSubs = []byte{byte(AxisAzimuth), byte(AxisElevation), byte(AxisTrain)}

// layouts is keyed by command letter and sub letter; families without a sub
// letter use zero.
var layouts = func() map[letters]layout {
	m := map[letters]layout{
		{'S', 0}:      {KindStatus, 5, StatusFrameLen, decodeStatus, cmdStatus},
		{'T', 0}:      {KindTimeOffset, 9, 10, decodeTimeOffset, cmdTimeOffset},
		{'O', 0}:      {KindPositionOffset, 17, 18, decodePositionOffset, cmdPositionOffset},
		{'M', 'X'}:    {KindMultiMove, 22, 23, decodeMultiMove, cmdMultiMove},
		{'P', 0}:      {KindStop, 6, 6, decodeStop, cmdStop},
		{'B', 0}:      {KindStandby, 6, 7, decodeStandby, cmdStandby},
		{'K', 'H'}:    {KindTrackHeader, 26, 27, decodeTrackHeader, cmdTrackHeader},
		{'K', 'I'}:    {KindTrackInit, 19, 20, decodeTrackInit, cmdTrackInit},
		{'K', 'D'}:    {KindTrackData, trackDataBaseLen, 13, decodeDataRequest, cmdTrackData},
		{'V', 0}:      {KindVersion, 5, 16, decodeVersion, cmdVersion},
		{'D', 0}:      {KindDefaultInfo, 5, 37, decodeDefaultInfo, cmdDefaultInfo},
		{'X', 0}:      {KindEmergencyStop, 5, 6, decodeEmergencyStop, cmdEmergencyStop},
		{'F', subOn}:  {KindFeedPower, 6, 7, decodeFeedPower, cmdFeedPower},
		{'F', subOff}: {KindFeedPower, 6, 7, decodeFeedPower, cmdFeedPower},
		{'W', subOn}:  {KindPowerRelay, 7, 8, decodePowerRelay, cmdPowerRelay},
		{'W', subOff}: {KindPowerRelay, 7, 8, decodePowerRelay, cmdPowerRelay},
	}
	for _, s := range axisSubs {
		m[letters{'M', s}] = layout{KindManualMove, 14, 15, decodeManualMove, cmdManualMove}
		m[letters{'E', s}] = layout{KindEncoderPreset, 10, 11, decodeEncoderPreset, cmdEncoderPreset}
		m[letters{'R', s}] = layout{KindAlarmReset, 6, 7, decodeAlarmReset, cmdAlarmReset}
	}
	return m
}()

// lookup finds the layout for the letters after STX and returns the header
// length (1 or 2 letters).
func lookup(buf []byte) (layout, byte, int, bool) {
	if len(buf) < 2 || buf[0] != STX {
		return layout{}, 0, 0, false
	}
	if l, ok := layouts[letters{buf[1], 0}]; ok {
		return l, 0, 1, true
	}
	if len(buf) < 3 {
		return layout{}, 0, 0, false
	}
	if l, ok := layouts[letters{buf[1], buf[2]}]; ok {
		return l, buf[2], 2, true
	}
	return layout{}, 0, 0, false
}

// Classify names the family of a frame from the letters after STX. Unknown
// letters report false.
func Classify(buf []byte) (Kind, bool) {
	l, _, _, ok := lookup(buf)
	return l.kind, ok
}

// Decode parses an inbound controller frame. Anything that is not a whole,
// valid frame of a known family yields (nil, false).
func Decode(buf []byte) (Message, bool) {
	m, err := Inspect(buf)
	return m, err == nil
}

// Inspect is Decode with the rejection reason.
func Inspect(buf []byte) (Message, error) {
	l, sub, hdr, ok := lookup(buf)
	if !ok {
		return nil, ErrUnknownCommand
	}
	if len(buf) < l.getLen {
		return nil, fmt.Errorf("%s: %d < %d bytes: %w", l.kind, len(buf), l.getLen, ErrShortFrame)
	}

	// Telemetry grows with firmware revisions, so its end is wherever the
	// buffer ends. Every other family ends at its declared length.
	end := l.getLen - 1
	if l.kind == KindStatus {
		end = len(buf) - 1
	}
	r, err := check(buf, l.kind, hdr, end)
	if err != nil {
		return nil, err
	}
	m := l.decode(r, sub)
	if st, ok := m.(*Status); ok {
		st.FrameLen = end + 1
	}
	return m, nil
}

// DecodeCommand parses an outbound command frame, as the controller sees it.
func DecodeCommand(buf []byte) (Command, bool) {
	c, err := InspectCommand(buf)
	return c, err == nil
}

// InspectCommand is DecodeCommand with the rejection reason.
func InspectCommand(buf []byte) (Command, error) {
	l, sub, hdr, ok := lookup(buf)
	if !ok {
		return nil, ErrUnknownCommand
	}
	n := l.setLen
	if l.kind == KindTrackData && len(buf) >= trackDataBaseLen {
		n += 12 * int(buf[1+hdr+6])
	}
	if len(buf) < n {
		return nil, fmt.Errorf("%s: %d < %d bytes: %w", l.kind, len(buf), n, ErrShortFrame)
	}
	r, err := check(buf, l.kind, hdr, n-1)
	if err != nil {
		return nil, err
	}
	return l.decodeCmd(r, sub), nil
}

// check validates the end marker at end and the CRC before it, and returns
// a reader over the payload.
func check(buf []byte, kind Kind, hdr, end int) (*reader, error) {
	if buf[end] != ETX {
		return nil, fmt.Errorf("%s: byte %d is %#02x: %w", kind, end, buf[end], ErrEndMarker)
	}
	want := binary.BigEndian.Uint16(buf[end-2 : end])
	if got := CRC16(buf[1 : end-2]); got != want {
		return nil, fmt.Errorf("%s: computed %#04x, frame carries %#04x: %w", kind, got, want, ErrChecksum)
	}
	return &reader{buf: buf[1+hdr : end-2]}, nil
}

// frameBody is implemented by every command and reply.
type frameBody interface {
	Kind() Kind
	letters() (cmd, sub byte)
	appendPayload(b []byte) ([]byte, error)
}

func encode(f frameBody) ([]byte, error) {
	cmd, sub := f.letters()
	b := make([]byte, 0, 32)
	b = append(b, STX, cmd)
	if sub != 0 {
		b = append(b, sub)
	}
	b, err := f.appendPayload(b)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", f.Kind(), err)
	}
	b = binary.BigEndian.AppendUint16(b, CRC16(b[1:]))
	return append(b, ETX), nil
}

// reader walks a payload whose length has already been checked.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u8() uint8 {
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) angles() Angles {
	return Angles{Azimuth: r.f32(), Elevation: r.f32(), Train: r.f32()}
}

func (r *reader) skip(n int) { r.off += n }

func appendF32(b []byte, v float32) []byte {
	return binary.BigEndian.AppendUint32(b, math.Float32bits(v))
}

func appendAngles(b []byte, a Angles) []byte {
	b = appendF32(b, a.Azimuth)
	b = appendF32(b, a.Elevation)
	return appendF32(b, a.Train)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func onOff(on bool) byte {
	if on {
		return subOn
	}
	return subOff
}
