package protocol

import "encoding/binary"

// Message is a decoded inbound frame. The set of messages is closed.
type Message interface {
	frameBody
	message()
}

// EncodeMessage builds the controller-side frame for m. The tracking side
// only decodes these; encoding serves the controller emulator.
func EncodeMessage(m Message) ([]byte, error) { return encode(m) }

// TimeOffsetReply acknowledges SetTimeOffset.
type TimeOffsetReply struct {
	OffsetMs int32
	Applied  bool
}

// PositionOffsetReply acknowledges SetPositionOffset.
type PositionOffsetReply struct {
	Offset  Angles
	Applied bool
}

// ManualMoveReply acknowledges ManualMove.
type ManualMoveReply struct {
	Axis   Axis
	Angle  float32
	Speed  float32
	Result uint8
}

// MultiMoveReply acknowledges MultiMove.
type MultiMoveReply struct {
	Target Angles
	Speed  float32
	Result uint8
}

// StopReply reports the axes that were stopped.
type StopReply struct {
	Axes Flags
}

// StandbyReply acknowledges Standby.
type StandbyReply struct {
	Mode   uint8
	Result uint8
}

// FeedPowerReply reports the feed supply state.
type FeedPowerReply struct {
	On    bool
	State uint8
}

// TrackHeaderAck echoes an accepted TrackHeader.
type TrackHeaderAck struct {
	Header TrackHeader
	Status uint8
}

// TrackInitReply acknowledges TrackInit.
type TrackInitReply struct {
	Position Angles
	Mode     uint8
	Result   uint8
}

// DataRequest asks for Count track points of PassID from StartIndex.
type DataRequest struct {
	PassID     uint32
	StartIndex uint16
	Count      uint8
}

// EncoderPresetReply acknowledges EncoderPreset.
type EncoderPresetReply struct {
	Axis   Axis
	Counts int32
	Result uint8
}

// AlarmResetReply acknowledges AlarmReset.
type AlarmResetReply struct {
	Axis   Axis
	Result uint8
}

// VersionInfo is the firmware identification.
type VersionInfo struct {
	Major, Minor, Patch uint8
	Serial              uint32
	Build               uint32
}

// DefaultInfo is the controller's mechanical configuration in degrees.
type DefaultInfo struct {
	Tilt      float32
	RefOffset float32
	AzCW      float32
	AzCCW     float32
	ElMin     float32
	ElMax     float32
	TrainMin  float32
	TrainMax  float32
}

// PowerRelayReply reports one relay's state.
type PowerRelayReply struct {
	On    bool
	Relay uint8
	State uint8
}

// EmergencyStopReply acknowledges EmergencyStop.
type EmergencyStopReply struct {
	Result uint8
}

func (*Status) message()             {}
func (TimeOffsetReply) message()     {}
func (PositionOffsetReply) message() {}
func (ManualMoveReply) message()     {}
func (MultiMoveReply) message()      {}
func (StopReply) message()           {}
func (StandbyReply) message()        {}
func (FeedPowerReply) message()      {}
func (TrackHeaderAck) message()      {}
func (TrackInitReply) message()      {}
func (DataRequest) message()         {}
func (EncoderPresetReply) message()  {}
func (AlarmResetReply) message()     {}
func (VersionInfo) message()         {}
func (DefaultInfo) message()         {}
func (PowerRelayReply) message()     {}
func (EmergencyStopReply) message()  {}

func (*Status) Kind() Kind             { return KindStatus }
func (TimeOffsetReply) Kind() Kind     { return KindTimeOffset }
func (PositionOffsetReply) Kind() Kind { return KindPositionOffset }
func (ManualMoveReply) Kind() Kind     { return KindManualMove }
func (MultiMoveReply) Kind() Kind      { return KindMultiMove }
func (StopReply) Kind() Kind           { return KindStop }
func (StandbyReply) Kind() Kind        { return KindStandby }
func (FeedPowerReply) Kind() Kind      { return KindFeedPower }
func (TrackHeaderAck) Kind() Kind      { return KindTrackHeader }
func (TrackInitReply) Kind() Kind      { return KindTrackInit }
func (DataRequest) Kind() Kind         { return KindTrackData }
func (EncoderPresetReply) Kind() Kind  { return KindEncoderPreset }
func (AlarmResetReply) Kind() Kind     { return KindAlarmReset }
func (VersionInfo) Kind() Kind         { return KindVersion }
func (DefaultInfo) Kind() Kind         { return KindDefaultInfo }
func (PowerRelayReply) Kind() Kind     { return KindPowerRelay }
func (EmergencyStopReply) Kind() Kind  { return KindEmergencyStop }

func (*Status) letters() (byte, byte)              { return 'S', 0 }
func (TimeOffsetReply) letters() (byte, byte)      { return 'T', 0 }
func (PositionOffsetReply) letters() (byte, byte)  { return 'O', 0 }
func (m ManualMoveReply) letters() (byte, byte)    { return 'M', byte(m.Axis) }
func (MultiMoveReply) letters() (byte, byte)       { return 'M', 'X' }
func (StopReply) letters() (byte, byte)            { return 'P', 0 }
func (StandbyReply) letters() (byte, byte)         { return 'B', 0 }
func (m FeedPowerReply) letters() (byte, byte)     { return 'F', onOff(m.On) }
func (TrackHeaderAck) letters() (byte, byte)       { return 'K', 'H' }
func (TrackInitReply) letters() (byte, byte)       { return 'K', 'I' }
func (DataRequest) letters() (byte, byte)          { return 'K', 'D' }
func (m EncoderPresetReply) letters() (byte, byte) { return 'E', byte(m.Axis) }
func (m AlarmResetReply) letters() (byte, byte)    { return 'R', byte(m.Axis) }
func (VersionInfo) letters() (byte, byte)          { return 'V', 0 }
func (DefaultInfo) letters() (byte, byte)          { return 'D', 0 }
func (m PowerRelayReply) letters() (byte, byte)    { return 'W', onOff(m.On) }
func (EmergencyStopReply) letters() (byte, byte)   { return 'X', 0 }

func (m TimeOffsetReply) appendPayload(b []byte) ([]byte, error) {
	b = binary.BigEndian.AppendUint32(b, uint32(m.OffsetMs))
	return append(b, boolByte(m.Applied)), nil
}

func (m PositionOffsetReply) appendPayload(b []byte) ([]byte, error) {
	b = appendAngles(b, m.Offset)
	return append(b, boolByte(m.Applied)), nil
}

func (m ManualMoveReply) appendPayload(b []byte) ([]byte, error) {
	b = appendF32(b, m.Angle)
	b = appendF32(b, m.Speed)
	return append(b, m.Result), nil
}

func (m MultiMoveReply) appendPayload(b []byte) ([]byte, error) {
	b = appendAngles(b, m.Target)
	b = appendF32(b, m.Speed)
	return append(b, m.Result), nil
}

func (m StopReply) appendPayload(b []byte) ([]byte, error) {
	return append(b, byte(m.Axes)), nil
}

func (m StandbyReply) appendPayload(b []byte) ([]byte, error) {
	return append(b, m.Mode, m.Result), nil
}

func (m FeedPowerReply) appendPayload(b []byte) ([]byte, error) {
	return append(b, m.State), nil
}

func (m TrackHeaderAck) appendPayload(b []byte) ([]byte, error) {
	b, err := m.Header.appendPayload(b)
	if err != nil {
		return nil, err
	}
	return append(b, m.Status), nil
}

func (m TrackInitReply) appendPayload(b []byte) ([]byte, error) {
	b = appendAngles(b, m.Position)
	return append(b, m.Mode, m.Result), nil
}

func (m DataRequest) appendPayload(b []byte) ([]byte, error) {
	b = binary.BigEndian.AppendUint32(b, m.PassID)
	b = binary.BigEndian.AppendUint16(b, m.StartIndex)
	return append(b, m.Count), nil
}

func (m EncoderPresetReply) appendPayload(b []byte) ([]byte, error) {
	b = binary.BigEndian.AppendUint32(b, uint32(m.Counts))
	return append(b, m.Result), nil
}

func (m AlarmResetReply) appendPayload(b []byte) ([]byte, error) {
	return append(b, m.Result), nil
}

func (m VersionInfo) appendPayload(b []byte) ([]byte, error) {
	b = append(b, m.Major, m.Minor, m.Patch)
	b = binary.BigEndian.AppendUint32(b, m.Serial)
	return binary.BigEndian.AppendUint32(b, m.Build), nil
}

func (m DefaultInfo) appendPayload(b []byte) ([]byte, error) {
	for _, v := range []float32{m.Tilt, m.RefOffset, m.AzCW, m.AzCCW, m.ElMin, m.ElMax, m.TrainMin, m.TrainMax} {
		b = appendF32(b, v)
	}
	return b, nil
}

func (m PowerRelayReply) appendPayload(b []byte) ([]byte, error) {
	return append(b, m.Relay, m.State), nil
}

func (m EmergencyStopReply) appendPayload(b []byte) ([]byte, error) {
	return append(b, m.Result), nil
}

func decodeTimeOffset(r *reader, _ byte) Message {
	return TimeOffsetReply{OffsetMs: r.i32(), Applied: r.u8() != 0}
}

func decodePositionOffset(r *reader, _ byte) Message {
	return PositionOffsetReply{Offset: r.angles(), Applied: r.u8() != 0}
}

func decodeManualMove(r *reader, sub byte) Message {
	return ManualMoveReply{Axis: Axis(sub), Angle: r.f32(), Speed: r.f32(), Result: r.u8()}
}

func decodeMultiMove(r *reader, _ byte) Message {
	return MultiMoveReply{Target: r.angles(), Speed: r.f32(), Result: r.u8()}
}

func decodeStop(r *reader, _ byte) Message {
	return StopReply{Axes: Flags(r.u8())}
}

func decodeStandby(r *reader, _ byte) Message {
	return StandbyReply{Mode: r.u8(), Result: r.u8()}
}

func decodeFeedPower(r *reader, sub byte) Message {
	return FeedPowerReply{On: sub == subOn, State: r.u8()}
}

func decodeTrackHeader(r *reader, _ byte) Message {
	h := cmdTrackHeader(r, 0).(TrackHeader)
	return TrackHeaderAck{Header: h, Status: r.u8()}
}

func decodeTrackInit(r *reader, _ byte) Message {
	return TrackInitReply{Position: r.angles(), Mode: r.u8(), Result: r.u8()}
}

func decodeDataRequest(r *reader, _ byte) Message {
	return DataRequest{PassID: r.u32(), StartIndex: r.u16(), Count: r.u8()}
}

func decodeEncoderPreset(r *reader, sub byte) Message {
	return EncoderPresetReply{Axis: Axis(sub), Counts: r.i32(), Result: r.u8()}
}

func decodeAlarmReset(r *reader, sub byte) Message {
	return AlarmResetReply{Axis: Axis(sub), Result: r.u8()}
}

func decodeVersion(r *reader, _ byte) Message {
	return VersionInfo{Major: r.u8(), Minor: r.u8(), Patch: r.u8(), Serial: r.u32(), Build: r.u32()}
}

func decodeDefaultInfo(r *reader, _ byte) Message {
	return DefaultInfo{
		Tilt:      r.f32(),
		RefOffset: r.f32(),
		AzCW:      r.f32(),
		AzCCW:     r.f32(),
		ElMin:     r.f32(),
		ElMax:     r.f32(),
		TrainMin:  r.f32(),
		TrainMax:  r.f32(),
	}
}

func decodePowerRelay(r *reader, sub byte) Message {
	return PowerRelayReply{On: sub == subOn, Relay: r.u8(), State: r.u8()}
}

func decodeEmergencyStop(r *reader, _ byte) Message {
	return EmergencyStopReply{Result: r.u8()}
}
