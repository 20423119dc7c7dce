package protocol

import (
	"encoding/binary"
	"time"
)

// StatusFrameLen is the declared telemetry frame length. Frames from newer
// firmware may be longer; the extra bytes precede the CRC and are ignored.
const StatusFrameLen = 190

const (
	statusReserved = 7
	boardCount     = 8
	supplyCount    = 4
)

// Flags is a status bit field. Bit 0 is the least significant bit, which is
// the first flag the controller documents for the field.
type Flags uint32

// Bit reports flag i.
func (f Flags) Bit(i int) bool {
	if i < 0 || i >= 32 {
		return false
	}
	return f&(1<<uint(i)) != 0
}

// Bits returns the first n flags in order, bit 0 first.
func (f Flags) Bits(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = f.Bit(i)
	}
	return out
}

// AxisStatus is the telemetry block of one axis.
type AxisStatus struct {
	Actual      float32 `json:"actual"`
	Commanded   float32 `json:"commanded"`
	Rate        float32 `json:"rate"`
	Current     float32 `json:"current"`
	Temperature float32 `json:"temperature"`
}

// RSSIPair is one receiver's A/B signal strength.
type RSSIPair struct {
	A float32 `json:"a"`
	B float32 `json:"b"`
}

// Status is the antenna status telemetry frame.
type Status struct {
	Time       time.Time `json:"time"`
	Mode       uint8     `json:"mode"`
	TrackState uint8     `json:"track_state"`

	// Azimuth, elevation, train.
	Axes [3]AxisStatus `json:"axes"`
	RSSI [3]RSSIPair   `json:"rssi"`

	Boards [boardCount]Flags `json:"boards"`
	Limits Flags             `json:"limits"`
	Alarms Flags             `json:"alarms"`

	TrackCommanded Angles `json:"track_commanded"`
	TrackActual    Angles `json:"track_actual"`
	TrackPassID    uint32 `json:"track_pass_id"`
	TrackIndex     uint16 `json:"track_index"`

	Supply [supplyCount]float32 `json:"supply"`

	Latitude  float32 `json:"latitude"`
	Longitude float32 `json:"longitude"`
	Altitude  float32 `json:"altitude"`

	Feed   uint8  `json:"feed"`
	Relays Flags  `json:"relays"`
	Tick   uint32 `json:"tick"`

	// FrameLen is the length of the frame the status was decoded from.
	FrameLen int `json:"frame_len"`
}

// Attitude returns the actual azimuth, elevation and train angles.
func (s *Status) Attitude() Angles {
	return Angles{Azimuth: s.Axes[0].Actual, Elevation: s.Axes[1].Actual, Train: s.Axes[2].Actual}
}

func decodeStatus(r *reader, _ byte) Message {
	s := &Status{}
	sec := r.u32()
	ms := r.u16()
	s.Time = time.Unix(int64(sec), int64(ms)*int64(time.Millisecond)).UTC()
	s.Mode = r.u8()
	s.TrackState = r.u8()
	for i := range s.Axes {
		s.Axes[i] = AxisStatus{
			Actual:      r.f32(),
			Commanded:   r.f32(),
			Rate:        r.f32(),
			Current:     r.f32(),
			Temperature: r.f32(),
		}
	}
	for i := range s.RSSI {
		s.RSSI[i] = RSSIPair{A: r.f32(), B: r.f32()}
	}
	for i := range s.Boards {
		s.Boards[i] = Flags(r.u16())
	}
	s.Limits = Flags(r.u16())
	s.Alarms = Flags(r.u32())
	s.TrackCommanded = r.angles()
	s.TrackActual = r.angles()
	s.TrackPassID = r.u32()
	s.TrackIndex = r.u16()
	for i := range s.Supply {
		s.Supply[i] = r.f32()
	}
	s.Latitude = r.f32()
	s.Longitude = r.f32()
	s.Altitude = r.f32()
	s.Feed = r.u8()
	s.Relays = Flags(r.u8())
	s.Tick = r.u32()
	r.skip(statusReserved)
	return s
}

func (s *Status) appendPayload(b []byte) ([]byte, error) {
	b = binary.BigEndian.AppendUint32(b, uint32(s.Time.Unix()))
	b = binary.BigEndian.AppendUint16(b, uint16(s.Time.Nanosecond()/int(time.Millisecond)))
	b = append(b, s.Mode, s.TrackState)
	for _, a := range s.Axes {
		for _, v := range []float32{a.Actual, a.Commanded, a.Rate, a.Current, a.Temperature} {
			b = appendF32(b, v)
		}
	}
	for _, p := range s.RSSI {
		b = appendF32(b, p.A)
		b = appendF32(b, p.B)
	}
	for _, f := range s.Boards {
		b = binary.BigEndian.AppendUint16(b, uint16(f))
	}
	b = binary.BigEndian.AppendUint16(b, uint16(s.Limits))
	b = binary.BigEndian.AppendUint32(b, uint32(s.Alarms))
	b = appendAngles(b, s.TrackCommanded)
	b = appendAngles(b, s.TrackActual)
	b = binary.BigEndian.AppendUint32(b, s.TrackPassID)
	b = binary.BigEndian.AppendUint16(b, s.TrackIndex)
	for _, v := range s.Supply {
		b = appendF32(b, v)
	}
	b = appendF32(b, s.Latitude)
	b = appendF32(b, s.Longitude)
	b = appendF32(b, s.Altitude)
	b = append(b, s.Feed, byte(s.Relays))
	b = binary.BigEndian.AppendUint32(b, s.Tick)
	return append(b, make([]byte, statusReserved)...), nil
}
