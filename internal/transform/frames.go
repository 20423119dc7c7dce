// Package transform holds the geometry shared by the tracking pipeline:
// the inertial to Earth-fixed rotation, station look angles, azimuth
// wrapping and the 3-axis mount rotation.
//
// TEME to ECEF uses a GMST-only rotation (no polar motion or equation of
// the equinoxes). The residual is tens of meters, far below antenna beam
// width at LEO ranges.
package transform

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// EarthRotationRate is the IAU rotation rate in rad/s.
	EarthRotationRate = 7.292115146706979e-5

	unixEpochJD = 2440587.5
	j2000JD     = 2451545.0
)

// JulianDate returns the UTC Julian date of t, including fractional seconds.
func JulianDate(t time.Time) float64 {
	return unixEpochJD + float64(t.UnixNano())/86400e9
}

// GMST returns Greenwich mean sidereal time in radians (IAU-82,
// Vallado eq. 3-47).
func GMST(t time.Time) float64 {
	tu := (JulianDate(t) - j2000JD) / 36525.0
	sec := 67310.54841 + (876600.0*3600.0+8640184.812866)*tu + 0.093104*tu*tu - 6.2e-6*tu*tu*tu
	sec = math.Mod(sec, 86400.0)
	if sec < 0 {
		sec += 86400.0
	}
	return sec / 86400.0 * 2 * math.Pi
}

// StateTEME is an SGP4 output state: km and km/s in the TEME frame.
type StateTEME struct {
	Position r3.Vec
	Velocity r3.Vec
}

// StateECEF is an Earth-fixed state in meters and m/s.
type StateECEF struct {
	Position r3.Vec
	Velocity r3.Vec
}

// ToECEF rotates s into the Earth-fixed frame at time t.
func ToECEF(s StateTEME, t time.Time) StateECEF {
	return ToECEFAt(s, GMST(t))
}

// ToECEFAt rotates s by a precomputed GMST angle. The velocity drops the
// frame rotation term: v' = R·v − ω × r'.
func ToECEFAt(s StateTEME, gmst float64) StateECEF {
	rot := r3.NewRotation(-gmst, axisUp)
	pos := rot.Rotate(s.Position)
	omega := r3.Vec{Z: EarthRotationRate}
	vel := r3.Sub(rot.Rotate(s.Velocity), r3.Cross(omega, pos))
	return StateECEF{
		Position: r3.Scale(1000, pos),
		Velocity: r3.Scale(1000, vel),
	}
}

// Plausible reports whether s is finite and sits between 6200 km and
// 50000 km from the geocenter.
func Plausible(s StateECEF) bool {
	p := s.Position
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	r := r3.Norm(p)
	return r >= 6200e3 && r <= 50000e3
}
