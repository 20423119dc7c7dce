package transform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const deg = math.Pi / 180.0

var (
	axisEast = r3.Vec{X: 1}
	axisUp   = r3.Vec{Z: 1}
)

// LineOfSight returns the unit pointing vector for an azimuth/elevation pair
// in a local East-North-Up frame.
func LineOfSight(azDeg, elDeg float64) r3.Vec {
	az, el := azDeg*deg, elDeg*deg
	return r3.Vec{
		X: math.Cos(el) * math.Sin(az),
		Y: math.Cos(el) * math.Cos(az),
		Z: math.Sin(el),
	}
}

// MountFrame rotates station-frame pointing into the frame of a 3-axis mount
// whose azimuth axis is tilted by Tilt degrees toward the train heading.
//
// The train axis turns the whole az/el head about local vertical, so a
// train angle of T makes mount azimuth zero face station azimuth T. The
// tilt then leans the azimuth axis toward that heading, which moves the
// mount's own zenith off the station zenith.
type MountFrame struct {
	Tilt float64 // degrees
}

// Angles maps a station az/el into mount az/el for the given train angle.
// Mount azimuth is returned in [0, 360).
func (f MountFrame) Angles(azDeg, elDeg, trainDeg float64) (mountAz, mountEl float64) {
	return f.rotation(trainDeg).angles(LineOfSight(azDeg, elDeg))
}

// Rotator returns a reusable rotation for one train angle, avoiding
// rebuilding the quaternions per sample.
func (f MountFrame) Rotator(trainDeg float64) Rotator {
	return f.rotation(trainDeg)
}

// Rotator applies a fixed train/tilt rotation.
type Rotator struct {
	train r3.Rotation
	tilt  r3.Rotation
}

// Angles maps a station az/el into mount az/el.
func (r Rotator) Angles(azDeg, elDeg float64) (float64, float64) {
	return r.angles(LineOfSight(azDeg, elDeg))
}

func (f MountFrame) rotation(trainDeg float64) Rotator {
	return Rotator{
		train: r3.NewRotation(trainDeg*deg, axisUp),
		tilt:  r3.NewRotation(f.Tilt*deg, axisEast),
	}
}

func (r Rotator) angles(v r3.Vec) (float64, float64) {
	v = r.tilt.Rotate(r.train.Rotate(v))
	z := math.Max(-1, math.Min(1, v.Z))
	az := NormalizeAzimuth(math.Atan2(v.X, v.Y) / deg)
	return az, math.Asin(z) / deg
}

// MountAngles is shorthand for MountFrame{Tilt: tilt}.Angles(az, el, train).
func MountAngles(az, el, train, tilt float64) (float64, float64) {
	return MountFrame{Tilt: tilt}.Angles(az, el, train)
}
