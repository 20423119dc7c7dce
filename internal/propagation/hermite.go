package propagation

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/trackgo/internal/transform"
)

// hermite interpolates between two states one second apart. tau is the
// fraction of the second elapsed since a. Positions follow the cubic
// Hermite basis using the endpoint velocities as tangents; velocities are
// the derivative of that cubic.
func hermite(a, b transform.StateTEME, tau float64) transform.StateTEME {
	t2 := tau * tau
	t3 := t2 * tau

	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + tau
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2

	d00 := 6*t2 - 6*tau
	d10 := 3*t2 - 4*tau + 1
	d01 := -6*t2 + 6*tau
	d11 := 3*t2 - 2*tau

	return transform.StateTEME{
		Position: combine(h00, a.Position, h10, a.Velocity, h01, b.Position, h11, b.Velocity),
		Velocity: combine(d00, a.Position, d10, a.Velocity, d01, b.Position, d11, b.Velocity),
	}
}

func combine(c0 float64, v0 r3.Vec, c1 float64, v1 r3.Vec, c2 float64, v2 r3.Vec, c3 float64, v3 r3.Vec) r3.Vec {
	return r3.Add(r3.Add(r3.Scale(c0, v0), r3.Scale(c1, v1)), r3.Add(r3.Scale(c2, v2), r3.Scale(c3, v3)))
}
