package transform

import (
	"math"
	"testing"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestJulianDate(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
		want float64
	}{
		{"J2000.0", time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC), 2451545.0},
		{"unix epoch", time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), 2440587.5},
		// Vallado example 3-15.
		{"vallado", time.Date(2004, 4, 6, 7, 51, 28, 386009000, time.UTC), 2453101.827411875},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JulianDate(tt.time)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("JulianDate(%v) = %.10f, want %.10f", tt.time, got, tt.want)
			}
		})
	}
}

func TestGMSTMatchesLibrary(t *testing.T) {
	times := []time.Time{
		time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2004, 4, 6, 7, 51, 28, 0, time.UTC),
		time.Date(2025, 2, 14, 4, 19, 40, 0, time.UTC),
	}
	for _, tm := range times {
		ours := GMST(tm)
		ref := satellite.GSTimeFromDate(tm.Year(), int(tm.Month()), tm.Day(), tm.Hour(), tm.Minute(), tm.Second())
		if d := math.Abs(ours - ref); d > 1e-8 {
			t.Errorf("GMST(%v) = %.12f, library %.12f (diff %.2e)", tm, ours, ref, d)
		}
	}
}

func TestToECEFMatchesLibrary(t *testing.T) {
	tests := []struct {
		name string
		pos  r3.Vec
		time time.Time
	}{
		{"vallado 3-15", r3.Vec{X: 5094.18016, Y: 6127.64465, Z: 6380.34453}, time.Date(2004, 4, 6, 7, 51, 28, 0, time.UTC)},
		{"LEO equatorial", r3.Vec{X: 6778}, time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)},
		{"LEO polar", r3.Vec{Z: 6978}, time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gmst := satellite.GSTimeFromDate(tt.time.Year(), int(tt.time.Month()), tt.time.Day(),
				tt.time.Hour(), tt.time.Minute(), tt.time.Second())
			got := ToECEFAt(StateTEME{Position: tt.pos}, gmst)
			ref := satellite.ECIToECEF(satellite.Vector3{X: tt.pos.X, Y: tt.pos.Y, Z: tt.pos.Z}, gmst)

			want := r3.Vec{X: ref.X * 1000, Y: ref.Y * 1000, Z: ref.Z * 1000}
			if d := r3.Norm(r3.Sub(got.Position, want)); d > 1.0 {
				t.Errorf("position %v differs from library %v by %.3f m", got.Position, want, d)
			}
			if !Plausible(got) {
				t.Errorf("state %v not plausible", got.Position)
			}
		})
	}
}

func TestToECEFVelocityRemovesEarthRotation(t *testing.T) {
	s := StateTEME{Position: r3.Vec{X: 6778}, Velocity: r3.Vec{Y: 7.5}}
	got := ToECEFAt(s, 0)

	want := (7.5 - EarthRotationRate*6778.0) * 1000.0
	if math.Abs(got.Velocity.Y-want) > 0.1 {
		t.Errorf("VY = %.2f m/s, want %.2f", got.Velocity.Y, want)
	}
	if math.Abs(got.Position.X-6778e3) > 0.1 {
		t.Errorf("X = %.2f m, want 6778000", got.Position.X)
	}
}

func TestPlausible(t *testing.T) {
	tests := []struct {
		name string
		pos  r3.Vec
		want bool
	}{
		{"LEO", r3.Vec{X: 6778e3}, true},
		{"GEO", r3.Vec{X: 42164e3}, true},
		{"inside earth", r3.Vec{X: 5000e3}, false},
		{"too far", r3.Vec{X: 60000e3}, false},
		{"NaN", r3.Vec{X: math.NaN()}, false},
		{"Inf", r3.Vec{Y: math.Inf(-1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Plausible(StateECEF{Position: tt.pos}); got != tt.want {
				t.Errorf("Plausible(%v) = %v, want %v", tt.pos, got, tt.want)
			}
		})
	}
}
