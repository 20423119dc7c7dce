package transform

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestNewStationRadius(t *testing.T) {
	if r := r3.Norm(NewStation(0, 0, 0).ECEF()); math.Abs(r-6378137.0) > 1 {
		t.Errorf("equatorial radius = %.1f, want 6378137", r)
	}
	if r := r3.Norm(NewStation(90, 0, 0).ECEF()); math.Abs(r-6356752.3) > 1 {
		t.Errorf("polar radius = %.1f, want 6356752.3", r)
	}
	d := r3.Norm(NewStation(0, 0, 100).ECEF()) - r3.Norm(NewStation(0, 0, 0).ECEF())
	if math.Abs(d-100) > 0.01 {
		t.Errorf("100 m altitude moved radius by %.3f m", d)
	}
}

func TestGeodeticRoundTrip(t *testing.T) {
	for _, c := range [][3]float64{{37.5, 127.0, 50}, {-33.9, 18.4, 0}, {0, -74, 400e3}, {89.9, 10, 1000}} {
		lat, lon, alt := Geodetic(NewStation(c[0], c[1], c[2]).ECEF())
		if math.Abs(lat-c[0]) > 1e-7 || math.Abs(lon-c[1]) > 1e-7 || math.Abs(alt-c[2]) > 1e-3 {
			t.Errorf("Geodetic(%v) = %.8f, %.8f, %.4f", c, lat, lon, alt)
		}
	}
}

func TestLook(t *testing.T) {
	st := NewStation(0, 0, 0)
	above := func(lat, lon float64) StateECEF {
		return StateECEF{Position: NewStation(lat, lon, 400e3).ECEF()}
	}

	zenith := st.Look(above(0, 0))
	if math.Abs(zenith.Elevation-90) > 0.01 {
		t.Errorf("overhead elevation = %.3f, want 90", zenith.Elevation)
	}
	if math.Abs(zenith.RangeKm-400) > 0.5 {
		t.Errorf("overhead range = %.2f km, want 400", zenith.RangeKm)
	}
	if math.Abs(zenith.AltitudeKm-400) > 0.01 {
		t.Errorf("altitude = %.3f km, want 400", zenith.AltitudeKm)
	}

	tests := []struct {
		name     string
		lat, lon float64
		wantAz   float64
	}{
		{"north", 10, 0, 0},
		{"east", 0, 10, 90},
		{"south", -10, 0, 180},
		{"west", 0, -10, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			la := st.Look(above(tt.lat, tt.lon))
			if d := math.Abs(AzimuthDelta(tt.wantAz, la.Azimuth)); d > 1 {
				t.Errorf("azimuth = %.2f, want %.0f", la.Azimuth, tt.wantAz)
			}
			if la.Azimuth < 0 || la.Azimuth >= 360 {
				t.Errorf("azimuth %.3f outside [0,360)", la.Azimuth)
			}
			if la.Elevation <= 0 || la.Elevation >= 90 {
				t.Errorf("elevation = %.2f, want inside (0, 90)", la.Elevation)
			}
		})
	}
}
