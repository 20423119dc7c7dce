package transform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// WGS-84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// Station is a ground antenna site. The Earth-fixed position and the
// local rotation terms are computed once in NewStation.
type Station struct {
	LatDeg, LonDeg, AltM float64

	ecef                           r3.Vec
	sinLat, cosLat, sinLon, cosLon float64
}

// Topocentric is one station-relative sample of a satellite.
type Topocentric struct {
	Azimuth    float64 // degrees, [0, 360), clockwise from north
	Elevation  float64 // degrees
	RangeKm    float64
	AltitudeKm float64 // above the ellipsoid
}

// NewStation builds a station from geodetic degrees and meters.
func NewStation(latDeg, lonDeg, altM float64) Station {
	s := Station{LatDeg: latDeg, LonDeg: lonDeg, AltM: altM}
	s.sinLat, s.cosLat = math.Sincos(latDeg * deg)
	s.sinLon, s.cosLon = math.Sincos(lonDeg * deg)

	n := wgs84A / math.Sqrt(1-wgs84E2*s.sinLat*s.sinLat)
	s.ecef = r3.Vec{
		X: (n + altM) * s.cosLat * s.cosLon,
		Y: (n + altM) * s.cosLat * s.sinLon,
		Z: (n*(1-wgs84E2) + altM) * s.sinLat,
	}
	return s
}

// ECEF returns the station position in meters.
func (s Station) ECEF() r3.Vec { return s.ecef }

// ENU expresses an Earth-fixed vector relative to the station in local
// East-North-Up meters.
func (s Station) ENU(p r3.Vec) r3.Vec {
	d := r3.Sub(p, s.ecef)
	return r3.Vec{
		X: -s.sinLon*d.X + s.cosLon*d.Y,
		Y: -s.sinLat*s.cosLon*d.X - s.sinLat*s.sinLon*d.Y + s.cosLat*d.Z,
		Z: s.cosLat*s.cosLon*d.X + s.cosLat*s.sinLon*d.Y + s.sinLat*d.Z,
	}
}

// Look returns azimuth, elevation, range and altitude of an Earth-fixed
// satellite state as seen from the station.
func (s Station) Look(sat StateECEF) Topocentric {
	enu := s.ENU(sat.Position)
	rng := r3.Norm(enu)
	var el float64
	if rng > 0 {
		el = math.Asin(math.Max(-1, math.Min(1, enu.Z/rng))) / deg
	}
	_, _, alt := Geodetic(sat.Position)
	return Topocentric{
		Azimuth:    NormalizeAzimuth(math.Atan2(enu.X, enu.Y) / deg),
		Elevation:  el,
		RangeKm:    rng / 1000,
		AltitudeKm: alt / 1000,
	}
}

// Geodetic converts an Earth-fixed position in meters to latitude and
// longitude in degrees and height above the ellipsoid in meters, using
// Bowring's iteration.
func Geodetic(p r3.Vec) (latDeg, lonDeg, altM float64) {
	lon := math.Atan2(p.Y, p.X)
	rho := math.Hypot(p.X, p.Y)
	lat := math.Atan2(p.Z, rho*(1-wgs84E2))

	var n float64
	for i := 0; i < 5; i++ {
		sin := math.Sin(lat)
		n = wgs84A / math.Sqrt(1-wgs84E2*sin*sin)
		lat = math.Atan2(p.Z+wgs84E2*n*sin, rho)
	}

	sin, cos := math.Sincos(lat)
	n = wgs84A / math.Sqrt(1-wgs84E2*sin*sin)
	if math.Abs(cos) > 1e-10 {
		altM = rho/cos - n
	} else {
		altM = math.Abs(p.Z)/math.Abs(sin) - n*(1-wgs84E2)
	}
	return lat / deg, lon / deg, altM
}
