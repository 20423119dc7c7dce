package transform

import "math"

// NormalizeAzimuth maps an angle in degrees into [0, 360).
func NormalizeAzimuth(az float64) float64 {
	az = math.Mod(az, 360)
	if az < 0 {
		az += 360
	}
	if az >= 360 {
		az = 0
	}
	return az
}

// SmallerMagnitude returns the equivalent of a (mod 360) with the smallest
// absolute value, in (-180, 180]. An exact ±180 tie resolves to +180.
func SmallerMagnitude(a float64) float64 {
	a = NormalizeAzimuth(a)
	if a > 180 {
		a -= 360
	}
	return a
}

// AzimuthDelta returns the signed change from → to, choosing the
// smaller-magnitude candidate across the 0/360 seam.
func AzimuthDelta(from, to float64) float64 {
	return SmallerMagnitude(to - from)
}

// Unwrap returns a continuous copy of a wrapped azimuth sequence. The first
// value is mapped to its smaller-magnitude equivalent; every later value is
// the previous one plus the wrap-aware delta, so adjacent values never
// differ by more than 180°.
func Unwrap(az []float64) []float64 {
	if len(az) == 0 {
		return nil
	}
	out := make([]float64, len(az))
	out[0] = SmallerMagnitude(az[0])
	for i := 1; i < len(az); i++ {
		out[i] = out[i-1] + AzimuthDelta(az[i-1], az[i])
	}
	return out
}

// LimitTravel folds an unwrapped azimuth into [-limit, limit] by whole turns.
// Values already inside the band are returned unchanged, which keeps a
// continuous track continuous for as long as it stays in travel.
func LimitTravel(az, limit float64) float64 {
	for az > limit {
		az -= 360
	}
	for az < -limit {
		az += 360
	}
	return az
}

// NearestInTravel returns the candidate among a and a±360 with the smallest
// magnitude that lies in [-limit, limit]. Ties go to the positive candidate.
// If no candidate fits, the folded value from LimitTravel is returned.
func NearestInTravel(a, limit float64) float64 {
	best := math.NaN()
	for _, c := range []float64{a, a - 360, a + 360} {
		if c < -limit || c > limit {
			continue
		}
		if math.IsNaN(best) || math.Abs(c) < math.Abs(best) || (math.Abs(c) == math.Abs(best) && c > best) {
			best = c
		}
	}
	if math.IsNaN(best) {
		return LimitTravel(a, limit)
	}
	return best
}
