package track

import (
	"math"

	"github.com/star/trackgo/internal/transform"
)

// RateWindow is the number of consecutive sample deltas summed into one
// rate value: one second at the 100 ms cadence.
const RateWindow = 10

// ComputeMetrics derives pass metrics from an ordered point sequence.
//
// The azimuth rate at sample i is the sum of the unsigned wrap-aware azimuth
// deltas over the RateWindow deltas ending at i; elevation rate likewise.
// It is a cumulative displacement over the window, not a derivative, and
// keyhole thresholds are tuned against it. Acceleration is the absolute
// change between rates one window apart. Passes shorter than a window use
// all available deltas. On equal maxima the first occurrence is kept.
func ComputeMetrics(points []Point) Metrics {
	var m Metrics
	if len(points) == 0 {
		return m
	}

	m.PeakElevation = math.Inf(-1)
	for _, p := range points {
		if p.Elevation > m.PeakElevation {
			m.PeakElevation = p.Elevation
			m.PeakElevationTime = p.Time
			m.PeakElevationAzimuth = p.Azimuth
		}
	}
	if len(points) < 2 {
		m.MaxAzRateTime = points[0].Time
		m.MaxAzRateAzimuth = points[0].Azimuth
		return m
	}

	dAz := make([]float64, len(points))
	dEl := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		dAz[i] = math.Abs(transform.AzimuthDelta(points[i-1].Azimuth, points[i].Azimuth))
		dEl[i] = math.Abs(points[i].Elevation - points[i-1].Elevation)
	}

	w := RateWindow
	if len(points)-1 < w {
		w = len(points) - 1
	}

	azRate := make([]float64, len(points))
	elRate := make([]float64, len(points))
	var sumAz, sumEl float64
	first := true
	for i := 1; i < len(points); i++ {
		sumAz += dAz[i]
		sumEl += dEl[i]
		if i > w {
			sumAz -= dAz[i-w]
			sumEl -= dEl[i-w]
		}
		if i < w {
			continue
		}
		azRate[i], elRate[i] = sumAz, sumEl

		if first || azRate[i] > m.MaxAzRate {
			m.MaxAzRate = azRate[i]
			m.MaxAzRateTime = points[i].Time
			m.MaxAzRateAzimuth = points[i].Azimuth
		}
		if elRate[i] > m.MaxElRate {
			m.MaxElRate = elRate[i]
		}
		first = false

		if j := i - w; j >= w {
			m.MaxAzAccel = math.Max(m.MaxAzAccel, math.Abs(azRate[i]-azRate[j]))
			m.MaxElAccel = math.Max(m.MaxElAccel, math.Abs(elRate[i]-elRate[j]))
		}
	}
	return m
}

// Assess applies the keyhole trigger to m. appliedTrain is the train angle
// already applied to the points m was computed from; the recommendation is
// expressed relative to train zero. Non-keyhole passes recommend zero.
func Assess(m Metrics, lim Limits, appliedTrain float64) (keyhole bool, recommended float64) {
	if m.MaxAzRate < lim.AzRateThreshold {
		return false, 0
	}
	return true, HeuristicTrain(m.MaxAzRateAzimuth+appliedTrain, lim)
}

// HeuristicTrain returns the train angle that points the mount reference
// heading at peakAz: peakAz − RefOffset, as the smallest-magnitude
// equivalent inside the travel band.
func HeuristicTrain(peakAz float64, lim Limits) float64 {
	limit := lim.TravelLimit
	if limit <= 0 {
		limit = 270
	}
	return transform.NearestInTravel(transform.SmallerMagnitude(peakAz-lim.RefOffset), limit)
}
