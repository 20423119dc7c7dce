package track

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2025, 2, 14, 6, 0, 0, 0, time.UTC)

// series builds points at 100 ms cadence from parallel az/el slices.
func series(az, el []float64) []Point {
	pts := make([]Point, len(az))
	for i := range az {
		pts[i] = Point{
			Index:     i,
			Time:      t0.Add(time.Duration(i) * 100 * time.Millisecond),
			Azimuth:   az[i],
			Elevation: el[i],
			Stage:     Raw,
		}
	}
	return pts
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestComputeMetricsConstantRate(t *testing.T) {
	m := ComputeMetrics(series(ramp(40, 10, 0.5), ramp(40, 5, 0.2)))

	if math.Abs(m.MaxAzRate-5.0) > 1e-9 {
		t.Errorf("MaxAzRate = %v, want 5", m.MaxAzRate)
	}
	if math.Abs(m.MaxElRate-2.0) > 1e-9 {
		t.Errorf("MaxElRate = %v, want 2", m.MaxElRate)
	}
	if m.MaxAzAccel > 1e-9 || m.MaxElAccel > 1e-9 {
		t.Errorf("accel = %v/%v, want 0", m.MaxAzAccel, m.MaxElAccel)
	}
	// First full window ends at index RateWindow.
	if want := t0.Add(RateWindow * 100 * time.Millisecond); !m.MaxAzRateTime.Equal(want) {
		t.Errorf("MaxAzRateTime = %v, want %v", m.MaxAzRateTime, want)
	}
	if math.Abs(m.MaxAzRateAzimuth-15) > 1e-9 {
		t.Errorf("MaxAzRateAzimuth = %v, want 15", m.MaxAzRateAzimuth)
	}
	if math.Abs(m.PeakElevation-(5+39*0.2)) > 1e-9 {
		t.Errorf("PeakElevation = %v", m.PeakElevation)
	}
}

func TestComputeMetricsAcrossNorth(t *testing.T) {
	wrapped := make([]float64, 30)
	for i := range wrapped {
		wrapped[i] = math.Mod(350+float64(i), 360)
	}
	el := ramp(30, 20, 0)

	a := ComputeMetrics(series(wrapped, el))
	b := ComputeMetrics(series(ramp(30, 350, 1), el))
	if math.Abs(a.MaxAzRate-10) > 1e-9 || math.Abs(a.MaxAzRate-b.MaxAzRate) > 1e-9 {
		t.Errorf("wrapped rate %v, unwrapped %v, want 10", a.MaxAzRate, b.MaxAzRate)
	}
}

func TestComputeMetricsShortPass(t *testing.T) {
	m := ComputeMetrics(series(ramp(5, 100, 1), ramp(5, 10, 0)))
	if math.Abs(m.MaxAzRate-4) > 1e-9 {
		t.Errorf("MaxAzRate = %v, want 4 (all deltas)", m.MaxAzRate)
	}

	single := ComputeMetrics(series([]float64{42}, []float64{12}))
	if single.MaxAzRate != 0 || single.PeakElevation != 12 || single.MaxAzRateAzimuth != 42 {
		t.Errorf("single point metrics = %+v", single)
	}

	if m := ComputeMetrics(nil); m != (Metrics{}) {
		t.Errorf("empty metrics = %+v", m)
	}
}

func TestComputeMetricsSpike(t *testing.T) {
	az := ramp(60, 0, 0.125)
	for i := 31; i < 60; i++ {
		az[i] += 20 // one 20° jump between samples 30 and 31
	}
	m := ComputeMetrics(series(az, ramp(60, 30, 0)))

	want := 20 + 0.125*RateWindow
	if math.Abs(m.MaxAzRate-want) > 1e-9 {
		t.Errorf("MaxAzRate = %v, want %v", m.MaxAzRate, want)
	}
	// Every window containing the jump ties; the first one wins.
	if !m.MaxAzRateTime.Equal(t0.Add(31 * 100 * time.Millisecond)) {
		t.Errorf("MaxAzRateTime = %v, want sample 31", m.MaxAzRateTime)
	}
	if m.MaxAzAccel < 19.9 {
		t.Errorf("MaxAzAccel = %v, want ~20", m.MaxAzAccel)
	}
}

func TestAssess(t *testing.T) {
	lim := DefaultLimits()
	tests := []struct {
		name    string
		rate    float64
		peakAz  float64
		applied float64
		keyhole bool
		train   float64
	}{
		{"below threshold", 1.99, 90, 0, false, 0},
		{"at threshold", 2.0, 90, 0, true, 83},
		{"above threshold", 35, 263, 0, true, -104},
		{"applied train shifts heading", 10, 50, 40, true, 83},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, train := Assess(Metrics{MaxAzRate: tt.rate, MaxAzRateAzimuth: tt.peakAz}, lim, tt.applied)
			if k != tt.keyhole || math.Abs(train-tt.train) > 1e-9 {
				t.Errorf("Assess = (%v, %v), want (%v, %v)", k, train, tt.keyhole, tt.train)
			}
		})
	}
}

func TestHeuristicTrain(t *testing.T) {
	lim := DefaultLimits()
	tests := []struct{ peak, want float64 }{
		{7, 0},
		{0, -7},
		{187, 180},
		{190, -177},
		{-90, -97},
		{365, -2},
	}
	for _, tt := range tests {
		got := HeuristicTrain(tt.peak, lim)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("HeuristicTrain(%v) = %v, want %v", tt.peak, got, tt.want)
		}
		if got < -lim.TravelLimit || got > lim.TravelLimit {
			t.Errorf("HeuristicTrain(%v) = %v outside travel", tt.peak, got)
		}
	}
}

func TestParseDataType(t *testing.T) {
	for _, d := range DataTypes {
		got, err := ParseDataType(string(d))
		if err != nil || got != d {
			t.Errorf("ParseDataType(%q) = %q, %v", d, got, err)
		}
	}
	if _, err := ParseDataType("angle_limited"); err == nil {
		t.Error("expected error for unknown tag")
	}
	if !KeyholeFinalOptimized.Final() || !KeyholeFinalOptimized.Keyhole() || Raw.Final() || AxisTransformed.Keyhole() {
		t.Error("stage predicates wrong")
	}
}

func TestClonePointsDeep(t *testing.T) {
	train := 12.5
	src := []Point{{Index: 0, Train: &train}}
	dst := ClonePoints(src)
	*dst[0].Train = 99
	if train != 12.5 {
		t.Error("ClonePoints shared the Train pointer")
	}

	tr := Track{Pass: Pass{ID: 1}, Points: dst}
	tr.Restamp(77)
	if tr.Pass.ID != 77 || tr.Points[0].PassID != 77 {
		t.Errorf("Restamp left %+v", tr)
	}
}
