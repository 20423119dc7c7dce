package keyhole

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/star/trackgo/internal/mount"
	"github.com/star/trackgo/internal/track"
	"github.com/star/trackgo/internal/transform"
)

var (
	testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	t0         = time.Date(2025, 2, 14, 6, 0, 0, 0, time.UTC)
)

// overheadTrack builds a raw pass along a great circle that crosses the
// sky east to west and culminates offset degrees north of zenith. The
// line of sight moves 0.05° per 100 ms sample.
func overheadTrack(offset float64) track.Track {
	const step = 0.05
	n := int(math.Round(160/step)) + 1
	cd, sd := math.Cos(offset*math.Pi/180), math.Sin(offset*math.Pi/180)

	pts := make([]track.Point, n)
	for i := range pts {
		th := (10 + float64(i)*step) * math.Pi / 180
		x, y, z := math.Cos(th), math.Sin(th)*sd, math.Sin(th)*cd
		pts[i] = track.Point{
			PassID:    42,
			Index:     i,
			Time:      t0.Add(time.Duration(i) * 100 * time.Millisecond),
			Azimuth:   transform.NormalizeAzimuth(math.Atan2(x, y) * 180 / math.Pi),
			Elevation: math.Asin(z) * 180 / math.Pi,
			Stage:     track.Raw,
		}
	}
	return track.Track{
		Pass:   track.Pass{ID: 42, SatID: 25544, SatName: "ISS (ZARYA)", Stage: track.Raw, Metrics: track.ComputeMetrics(pts)},
		Points: pts,
	}
}

type lookupMap map[int64]track.Track

func (m lookupMap) Raw(id int64) (track.Track, bool) {
	t, ok := m[id]
	return t, ok
}

func newProcessor(optimize bool, workers int) (*Processor, *mount.Transformer) {
	tf := mount.NewTransformer(10, track.DefaultLimits())
	return NewProcessor(tf, NewOptimizer(tf, workers), optimize, testLogger, nil), tf
}

func TestBetter(t *testing.T) {
	tests := []struct {
		name string
		a, b candidate
		want bool
	}{
		{"lower rate", candidate{angle: 90, rate: 1}, candidate{angle: 0, rate: 2}, true},
		{"higher rate", candidate{angle: 0, rate: 2}, candidate{angle: 90, rate: 1}, false},
		{"tie smaller magnitude", candidate{angle: 5, rate: 1}, candidate{angle: -10, rate: 1}, true},
		{"tie larger magnitude", candidate{angle: -10, rate: 1}, candidate{angle: 5, rate: 1}, false},
		{"tie same magnitude", candidate{angle: -10, rate: 1}, candidate{angle: 10, rate: 1}, true},
		{"identical", candidate{angle: 10, rate: 1}, candidate{angle: 10, rate: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := better(tt.a, tt.b); got != tt.want {
				t.Errorf("better(%+v, %+v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestGridClipsToTravel(t *testing.T) {
	tests := []struct {
		name               string
		center, span, step float64
		wantLen            int
		wantMin, wantMax   float64
	}{
		{"coarse unclipped", 0, 90, 10, 19, -90, 90},
		{"coarse clipped high", 250, 90, 10, 12, 160, 270},
		{"coarse clipped low", -265, 90, 10, 10, -265, -175},
		{"fine", 12.5, 5, 0.5, 21, 7.5, 17.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := grid(tt.center, tt.span, tt.step, 270)
			if len(g) != tt.wantLen {
				t.Fatalf("len = %d, want %d (%v)", len(g), tt.wantLen, g)
			}
			if g[0] != tt.wantMin || g[len(g)-1] != tt.wantMax {
				t.Errorf("range [%v, %v], want [%v, %v]", g[0], g[len(g)-1], tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestOptimizeDeterministic(t *testing.T) {
	raw := overheadTrack(1)
	tf := mount.NewTransformer(10, track.DefaultLimits())

	var first Result
	for i, workers := range []int{1, 4, 16, 1} {
		res, err := NewOptimizer(tf, workers).Optimize(context.Background(), raw, -7)
		if err != nil {
			t.Fatalf("Optimize: %v", err)
		}
		if i == 0 {
			first = res
			t.Logf("angle %.1f rate %.4f (heuristic %.1f rate %.4f) evaluations %d",
				res.Angle, res.PeakRate, res.Heuristic, res.HeuristicRate, res.Evaluations)
			continue
		}
		if res != first {
			t.Fatalf("run %d with %d workers = %+v, want %+v", i, workers, res, first)
		}
	}

	// Seed, 18 new coarse angles, 20 new fine angles.
	if first.Evaluations != 39 {
		t.Errorf("Evaluations = %d, want 39", first.Evaluations)
	}
	if first.PeakRate > first.HeuristicRate {
		t.Errorf("optimized rate %.4f above heuristic %.4f", first.PeakRate, first.HeuristicRate)
	}
	if got := tf.PeakRate(raw, first.Angle); got != first.PeakRate {
		t.Errorf("re-simulated rate %.6f != reported %.6f", got, first.PeakRate)
	}
}

func TestOptimizeCancelled(t *testing.T) {
	tf := mount.NewTransformer(10, track.DefaultLimits())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewOptimizer(tf, 2).Optimize(ctx, overheadTrack(1), 0); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestProcessKeyholeBranch(t *testing.T) {
	raw := overheadTrack(1)
	p, tf := newProcessor(true, 4)

	_, zero := tf.Apply(raw, 0, mount.Options{}, mount.Options{})
	if !zero.Pass.Keyhole {
		t.Fatalf("zero-train rate %.3f should trigger the keyhole", zero.Pass.Metrics.MaxAzRate)
	}

	out, err := p.Process(context.Background(), lookupMap{42: raw}, 42)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := []track.DataType{
		track.KeyholeAxisHeuristic, track.KeyholeFinalHeuristic,
		track.KeyholeAxisOptimized, track.KeyholeFinalOptimized,
	}
	if len(out) != len(want) {
		t.Fatalf("got %d records, want %d", len(out), len(want))
	}
	for i, rec := range out {
		if rec.Pass.Stage != want[i] || rec.Pass.ID != raw.Pass.ID {
			t.Errorf("record %d: stage %q id %d", i, rec.Pass.Stage, rec.Pass.ID)
		}
		if len(rec.Points) != len(raw.Points) {
			t.Errorf("record %d: %d points, want %d", i, len(rec.Points), len(raw.Points))
		}
		for j, pt := range rec.Points {
			if pt.PassID != raw.Pass.ID || pt.Stage != want[i] || pt.Train == nil {
				t.Fatalf("record %d point %d: %+v", i, j, pt)
			}
			if want[i].Final() && (pt.Azimuth < -270 || pt.Azimuth > 270) {
				t.Fatalf("record %d point %d azimuth %.2f outside travel", i, j, pt.Azimuth)
			}
		}
	}

	hFinal, oAxis, oFinal := out[1], out[2], out[3]
	heuristic := HeuristicAngle(raw, zero, tf.Limits())
	if hFinal.Pass.TrainAngle != heuristic {
		t.Errorf("heuristic train %.3f, want %.3f", hFinal.Pass.TrainAngle, heuristic)
	}
	if hFinal.Pass.Optimization != nil {
		t.Error("heuristic record carries an optimization")
	}

	opt := oFinal.Pass.Optimization
	if opt == nil || oAxis.Pass.Optimization == nil {
		t.Fatal("optimized records missing optimization")
	}
	t.Logf("zero %.3f heuristic %.1f° -> %.3f, optimized %.1f° -> %.3f",
		zero.Pass.Metrics.MaxAzRate, opt.HeuristicAngle, opt.HeuristicRate, opt.Angle, opt.PeakRate)

	if opt.PeakRate > opt.HeuristicRate {
		t.Errorf("optimized rate %.4f above heuristic %.4f", opt.PeakRate, opt.HeuristicRate)
	}
	if opt.HeuristicRate != hFinal.Pass.Metrics.MaxAzRate {
		t.Errorf("heuristic rate %.6f != heuristic record rate %.6f", opt.HeuristicRate, hFinal.Pass.Metrics.MaxAzRate)
	}
	if oFinal.Pass.Metrics.MaxAzRate != opt.PeakRate || oFinal.Pass.TrainAngle != opt.Angle {
		t.Errorf("optimized record rate %.6f train %.2f, want %.6f %.2f",
			oFinal.Pass.Metrics.MaxAzRate, oFinal.Pass.TrainAngle, opt.PeakRate, opt.Angle)
	}
	// The optimizer verdict survives the stages' own judgement.
	if !oFinal.Pass.Keyhole || oFinal.Pass.RecommendedTrain != opt.Angle {
		t.Errorf("optimized verdict overwritten: keyhole %v recommended %.2f", oFinal.Pass.Keyhole, oFinal.Pass.RecommendedTrain)
	}
}

func TestProcessHeuristicOnly(t *testing.T) {
	p, _ := newProcessor(false, 1)
	out, err := p.Process(context.Background(), lookupMap{42: overheadTrack(1)}, 42)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != 2 || out[0].Pass.Stage != track.KeyholeAxisHeuristic || out[1].Pass.Stage != track.KeyholeFinalHeuristic {
		t.Fatalf("got %d records", len(out))
	}
}

func TestProcessSkipsQuietPass(t *testing.T) {
	// A low pass far from either zenith sweeps azimuth slowly.
	raw := overheadTrack(60)
	p, _ := newProcessor(true, 2)
	out, err := p.Process(context.Background(), lookupMap{42: raw}, 42)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out != nil {
		t.Errorf("expected no keyhole records, got %d", len(out))
	}
}

func TestProcessAllSkipsMissingParent(t *testing.T) {
	raw := overheadTrack(1)
	p, _ := newProcessor(true, 2)

	out, err := p.ProcessAll(context.Background(), lookupMap{42: raw}, []int64{7, 42, 8})
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("got %d records, want 4 for the one resolvable pass", len(out))
	}
	for _, rec := range out {
		if rec.Pass.ID != 42 {
			t.Errorf("record for pass %d", rec.Pass.ID)
		}
	}
}

func TestHeuristicAngle(t *testing.T) {
	raw := overheadTrack(1)
	lim := track.DefaultLimits()
	tf := mount.NewTransformer(10, lim)
	_, zero := tf.Apply(raw, 0, mount.Options{}, mount.Options{})

	got := HeuristicAngle(raw, zero, lim)
	peak := azimuthAt(raw.Points, zero.Pass.Metrics.MaxAzRateTime)
	want := transform.SmallerMagnitude(peak - lim.RefOffset)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("HeuristicAngle = %.4f, want %.4f (peak az %.4f)", got, want, peak)
	}
	if got < -180 || got > 180 {
		t.Errorf("HeuristicAngle = %.4f not the smaller-magnitude rotation", got)
	}
}
