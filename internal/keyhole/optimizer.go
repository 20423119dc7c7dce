// Package keyhole detects passes whose azimuth sweep near zenith exceeds the
// mount's rate limit and searches for a train angle that tames it.
package keyhole

import (
	"context"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/trackgo/internal/mount"
	"github.com/star/trackgo/internal/track"
)

// Search grid: seed, then seed ± coarseSpan at coarseStep, then the coarse
// winner ± fineSpan at fineStep.
const (
	coarseSpan = 90.0
	coarseStep = 10.0
	fineSpan   = 5.0
	fineStep   = 0.5
)

// Result is the optimizer's outcome for one pass.
type Result struct {
	Angle         float64
	PeakRate      float64
	Evaluations   int
	Heuristic     float64
	HeuristicRate float64
}

// Optimizer runs the train-angle grid search. Each candidate is a full
// transform, limit and metrics simulation of the raw pass.
type Optimizer struct {
	tf      *mount.Transformer
	workers int
}

// NewOptimizer creates an Optimizer evaluating up to workers candidates at
// once; zero or less uses GOMAXPROCS.
func NewOptimizer(tf *mount.Transformer, workers int) *Optimizer {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{tf: tf, workers: workers}
}

type candidate struct {
	angle float64
	rate  float64
}

// better orders candidates: lower rate, then smaller |angle|, then the
// lower angle.
func better(a, b candidate) bool {
	if a.rate != b.rate {
		return a.rate < b.rate
	}
	if math.Abs(a.angle) != math.Abs(b.angle) {
		return math.Abs(a.angle) < math.Abs(b.angle)
	}
	return a.angle < b.angle
}

// Optimize searches train angles around seed for the lowest resulting peak
// azimuth rate. The outcome does not depend on evaluation order.
func (o *Optimizer) Optimize(ctx context.Context, raw track.Track, seed float64) (Result, error) {
	limit := o.tf.Limits().TravelLimit
	rates := make(map[float64]float64)

	eval := func(angles []float64) (candidate, error) {
		var todo []float64
		for _, a := range angles {
			if _, ok := rates[a]; !ok {
				todo = append(todo, a)
				rates[a] = math.NaN()
			}
		}
		out := make([]float64, len(todo))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.workers)
		for i, a := range todo {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				out[i] = o.tf.PeakRate(raw, a)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return candidate{}, err
		}
		for i, a := range todo {
			rates[a] = out[i]
		}

		best := candidate{angle: angles[0], rate: rates[angles[0]]}
		for _, a := range angles[1:] {
			if c := (candidate{angle: a, rate: rates[a]}); better(c, best) {
				best = c
			}
		}
		return best, nil
	}

	seedC, err := eval([]float64{seed})
	if err != nil {
		return Result{}, err
	}
	coarse, err := eval(append(grid(seed, coarseSpan, coarseStep, limit), seed))
	if err != nil {
		return Result{}, err
	}
	fine, err := eval(append(grid(coarse.angle, fineSpan, fineStep, limit), coarse.angle))
	if err != nil {
		return Result{}, err
	}

	best := seedC
	for _, c := range []candidate{coarse, fine} {
		if better(c, best) {
			best = c
		}
	}
	return Result{
		Angle:         best.angle,
		PeakRate:      best.rate,
		Evaluations:   len(rates),
		Heuristic:     seed,
		HeuristicRate: seedC.rate,
	}, nil
}

// grid returns center ± span at step, dropping angles outside ±limit.
// Angles are built from integer multiples so repeated runs produce
// identical values.
func grid(center, span, step, limit float64) []float64 {
	n := int(math.Round(span / step))
	out := make([]float64, 0, 2*n+1)
	for k := -n; k <= n; k++ {
		a := center + float64(k)*step
		if a < -limit || a > limit {
			continue
		}
		out = append(out, a)
	}
	sort.Float64s(out)
	return out
}

// HeuristicAngle returns the baseline train angle for a keyhole pass: the
// mount reference heading pointed at the sky azimuth where final (computed
// at train zero) reached its peak rate.
func HeuristicAngle(raw, final track.Track, lim track.Limits) float64 {
	return track.HeuristicTrain(azimuthAt(raw.Points, final.Pass.Metrics.MaxAzRateTime), lim)
}

// azimuthAt returns the azimuth of the last point at or before at.
func azimuthAt(points []track.Point, at time.Time) float64 {
	if len(points) == 0 {
		return 0
	}
	i := sort.Search(len(points), func(i int) bool { return points[i].Time.After(at) })
	if i > 0 {
		i--
	}
	return points[i].Azimuth
}
