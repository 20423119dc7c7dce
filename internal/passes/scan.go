package passes

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/star/trackgo/internal/track"
	"github.com/star/trackgo/internal/transform"
)

// Looker yields station-relative samples of one satellite.
type Looker interface {
	Look(t time.Time) (transform.Topocentric, error)
}

// ScanConfig controls the visibility scan.
type ScanConfig struct {
	Start           time.Time
	Duration        time.Duration
	MinElevation    float64 // degrees; a sample exactly at the threshold is visible
	CoarseStep      time.Duration
	FineStep        time.Duration
	MinPassDuration time.Duration // shorter windows are dropped; 0 keeps all
	MaxWindows      int           // 0 means unlimited
}

const (
	defaultCoarseStep = 30 * time.Second
	defaultFineStep   = time.Second

	// widenMargin is how far below the running peak elevation a window
	// must fall before the scan may widen to the coarse step.
	widenMargin = 5.0
)

func (c ScanConfig) withDefaults() ScanConfig {
	if c.CoarseStep <= 0 {
		c.CoarseStep = defaultCoarseStep
	}
	if c.FineStep <= 0 {
		c.FineStep = defaultFineStep
	}
	if c.FineStep > c.CoarseStep {
		c.FineStep = c.CoarseStep
	}
	return c
}

// sample is one evaluated instant.
type sample struct {
	t time.Time
	transform.Topocentric
}

// Scan walks [cfg.Start, cfg.Start+cfg.Duration] and returns the visibility
// windows in time order.
//
// Outside a window the scan advances at the coarse step. When a coarse
// sample rises above the threshold it backs up to the last sample below
// and rescans at the fine step to localise the rise. Inside a window it
// samples finely until elevation has fallen widenMargin below the running
// peak; from there it probes one coarse step ahead and takes it only if the
// probe is still visible, otherwise it stays fine through the exit. A window
// still open at the end of the scan closes at the last sample.
func Scan(ctx context.Context, l Looker, cfg ScanConfig) ([]track.Window, error) {
	cfg = cfg.withDefaults()
	end := cfg.Start.Add(cfg.Duration)

	var memo *sample
	look := func(t time.Time) (sample, error) {
		if memo != nil && memo.t.Equal(t) {
			return *memo, nil
		}
		tp, err := l.Look(t)
		if err != nil {
			return sample{}, fmt.Errorf("sampling %s: %w", t.Format(time.RFC3339Nano), err)
		}
		memo = &sample{t: t, Topocentric: tp}
		return *memo, nil
	}
	clamp := func(t time.Time) time.Time {
		if t.After(end) {
			return end
		}
		return t
	}

	var (
		windows   []track.Window
		open      *builder
		refining  bool // fine steps outside a window after a coarse rise
		riseAt    time.Time
		lastBelow time.Time
		haveBelow bool
	)

	emit := func(w track.Window) bool {
		if !w.End.After(w.Start) || w.Duration() < cfg.MinPassDuration {
			return true
		}
		windows = append(windows, w)
		return cfg.MaxWindows <= 0 || len(windows) < cfg.MaxWindows
	}

	t := cfg.Start
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := look(t)
		if err != nil {
			return nil, err
		}
		visible := s.Elevation >= cfg.MinElevation

		switch {
		case open == nil && !visible:
			lastBelow, haveBelow = t, true
			if refining && !t.Before(riseAt) {
				refining = false
			}
			if refining {
				t = t.Add(cfg.FineStep)
			} else {
				t = t.Add(cfg.CoarseStep)
			}

		case open == nil && visible && haveBelow && !refining && cfg.CoarseStep > cfg.FineStep:
			// Rise seen on a coarse step: localise it.
			refining, riseAt = true, t
			t = lastBelow.Add(cfg.FineStep)
			continue

		case open == nil && visible:
			refining = false
			open = newBuilder(s)
			t = t.Add(cfg.FineStep)

		case open != nil && !visible:
			if !emit(open.close()) {
				return windows, nil
			}
			open = nil
			lastBelow, haveBelow = t, true
			t = t.Add(cfg.CoarseStep)

		default:
			open.add(s)
			next := t.Add(cfg.FineStep)
			if s.Elevation < open.w.PeakElevation-widenMargin && cfg.CoarseStep > cfg.FineStep {
				probeAt := clamp(t.Add(cfg.CoarseStep))
				probe, err := look(probeAt)
				if err != nil {
					return nil, err
				}
				if probe.Elevation >= cfg.MinElevation {
					next = probeAt
				}
			}
			t = next
		}

		if !s.t.Before(end) {
			break
		}
		t = clamp(t)
	}

	if open != nil {
		emit(open.close())
	}
	return windows, nil
}

// builder accumulates one window's running statistics from consecutive
// samples.
type builder struct {
	w      track.Window
	last   sample
	azRate float64
	elRate float64
	rates  bool
}

func newBuilder(s sample) *builder {
	return &builder{
		w: track.Window{
			Start:         s.t,
			End:           s.t,
			PeakElevation: s.Elevation,
			PeakTime:      s.t,
			PeakAzimuth:   s.Azimuth,
		},
		last: s,
	}
}

func (b *builder) add(s sample) {
	if !s.t.After(b.last.t) {
		return
	}
	dt := s.t.Sub(b.last.t).Seconds()
	azRate := math.Abs(transform.AzimuthDelta(b.last.Azimuth, s.Azimuth)) / dt
	elRate := math.Abs(s.Elevation-b.last.Elevation) / dt

	b.w.MaxAzRate = math.Max(b.w.MaxAzRate, azRate)
	b.w.MaxElRate = math.Max(b.w.MaxElRate, elRate)
	if b.rates {
		b.w.MaxAzAccel = math.Max(b.w.MaxAzAccel, math.Abs(azRate-b.azRate)/dt)
		b.w.MaxElAccel = math.Max(b.w.MaxElAccel, math.Abs(elRate-b.elRate)/dt)
	}
	b.azRate, b.elRate, b.rates = azRate, elRate, true

	if s.Elevation > b.w.PeakElevation {
		b.w.PeakElevation = s.Elevation
		b.w.PeakTime = s.t
		b.w.PeakAzimuth = s.Azimuth
	}
	b.w.End = s.t
	b.last = s
}

func (b *builder) close() track.Window { return b.w }
