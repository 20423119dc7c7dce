package passes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/trackgo/internal/track"
)

// ErrEmptyPass is returned when every sample of a window fell below the
// elevation threshold.
var ErrEmptyPass = errors.New("no samples above the elevation threshold")

// DefaultInterval is the tracking data cadence.
const DefaultInterval = 100 * time.Millisecond

// GenerateConfig controls fine tracking-data generation.
type GenerateConfig struct {
	Interval     time.Duration
	MinElevation float64
	Limits       track.Limits
}

// Generate samples l across w at cfg.Interval and returns the raw track.
// Samples below the threshold are skipped and logged. The pass carries the
// window, metrics from track.ComputeMetrics and its own keyhole judgement.
// IDs are left zero for the caller to stamp.
func Generate(ctx context.Context, l Looker, w track.Window, cfg GenerateConfig, logger *slog.Logger) (track.Track, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	n := int(w.End.Sub(w.Start)/cfg.Interval) + 1
	points := make([]track.Point, 0, n)
	skipped := 0
	for i := 0; ; i++ {
		at := w.Start.Add(time.Duration(i) * cfg.Interval)
		if at.After(w.End) {
			break
		}
		if i%600 == 0 {
			if err := ctx.Err(); err != nil {
				return track.Track{}, err
			}
		}

		s, err := l.Look(at)
		if err != nil {
			return track.Track{}, fmt.Errorf("sampling %s: %w", at.Format(time.RFC3339Nano), err)
		}
		if s.Elevation < cfg.MinElevation {
			skipped++
			logger.Debug("sample below elevation threshold",
				"time", at,
				"elevation", s.Elevation,
				"min_elevation", cfg.MinElevation,
			)
			continue
		}
		points = append(points, track.Point{
			Index:      len(points),
			Time:       at,
			Azimuth:    s.Azimuth,
			Elevation:  s.Elevation,
			RangeKm:    s.RangeKm,
			AltitudeKm: s.AltitudeKm,
			Stage:      track.Raw,
		})
	}
	if len(points) == 0 {
		return track.Track{}, fmt.Errorf("window %s: %w (%d skipped)", w.Start.Format(time.RFC3339), ErrEmptyPass, skipped)
	}

	m := track.ComputeMetrics(points)
	keyhole, train := track.Assess(m, cfg.Limits, 0)
	return track.Track{
		Pass: track.Pass{
			Stage:            track.Raw,
			Window:           w,
			Metrics:          m,
			Keyhole:          keyhole,
			RecommendedTrain: train,
		},
		Points: points,
	}, nil
}
