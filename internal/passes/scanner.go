// Package passes finds visibility windows for a satellite over a station
// and turns each window into fine raw tracking data.
package passes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/star/trackgo/internal/propagation"
	"github.com/star/trackgo/internal/tle"
	"github.com/star/trackgo/internal/track"
	"github.com/star/trackgo/internal/transform"
)

// Scanner runs the scan and generator for element sets against one
// station.
type Scanner struct {
	source  *propagation.Source
	station transform.Station
	logger  *slog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(src *propagation.Source, st transform.Station, logger *slog.Logger) *Scanner {
	return &Scanner{source: src, station: st, logger: logger}
}

// Station returns the station the scanner looks from.
func (s *Scanner) Station() transform.Station { return s.station }

// FindWindows validates set and scans it. A malformed set fails before any
// sampling. No windows is an empty result, not an error.
func (s *Scanner) FindWindows(ctx context.Context, set tle.ElementSet, cfg ScanConfig) ([]track.Window, error) {
	tr, err := s.source.Tracker(set, s.station)
	if err != nil {
		return nil, fmt.Errorf("satellite %d: %w", set.SatID, err)
	}
	windows, err := Scan(ctx, tr, cfg)
	if err != nil {
		return nil, fmt.Errorf("satellite %d: %w", set.SatID, err)
	}
	s.logger.Debug("visibility scan complete",
		"sat_id", set.SatID,
		"windows", len(windows),
		"start", cfg.Start,
		"duration", cfg.Duration.String(),
	)
	return windows, nil
}

// GeneratePass produces the raw track for one window of set.
func (s *Scanner) GeneratePass(ctx context.Context, set tle.ElementSet, w track.Window, cfg GenerateConfig) (track.Track, error) {
	tr, err := s.source.Tracker(set, s.station)
	if err != nil {
		return track.Track{}, fmt.Errorf("satellite %d: %w", set.SatID, err)
	}
	out, err := Generate(ctx, tr, w, cfg, s.logger.With("sat_id", set.SatID))
	if err != nil {
		return track.Track{}, fmt.Errorf("satellite %d: %w", set.SatID, err)
	}
	out.Pass.SatID = set.SatID
	out.Pass.SatName = set.Label()
	return out, nil
}
