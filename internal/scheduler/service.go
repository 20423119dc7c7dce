// Package scheduler runs the tracking pipeline per satellite, allocates
// pass ids and keeps the results.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/star/trackgo/internal/keyhole"
	"github.com/star/trackgo/internal/metrics"
	"github.com/star/trackgo/internal/mount"
	"github.com/star/trackgo/internal/passes"
	"github.com/star/trackgo/internal/tle"
	"github.com/star/trackgo/internal/track"
)

// ErrUnknownSatellite is returned for a catalog number with no element set.
var ErrUnknownSatellite = errors.New("unknown satellite")

// ErrUnknownPass is returned for a pass id with no raw record.
var ErrUnknownPass = errors.New("unknown pass")

// ErrUnalignedStart is returned by Feeder.Upload for a track whose first
// point is not on a whole second.
var ErrUnalignedStart = errors.New("track start is not on a whole second")

// Config controls generation runs.
type Config struct {
	Horizon  time.Duration // default scan span
	Scan     passes.ScanConfig
	Generate passes.GenerateConfig
	Workers  int // concurrent satellites; zero uses GOMAXPROCS
}

// Span is the scan interval of one run. Zero fields take the current time
// and the configured horizon.
type Span struct {
	Start    time.Time
	Duration time.Duration
}

// Result is the outcome of one satellite's run. On error nothing from the
// run was kept and no ids were allocated.
type Result struct {
	SatID    int          `json:"sat_id"`
	SatName  string       `json:"sat_name"`
	BatchID  uuid.UUID    `json:"batch_id"`
	FirstID  int64        `json:"first_id"`
	Windows  int          `json:"windows"`
	Keyhole  int          `json:"keyhole_passes"`
	Passes   []track.Pass `json:"passes"`
	Duration float64      `json:"duration_seconds"`
	Err      error        `json:"-"`
	Error    string       `json:"error,omitempty"`
}

// Service owns the pass-id counter and runs generations.
type Service struct {
	sets    *tle.Store
	scanner *passes.Scanner
	tf      *mount.Transformer
	keyhole *keyhole.Processor
	store   *PassStore
	counter track.Counter
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewService wires a Service. counter allocates every pass id the service
// hands out.
func NewService(sets *tle.Store, scanner *passes.Scanner, tf *mount.Transformer, kh *keyhole.Processor, store *PassStore, counter track.Counter, cfg Config, logger *slog.Logger, m *metrics.Collector) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 24 * time.Hour
	}
	return &Service{
		sets:    sets,
		scanner: scanner,
		tf:      tf,
		keyhole: kh,
		store:   store,
		counter: counter,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Store returns the pass store.
func (s *Service) Store() *PassStore { return s.store }

// GenerateSatellite runs the full pipeline for one satellite: scan, raw
// generation, transform and angle limit at train zero, and the keyhole
// branch for flagged passes. Ids are reserved only once every record of the
// run is complete; the range is contiguous and starts at FirstID.
func (s *Service) GenerateSatellite(ctx context.Context, satID int, span Span) Result {
	start := s.now()
	res := Result{SatID: satID}
	finish := func(outcome string) Result {
		s.metrics.ObserveGeneration(outcome, s.now().Sub(start))
		res.Duration = s.now().Sub(start).Seconds()
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
		return res
	}

	set, ok := s.sets.Get(satID)
	if !ok {
		res.Err = fmt.Errorf("satellite %d: %w", satID, ErrUnknownSatellite)
		return finish("error")
	}
	res.SatName = set.Label()

	tracks, raws, windows, err := s.run(ctx, set, s.span(span))
	res.Windows = windows
	if err != nil {
		res.Err = err
		s.logger.Warn("generation failed", "sat_id", satID, "error", err)
		if ctx.Err() != nil {
			return finish("cancelled")
		}
		return finish("error")
	}

	res.BatchID = uuid.New()
	res.FirstID = s.counter.Reserve(raws)
	created := s.now().UTC()
	for i := range tracks {
		t := &tracks[i]
		t.Restamp(res.FirstID + t.Pass.ID)
		t.Pass.BatchID = res.BatchID
		t.Pass.CreatedAt = created
		if t.Pass.Stage == track.KeyholeFinalHeuristic {
			res.Keyhole++
		}
		s.metrics.PassGenerated(string(t.Pass.Stage))
		res.Passes = append(res.Passes, t.Pass)
	}
	s.store.Put(tracks...)

	s.logger.Info("generation complete",
		"sat_id", satID,
		"batch_id", res.BatchID.String(),
		"windows", windows,
		"passes", raws,
		"keyhole_passes", res.Keyhole,
		"first_id", res.FirstID,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
	return finish("ok")
}

// run produces every record of one satellite with batch-local pass ids
// 0..raws-1.
func (s *Service) run(ctx context.Context, set tle.ElementSet, span Span) (tracks []track.Track, raws, windows int, err error) {
	scan := s.cfg.Scan
	scan.Start, scan.Duration = span.Start, span.Duration
	found, err := s.scanner.FindWindows(ctx, set, scan)
	if err != nil {
		return nil, 0, 0, err
	}
	s.metrics.AddWindows(len(found))

	batch := make(batchLookup, 0, len(found))
	for _, w := range found {
		raw, err := s.scanner.GeneratePass(ctx, set, w, s.cfg.Generate)
		if errors.Is(err, passes.ErrEmptyPass) {
			s.logger.Warn("window produced no tracking data", "sat_id", set.SatID, "start", w.Start, "error", err)
			continue
		}
		if err != nil {
			return nil, 0, len(found), err
		}
		raw.Restamp(int64(len(batch)))
		raw.Pass.Detail = len(batch)
		batch = append(batch, raw)
	}

	ids := make([]int64, len(batch))
	for i, raw := range batch {
		ids[i] = raw.Pass.ID
		axis, final := s.tf.Apply(raw, 0, mount.Options{}, mount.Options{})
		tracks = append(tracks, raw, axis, final)
	}
	branches, err := s.keyhole.ProcessAll(ctx, batch, ids)
	if err != nil {
		return nil, 0, len(found), err
	}
	return append(tracks, branches...), len(batch), len(found), nil
}

func (s *Service) span(sp Span) Span {
	if sp.Start.IsZero() {
		sp.Start = s.now().UTC()
	}
	sp.Start = sp.Start.Truncate(time.Second)
	if sp.Duration <= 0 {
		sp.Duration = s.cfg.Horizon
	}
	return sp
}

// batchLookup resolves batch-local ids during a run.
type batchLookup []track.Track

func (b batchLookup) Raw(id int64) (track.Track, bool) {
	if id < 0 || id >= int64(len(b)) {
		return track.Track{}, false
	}
	return b[id], true
}

// GenerateAll runs GenerateSatellite for each id concurrently, or for every
// loaded set when ids is empty. One satellite's failure does not affect the
// others. Results follow the order of ids.
func (s *Service) GenerateAll(ctx context.Context, ids []int, span Span) []Result {
	if len(ids) == 0 {
		ids = s.sets.IDs()
	}
	span = s.span(span)

	results := make([]Result, len(ids))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{SatID: id, Err: err, Error: err.Error()}
				return nil
			}
			results[i] = s.GenerateSatellite(ctx, id, span)
			return nil
		})
	}
	g.Wait()
	return results
}

// Submit runs GenerateSatellite in the background and delivers its result
// on the returned channel.
func (s *Service) Submit(ctx context.Context, satID int, span Span) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- s.GenerateSatellite(ctx, satID, span)
	}()
	return ch
}

// Reoptimize reruns the keyhole branch for a stored pass and stores the
// records it produces. A pass that is not flagged yields no records.
func (s *Service) Reoptimize(ctx context.Context, id int64) ([]track.Track, error) {
	raw, ok := s.store.Raw(id)
	if !ok {
		return nil, fmt.Errorf("pass %d: %w", id, ErrUnknownPass)
	}
	out, err := s.keyhole.Process(ctx, s.store, id)
	if err != nil {
		return nil, fmt.Errorf("pass %d: %w", id, err)
	}
	created := s.now().UTC()
	for i := range out {
		out[i].Pass.BatchID = raw.Pass.BatchID
		out[i].Pass.CreatedAt = created
		s.metrics.PassGenerated(string(out[i].Pass.Stage))
	}
	s.store.Put(out...)
	return out, nil
}
