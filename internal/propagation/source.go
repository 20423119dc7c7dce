package propagation

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/star/trackgo/internal/tle"
	"github.com/star/trackgo/internal/transform"
)

// modelKey identifies an element set revision. A replaced set gets a new
// key, so stale models age out of the cache on their own.
type modelKey struct {
	satID        int
	line1, line2 string
}

// Source hands out SGP4 models, caching initialised ones. It is safe for
// concurrent use.
type Source struct {
	models *expirable.LRU[modelKey, *Model]
}

// NewSource creates a Source caching up to size models for ttl.
func NewSource(size int, ttl time.Duration) *Source {
	if size <= 0 {
		size = 256
	}
	return &Source{models: expirable.NewLRU[modelKey, *Model](size, nil, ttl)}
}

// Model returns the cached model for set, initialising it on a miss.
func (s *Source) Model(set tle.ElementSet) (*Model, error) {
	key := modelKey{set.SatID, set.Line1, set.Line2}
	if m, ok := s.models.Get(key); ok {
		return m, nil
	}
	m, err := NewModel(set)
	if err != nil {
		return nil, err
	}
	s.models.Add(key, m)
	return m, nil
}

// Tracker returns a fresh Tracker for set as seen from st.
func (s *Source) Tracker(set tle.ElementSet, st transform.Station) (*Tracker, error) {
	m, err := s.Model(set)
	if err != nil {
		return nil, err
	}
	return NewTracker(m, st), nil
}

// Tracker evaluates look angles at arbitrary instants. It keeps the
// whole-second bracket of the last call, so a monotonic sweep propagates
// each second once. A Tracker belongs to one goroutine.
type Tracker struct {
	model   *Model
	station transform.Station

	lo     time.Time
	s0, s1 transform.StateTEME
	valid  bool
}

// NewTracker creates a Tracker for model and station.
func NewTracker(m *Model, st transform.Station) *Tracker {
	return &Tracker{model: m, station: st}
}

// Look returns the topocentric sample at t. Whole seconds come straight
// from SGP4; other instants are interpolated between the bracketing
// seconds.
func (tr *Tracker) Look(t time.Time) (transform.Topocentric, error) {
	t = t.UTC()
	lo := t.Truncate(time.Second)
	if err := tr.bracket(lo); err != nil {
		return transform.Topocentric{}, err
	}

	state := tr.s0
	if frac := t.Sub(lo); frac > 0 {
		state = hermite(tr.s0, tr.s1, frac.Seconds())
	}
	ecef := transform.ToECEF(state, t)
	if !transform.Plausible(ecef) {
		return transform.Topocentric{}, fmt.Errorf("satellite %d: implausible state at %s", tr.model.satID, t.Format(time.RFC3339Nano))
	}
	return tr.station.Look(ecef), nil
}

func (tr *Tracker) bracket(lo time.Time) error {
	if tr.valid && lo.Equal(tr.lo) {
		return nil
	}
	var err error
	switch {
	case tr.valid && lo.Equal(tr.lo.Add(time.Second)):
		tr.s0 = tr.s1
	default:
		if tr.s0, err = tr.model.StateAt(lo); err != nil {
			tr.valid = false
			return err
		}
	}
	if tr.s1, err = tr.model.StateAt(lo.Add(time.Second)); err != nil {
		tr.valid = false
		return err
	}
	tr.lo = lo
	tr.valid = true
	return nil
}
