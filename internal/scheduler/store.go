package scheduler

import (
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/star/trackgo/internal/track"
)

// PassStore keeps generated pass records in memory, keyed by pass id and
// stage. The oldest passes are evicted past the size limit or the TTL.
// Returned tracks share storage with the store and must not be modified.
type PassStore struct {
	mu     sync.Mutex
	passes *expirable.LRU[int64, map[track.DataType]track.Track]
}

// NewPassStore creates a store holding up to size passes for ttl.
func NewPassStore(size int, ttl time.Duration) *PassStore {
	if size <= 0 {
		size = 10000
	}
	return &PassStore{passes: expirable.NewLRU[int64, map[track.DataType]track.Track](size, nil, ttl)}
}

// Put stores each track under its pass id and stage, replacing an existing
// record of the same stage.
func (s *PassStore) Put(tracks ...track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tracks {
		m, ok := s.passes.Peek(t.Pass.ID)
		if !ok {
			m = make(map[track.DataType]track.Track, len(track.DataTypes))
		}
		m[t.Pass.Stage] = t
		s.passes.Add(t.Pass.ID, m)
	}
}

// Get returns the record of pass id at stage.
func (s *PassStore) Get(id int64, stage track.DataType) (track.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.passes.Get(id)
	if !ok {
		return track.Track{}, false
	}
	t, ok := m[stage]
	return t, ok
}

// Raw returns the raw record of pass id.
func (s *PassStore) Raw(id int64) (track.Track, bool) {
	return s.Get(id, track.Raw)
}

// Stages lists the stages stored for pass id in pipeline order.
func (s *PassStore) Stages(id int64) []track.DataType {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.passes.Peek(id)
	if !ok {
		return nil
	}
	var out []track.DataType
	for _, d := range track.DataTypes {
		if _, ok := m[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

// All returns the pass header of every stored record ordered by id, then
// stage.
func (s *PassStore) All() []track.Pass {
	s.mu.Lock()
	var out []track.Pass
	for _, m := range s.passes.Values() {
		for _, d := range track.DataTypes {
			if t, ok := m[d]; ok {
				out = append(out, t.Pass)
			}
		}
	}
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b track.Pass) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of stored passes.
func (s *PassStore) Len() int {
	return s.passes.Len()
}

// Commanded returns the record to send to the controller for pass id: the
// optimized keyhole track when one exists, then the heuristic one, then the
// plain angle-limited track.
func (s *PassStore) Commanded(id int64) (track.Track, bool) {
	for _, d := range []track.DataType{track.KeyholeFinalOptimized, track.KeyholeFinalHeuristic, track.FinalTransformed} {
		if t, ok := s.Get(id, d); ok {
			return t, true
		}
	}
	return track.Track{}, false
}
