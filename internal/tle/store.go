package tle

import (
	"sort"
	"sync"
	"time"
)

// Store provides thread-safe access to the ingested element sets, keyed by
// catalog number.
type Store struct {
	mu        sync.RWMutex
	sets      map[int]ElementSet
	updatedAt time.Time
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{sets: make(map[int]ElementSet)}
}

// Get returns the element set for satID.
func (s *Store) Get(satID int) (ElementSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[satID]
	return set, ok
}

// Put ingests sets, replacing any previous set with the same catalog number.
func (s *Store) Put(sets ...ElementSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range sets {
		s.sets[set.SatID] = set
	}
	s.updatedAt = time.Now()
}

// All returns every set ordered by catalog number.
func (s *Store) All() []ElementSet {
	s.mu.RLock()
	out := make([]ElementSet, 0, len(s.sets))
	for _, set := range s.sets {
		out = append(out, set)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SatID < out[j].SatID })
	return out
}

// IDs returns the catalog numbers in ascending order.
func (s *Store) IDs() []int {
	all := s.All()
	ids := make([]int, len(all))
	for i, set := range all {
		ids[i] = set.SatID
	}
	return ids
}

// Len returns the number of stored sets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets)
}

// AgeSeconds returns seconds since the last Put, or -1 if nothing was loaded.
func (s *Store) AgeSeconds() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.updatedAt.IsZero() {
		return -1
	}
	return time.Since(s.updatedAt).Seconds()
}
