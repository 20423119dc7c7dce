package track

import "sync/atomic"

// Counter allocates pass ids.
type Counter interface {
	// Reserve claims n consecutive ids and returns the first.
	Reserve(n int) int64
}

// AtomicCounter is a lock-free Counter. Concurrent reservations receive
// disjoint contiguous ranges.
type AtomicCounter struct {
	next atomic.Int64
}

// NewAtomicCounter returns a counter whose first id is first.
func NewAtomicCounter(first int64) *AtomicCounter {
	c := &AtomicCounter{}
	c.next.Store(first)
	return c
}

// Reserve claims n ids. A zero or negative n claims nothing and returns the
// next unclaimed id.
func (c *AtomicCounter) Reserve(n int) int64 {
	if n <= 0 {
		return c.next.Load()
	}
	return c.next.Add(int64(n)) - int64(n)
}

// Next returns the next unclaimed id.
func (c *AtomicCounter) Next() int64 { return c.next.Load() }
