package memory

import (
	"math"
	"sync/atomic"
)

// Clock issues the monotonic sequence numbers behind fact handles.
//
// Every handle in a store is stamped with a strictly increasing seq from
// this clock, which is what gives enumeration its insertion order.
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
//
// Panics if the sequence space is exhausted; a session never gets close.
func (c *Clock) Next() int64 {
	n := c.seq.Add(1)
	if n == math.MaxInt64 || n <= 0 {
		panic("memory: fact handle sequence exhausted")
	}
	return n
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
