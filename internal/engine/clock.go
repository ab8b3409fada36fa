package engine

import "sync/atomic"

// Clock is a monotonic logical clock stamping every host update with a
// strictly increasing seq number.
//
// Updates carry the seq so a host can detect reordering or loss on its own
// side, and so traces of two runs can be compared line by line without
// wall-clock noise.
//
// Thread-safety: safe for concurrent use (atomic operations), though the
// engine's single-writer design means only the run loop calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
