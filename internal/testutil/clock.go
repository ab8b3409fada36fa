// Package testutil provides deterministic clocks and timers for tests.
package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/quietgrid/sheetsync/internal/draft"
)

// ManualClock is a draft.Clock whose time only moves when a test calls
// Advance. Timers fire synchronously, in deadline order, during Advance,
// which makes quiescence-window behavior fully deterministic.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

// NewManualClock creates a manual clock at time zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// AfterFunc registers f to run when the clock reaches now+d.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) draft.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{
		clock:    c,
		deadline: c.now + d,
		f:        f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires every timer whose deadline has
// been reached, in deadline order. Callbacks run without the clock lock
// held, so they may schedule new timers.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	now := c.now
	c.mu.Unlock()

	for {
		t := c.popDue(now)
		if t == nil {
			return
		}
		t.f()
	}
}

// popDue removes and returns the earliest due, unstopped timer, or nil.
func (c *ManualClock) popDue(now time.Duration) *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline < c.timers[j].deadline
	})
	for i, t := range c.timers {
		if t.stopped {
			continue
		}
		if t.deadline <= now {
			t.stopped = true
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return t
		}
		break
	}
	return nil
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Duration
	f        func()
	stopped  bool
}

// Stop cancels the timer if it has not fired yet.
func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}
