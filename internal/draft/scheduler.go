package draft

import (
	"sync"
	"time"
)

// Clock abstracts timer creation so tests can drive quiescence windows
// deterministically. The production implementation delegates to the
// standard library.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from firing. Reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// RealClock is the production Clock backed by time.AfterFunc.
type RealClock struct{}

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FlushFunc receives the latest draft snapshot when a quiescence window
// expires. It is called from a timer goroutine; implementations must be
// safe to call from there (the engine enqueues a command and returns).
type FlushFunc func(snapshot Draft)

// Scheduler coalesces rapid draft mutations: each Touch (re)starts the
// step's quiescence timer, and only when the timer expires with no further
// mutation is the latest snapshot flushed. Intermediate states are never
// transmitted, so N rapid edits cost one request, not N. This also bounds
// in-flight edits to at most one per step.
type Scheduler struct {
	clock  Clock
	flush  FlushFunc
	window time.Duration

	mu     sync.Mutex
	timers map[string]Timer
}

// DefaultWindow is the quiescence window for high-frequency controls.
// Free-text fields should pass a longer per-call window (see TouchWindow).
const DefaultWindow = 50 * time.Millisecond

// NewScheduler creates a scheduler flushing through flush after window of
// quiescence. A zero window uses DefaultWindow.
func NewScheduler(clock Clock, window time.Duration, flush FlushFunc) *Scheduler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Scheduler{
		clock:  clock,
		flush:  flush,
		window: window,
		timers: make(map[string]Timer),
	}
}

// Touch schedules (or reschedules) a flush of the given snapshot after the
// default quiescence window. A prior pending flush for the same step is
// superseded.
func (s *Scheduler) Touch(snapshot Draft) {
	s.TouchWindow(snapshot, s.window)
}

// TouchWindow is Touch with an explicit window, for field classes with a
// different quiescence profile (e.g. ~500ms for free-text inputs).
func (s *Scheduler) TouchWindow(snapshot Draft, window time.Duration) {
	if window <= 0 {
		window = s.window
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[snapshot.StepID]; ok {
		t.Stop()
	}
	stepID := snapshot.StepID
	s.timers[stepID] = s.clock.AfterFunc(window, func() {
		s.mu.Lock()
		delete(s.timers, stepID)
		s.mu.Unlock()
		s.flush(snapshot)
	})
}

// Cancel drops any pending flush for the step, e.g. when its draft closes
// or an explicit commit already sent the latest state.
func (s *Scheduler) Cancel(stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[stepID]; ok {
		t.Stop()
		delete(s.timers, stepID)
	}
}

// Pending reports whether a flush is scheduled for the step.
func (s *Scheduler) Pending(stepID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[stepID]
	return ok
}
