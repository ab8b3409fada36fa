// Package steplog implements the committed step log and the history
// navigator state machine.
//
// The log is the single source of truth for an analysis. Only authoritative
// backend responses (via ApplyAuthoritative) may mutate committed steps;
// history navigation is non-destructive by default. Viewing history is not
// deleting it: the only state-losing operation is the explicit TruncateAfter.
//
// State machine:
//
//	Live:       pointer == N-1. Edits may commit; the UI is interactive.
//	Historical: pointer <  N-1. Read-only; the only legal transitions are
//	            FastForward (pointer = N-1, no data change) and
//	            TruncateAfter(pointer) (destructive, separately authorized).
//
// INVARIANTS:
//   - Step indices are contiguous 0..N-1; no gaps after truncation.
//   - len(states) == len(steps); states[i] is the snapshot after step i.
//   - "undo then edit" is modeled as view history -> truncate -> edit,
//     never as silently forking the log.
package steplog

import (
	"errors"
	"fmt"

	"github.com/quietgrid/sheetsync/internal/steps"
)

// Mode reports whether the log is at its tip or viewing history.
type Mode int

const (
	// Live means the pointer is at the last step and edits are allowed.
	Live Mode = iota
	// Historical means a prior snapshot is rendered and mutation is disabled.
	Historical
)

func (m Mode) String() string {
	if m == Historical {
		return "historical"
	}
	return "live"
}

// Navigation and mutation errors.
var (
	// ErrHistoricalReadOnly is returned when a mutating operation is
	// attempted while viewing history.
	ErrHistoricalReadOnly = errors.New("step log is in historical view: fast-forward or truncate before editing")
	// ErrUndoUnavailable is returned when there is no earlier snapshot.
	ErrUndoUnavailable = errors.New("nothing to undo")
	// ErrRedoUnavailable is returned when the pointer is already at the tip
	// or redo history was invalidated by truncation.
	ErrRedoUnavailable = errors.New("nothing to redo")
	// ErrEmpty is returned for navigation on an empty log.
	ErrEmpty = errors.New("step log is empty")
)

// Log holds the committed steps, their per-index snapshots, and the
// history pointer.
//
// Thread-safety: Log is NOT safe for concurrent use. It is owned by the
// engine's single-writer loop.
type Log struct {
	steps   []steps.Step
	states  []steps.SheetState
	pointer int // -1 while empty
}

// New creates an empty log.
func New() *Log {
	return &Log{pointer: -1}
}

// Len returns the number of committed steps.
func (l *Log) Len() int { return len(l.steps) }

// Pointer returns the history pointer, or -1 for an empty log.
func (l *Log) Pointer() int { return l.pointer }

// Mode returns Live when the pointer is at the tip (or the log is empty).
func (l *Log) Mode() Mode {
	if len(l.steps) == 0 || l.pointer == len(l.steps)-1 {
		return Live
	}
	return Historical
}

// Steps returns a copy of the committed steps.
func (l *Log) Steps() []steps.Step {
	out := make([]steps.Step, len(l.steps))
	for i, s := range l.steps {
		out[i] = s.Clone()
	}
	return out
}

// Step returns the committed step at index i.
func (l *Log) Step(i int) (steps.Step, error) {
	if i < 0 || i >= len(l.steps) {
		return steps.Step{}, fmt.Errorf("step index %d out of range [0,%d)", i, len(l.steps))
	}
	return l.steps[i].Clone(), nil
}

// StepByID returns the committed step with the given ID.
func (l *Log) StepByID(id string) (steps.Step, bool) {
	for _, s := range l.steps {
		if s.ID == id {
			return s.Clone(), true
		}
	}
	return steps.Step{}, false
}

// StateAt returns the snapshot after executing step i.
func (l *Log) StateAt(i int) (steps.SheetState, error) {
	if i < 0 || i >= len(l.states) {
		return steps.SheetState{}, fmt.Errorf("state index %d out of range [0,%d)", i, len(l.states))
	}
	return l.states[i].Clone(), nil
}

// CurrentState returns the snapshot at the history pointer, i.e. what the
// host should render right now.
func (l *Log) CurrentState() (steps.SheetState, error) {
	if l.pointer < 0 {
		return steps.SheetState{}, ErrEmpty
	}
	return l.states[l.pointer].Clone(), nil
}

// States returns a copy of all per-index snapshots.
func (l *Log) States() []steps.SheetState {
	out := make([]steps.SheetState, len(l.states))
	for i, st := range l.states {
		out[i] = st.Clone()
	}
	return out
}

// EnsureLive returns ErrHistoricalReadOnly unless the log is in Live mode.
// Every mutating engine command checks this before doing anything.
func (l *Log) EnsureLive() error {
	if l.Mode() != Live {
		return ErrHistoricalReadOnly
	}
	return nil
}

// ApplyAuthoritative replaces the committed log with the backend's
// authoritative step sequence and snapshots. This is the ONLY path that
// mutates committed steps; it is driven exclusively by successful edit
// responses from the replayer.
//
// The pointer moves to the new tip: an authoritative commit always lands
// in Live mode.
func (l *Log) ApplyAuthoritative(newSteps []steps.Step, newStates []steps.SheetState) error {
	if len(newSteps) != len(newStates) {
		return fmt.Errorf("apply authoritative: %d steps but %d states", len(newSteps), len(newStates))
	}
	for i, s := range newSteps {
		if s.Index != i {
			return fmt.Errorf("apply authoritative: step %s has index %d at position %d", s.ID, s.Index, i)
		}
	}

	l.steps = make([]steps.Step, len(newSteps))
	for i, s := range newSteps {
		l.steps[i] = s.Clone()
	}
	l.states = make([]steps.SheetState, len(newStates))
	for i, st := range newStates {
		l.states[i] = st.Clone()
	}
	l.pointer = len(l.steps) - 1
	return nil
}

// ViewHistory moves the pointer to step k for read-only viewing.
func (l *Log) ViewHistory(k int) error {
	if len(l.steps) == 0 {
		return ErrEmpty
	}
	if k < 0 || k >= len(l.steps) {
		return fmt.Errorf("view history: index %d out of range [0,%d)", k, len(l.steps))
	}
	l.pointer = k
	return nil
}

// Undo moves the pointer one step back. View-only: no data changes.
func (l *Log) Undo() error {
	if len(l.steps) == 0 {
		return ErrEmpty
	}
	if l.pointer <= 0 {
		return ErrUndoUnavailable
	}
	l.pointer--
	return nil
}

// Redo moves the pointer one step forward. Valid only while the steps
// ahead of the pointer still exist; truncation invalidates redo by
// removing them.
func (l *Log) Redo() error {
	if len(l.steps) == 0 {
		return ErrEmpty
	}
	if l.pointer >= len(l.steps)-1 {
		return ErrRedoUnavailable
	}
	l.pointer++
	return nil
}

// FastForward returns to Live mode with no data change.
func (l *Log) FastForward() {
	if len(l.steps) > 0 {
		l.pointer = len(l.steps) - 1
	}
}

// TruncateAfter deletes every step after index k and returns to Live mode.
// Destructive and irreversible: a subsequent Redo fails. Authorization
// gating is the caller's responsibility.
func (l *Log) TruncateAfter(k int) error {
	if len(l.steps) == 0 {
		return ErrEmpty
	}
	if k < 0 || k >= len(l.steps) {
		return fmt.Errorf("truncate after: index %d out of range [0,%d)", k, len(l.steps))
	}
	l.steps = l.steps[: k+1 : k+1]
	l.states = l.states[: k+1 : k+1]
	l.pointer = k
	return nil
}

// Clear removes all steps and snapshots (full-analysis clear).
func (l *Log) Clear() {
	l.steps = nil
	l.states = nil
	l.pointer = -1
}
