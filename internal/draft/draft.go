// Package draft implements the per-editor parameter draft store and the
// debounce/coalesce scheduler that turns rapid draft mutations into a
// single outbound request per quiescence window.
//
// A Draft is the local, uncommitted working copy of one step's params,
// owned exclusively by the one open editor for that step. Its generation
// counter increments on every local mutation and is echoed back by the
// transport so stale responses can be discarded: last write wins on
// generation, never on arrival order.
package draft

import (
	"fmt"
	"sort"

	"github.com/quietgrid/sheetsync/internal/steps"
)

// Draft is a mutable working copy of a step's parameters, separate from
// the committed log entry.
type Draft struct {
	StepID     string
	Generation int64
	Params     steps.Params
	Dirty      bool
}

// Patch transforms a draft's params into their next value. The input is a
// private clone, so a patch may mutate it freely and return it.
type Patch func(steps.Params) steps.Params

// Store holds the open drafts, at most one per step.
//
// Thread-safety: Store is NOT safe for concurrent use; it is owned by the
// engine's single-writer loop.
type Store struct {
	drafts map[string]*Draft
}

// NewStore creates an empty draft store.
func NewStore() *Store {
	return &Store{drafts: make(map[string]*Draft)}
}

// Open creates a draft for stepID seeded with the committed params.
// Exactly one draft may exist per step: the host UI only ever opens one
// editor at a time, and this enforces the same exclusivity in the core.
func (s *Store) Open(stepID string, initial steps.Params) (Draft, error) {
	if _, ok := s.drafts[stepID]; ok {
		return Draft{}, fmt.Errorf("draft already open for step %s", stepID)
	}
	d := &Draft{
		StepID: stepID,
		Params: initial.Clone(),
	}
	s.drafts[stepID] = d
	return *d, nil
}

// Get returns a snapshot of the draft for stepID.
func (s *Store) Get(stepID string) (Draft, bool) {
	d, ok := s.drafts[stepID]
	if !ok {
		return Draft{}, false
	}
	return *d, true
}

// Update applies a patch to the draft's params immutably (the stored params
// are replaced, never mutated in place) and increments the generation.
// Returns the post-update snapshot.
func (s *Store) Update(stepID string, patch Patch) (Draft, error) {
	d, ok := s.drafts[stepID]
	if !ok {
		return Draft{}, fmt.Errorf("no open draft for step %s", stepID)
	}
	d.Params = patch(d.Params.Clone())
	d.Generation++
	d.Dirty = true
	return *d, nil
}

// Generation returns the draft's current generation, or 0 if no draft is
// open. Responses whose echoed generation differs from this are stale.
func (s *Store) Generation(stepID string) int64 {
	if d, ok := s.drafts[stepID]; ok {
		return d.Generation
	}
	return 0
}

// MarkClean clears the dirty flag iff the draft is still at the given
// generation. A newer local mutation keeps the draft dirty.
func (s *Store) MarkClean(stepID string, generation int64) {
	if d, ok := s.drafts[stepID]; ok && d.Generation == generation {
		d.Dirty = false
	}
}

// Dirty returns snapshots of every dirty draft, ordered by step ID.
func (s *Store) Dirty() []Draft {
	ids := make([]string, 0, len(s.drafts))
	for id, d := range s.drafts {
		if d.Dirty {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]Draft, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.drafts[id])
	}
	return out
}

// Close discards the draft without sending anything. Any in-flight
// request's result is simply ignored on arrival once the draft is gone.
func (s *Store) Close(stepID string) {
	delete(s.drafts, stepID)
}

// Len returns the number of open drafts.
func (s *Store) Len() int {
	return len(s.drafts)
}
