// Package entity provides stable surrogate identity for columns and sheets.
//
// An EntityID is assigned once at creation time, is never reused, and is
// never derived from a display name or ordinal position. Two entities are
// the same iff their EntityIDs are equal, regardless of how many renames or
// reorders occurred in between. Every step parameter that references a
// column or sheet stores an EntityID, which is what makes replay after a
// rename or reorder possible.
package entity

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Allocator allocates fresh EntityIDs.
// Implemented by UUIDv7Allocator (production) and FixedAllocator (tests).
type Allocator interface {
	Allocate() string
}

// UUIDv7Allocator allocates time-sortable UUIDv7 EntityIDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, making IDs
// sortable by creation time, which is helpful when inspecting traces.
//
// Thread-safety: UUIDv7Allocator is stateless and safe for concurrent use.
type UUIDv7Allocator struct{}

// Allocate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Allocator) Allocate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedAllocator returns predetermined EntityIDs for deterministic tests
// and golden trace comparison.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedAllocator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedAllocator creates an allocator that returns ids in order.
// Panics when the supply is exhausted; this fail-fast behavior catches
// tests that create more entities than the fixture expected.
func NewFixedAllocator(ids ...string) *FixedAllocator {
	return &FixedAllocator{ids: ids}
}

// Allocate returns the next predetermined ID.
func (a *FixedAllocator) Allocate() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.idx >= len(a.ids) {
		panic("FixedAllocator: all ids exhausted")
	}
	id := a.ids[a.idx]
	a.idx++
	return id
}

// SeqAllocator allocates "prefix-1", "prefix-2", ... without a fixed supply.
// Useful for tests that do not care about the exact IDs but still need
// determinism.
type SeqAllocator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqAllocator creates a sequential allocator with the given prefix.
func NewSeqAllocator(prefix string) *SeqAllocator {
	return &SeqAllocator{prefix: prefix}
}

// Allocate returns the next sequential ID.
func (a *SeqAllocator) Allocate() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	return a.prefix + "-" + strconv.Itoa(a.n)
}
