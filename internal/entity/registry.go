package entity

import "fmt"

// Registry maps EntityIDs to display names for the lifetime of a process.
//
// The registry is the single place display names live; everything else
// refers to entities by ID. Rename preserves the ID. Resolve reporting
// ok=false signals that the entity no longer exists (it was removed by an
// upstream edit), which is exactly the condition the replayer prunes on.
//
// Thread-safety: Registry is NOT safe for concurrent use. It is owned by
// the single-writer loop that owns the rest of the analysis state.
type Registry struct {
	alloc Allocator
	names map[string]string
}

// NewRegistry creates an empty registry backed by the given allocator.
func NewRegistry(alloc Allocator) *Registry {
	return &Registry{
		alloc: alloc,
		names: make(map[string]string),
	}
}

// Allocate creates a fresh entity with the given display name and returns
// its EntityID.
func (r *Registry) Allocate(displayName string) string {
	id := r.alloc.Allocate()
	r.names[id] = displayName
	return id
}

// Register records an existing entity, e.g. when rebuilding state from an
// authoritative snapshot. Registering an already-known ID overwrites its
// display name.
func (r *Registry) Register(id, displayName string) {
	r.names[id] = displayName
}

// Resolve returns the display name for an EntityID.
// ok=false means the entity no longer exists.
func (r *Registry) Resolve(id string) (string, bool) {
	name, ok := r.names[id]
	return name, ok
}

// Rename changes an entity's display name, preserving its ID.
func (r *Registry) Rename(id, newName string) error {
	if _, ok := r.names[id]; !ok {
		return fmt.Errorf("rename: unknown entity %q", id)
	}
	r.names[id] = newName
	return nil
}

// Remove forgets an entity. The ID is never reused; a later Resolve
// reports ok=false.
func (r *Registry) Remove(id string) {
	delete(r.names, id)
}

// Len returns the number of live entities.
func (r *Registry) Len() int {
	return len(r.names)
}
