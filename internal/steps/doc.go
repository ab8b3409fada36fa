// Package steps defines the data model shared by the sync engine, the
// transport, and the reference backend: committed steps, their typed
// parameters, sheet state snapshots, and reconciliation warnings.
//
// INVARIANTS:
//   - Every column or sheet reference inside step params is an EntityID
//     (a stable surrogate key), never a display name or ordinal position.
//   - Step indices are contiguous 0..N-1 with no gaps after truncation.
//   - A SheetState is immutable once produced; it is superseded wholesale
//     by the next authoritative snapshot, never patched in place.
//
// Canonical JSON (canonical.go) is the only serialization used for content
// hashing and golden traces. Regular encoding/json is used on the wire.
package steps
