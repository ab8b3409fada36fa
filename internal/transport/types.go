// Package transport defines the RPC surface between the sync engine and
// the authoritative backend, and provides two implementations: an
// in-process pipe for embedded hosts and tests, and a websocket client
// for remote backends.
//
// Two request kinds exist. "edit" mutates the step log and returns the
// authoritative replayed result; every edit response echoes the generation
// it was computed against so the engine can discard stale responses.
// "log" is fire-and-forget telemetry: never retried, never blocking, and
// silently droppable without affecting correctness.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quietgrid/sheetsync/internal/steps"
)

// Kind distinguishes request kinds on the wire.
type Kind string

const (
	KindEdit Kind = "edit"
	KindLog  Kind = "log"
)

// EditRequest asks the backend to apply params to the step at Index.
// Index == current log length appends a new step; Index < length edits the
// existing step in place (preserving its ID) and triggers dependent-edit
// replay of everything downstream.
type EditRequest struct {
	StepID     string         `json:"step_id"`
	Index      int            `json:"index"`
	Type       steps.StepType `json:"type"`
	Params     steps.Params   `json:"params"`
	Generation int64          `json:"generation"`
}

// UnmarshalJSON decodes the params union keyed by the request's step type.
func (r *EditRequest) UnmarshalJSON(data []byte) error {
	var w struct {
		StepID     string          `json:"step_id"`
		Index      int             `json:"index"`
		Type       steps.StepType  `json:"type"`
		Params     json.RawMessage `json:"params"`
		Generation int64           `json:"generation"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode edit request: %w", err)
	}
	params, err := steps.DecodeParams(w.Type, w.Params)
	if err != nil {
		return fmt.Errorf("edit request for step %s: %w", w.StepID, err)
	}
	r.StepID = w.StepID
	r.Index = w.Index
	r.Type = w.Type
	r.Params = params
	r.Generation = w.Generation
	return nil
}

// EditResult is the authoritative outcome of an edit (or of undo/redo/
// truncate/snapshot, which share the same shape): the full committed step
// sequence, one snapshot per step, and any reconciliation warnings the
// replay produced. The frontend never recomputes any of this client-side.
type EditResult struct {
	Generation  int64              `json:"generation"`
	Steps       []steps.Step       `json:"steps"`
	SheetStates []steps.SheetState `json:"sheet_states"`
	Warnings    []steps.Warning    `json:"warnings,omitempty"`
}

// Service is the backend side of the RPC surface. The reference backend
// implements it; transports adapt it onto a wire.
//
// Edit and the navigation calls are serialized by callers (the engine's
// single-writer loop on the client side, the per-connection loop on the
// server side). Log may be called from any goroutine and must not block.
type Service interface {
	Edit(ctx context.Context, req EditRequest) (*EditResult, error)
	Log(event string, payload map[string]any)
	Undo(ctx context.Context) (*EditResult, error)
	Redo(ctx context.Context) (*EditResult, error)
	TruncateAfter(ctx context.Context, index int) (*EditResult, error)
	StepHistory(ctx context.Context) ([]steps.Step, error)
	Snapshot(ctx context.Context) (*EditResult, error)
}

// Client is the engine side of the RPC surface. It mirrors Service; the
// distinction exists so a remote client can add correlation and connection
// handling without the backend knowing.
type Client interface {
	Service
	Close() error
}

// ValidationError reports params that failed backend-side validation.
// Surfaced inline on the owning draft; the committed log is untouched.
type ValidationError struct {
	StepID  string `json:"step_id"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid params for step %s: %s: %s", e.StepID, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid params for step %s: %s", e.StepID, e.Message)
}

// TransportError reports a network or backend availability failure.
// Always retryable by the user (the draft is preserved), never retried
// automatically: a blind retry could apply a stale generation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a params validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransport reports whether err is a transport availability failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
