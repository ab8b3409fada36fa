// Package backend is the authoritative side of the sync protocol: it owns
// the committed step log, executes steps over in-memory tables, and replays
// downstream steps whenever an earlier one is edited.
//
// All mutations funnel through a single mutex; the transport layer may
// serve many connections but the log advances one edit at a time.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quietgrid/sheetsync/internal/entity"
	"github.com/quietgrid/sheetsync/internal/schema"
	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/transport"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// TelemetrySink receives frontend telemetry events. Implementations must
// not block; failures are logged and dropped.
type TelemetrySink interface {
	Record(event string, payload map[string]any) error
}

// Backend implements transport.Service.
type Backend struct {
	mu sync.Mutex

	exec      *executor
	validator *schema.Validator

	steps  []steps.Step
	states []steps.SheetState

	undo []logSnapshot
	redo []logSnapshot

	sink   TelemetrySink
	logger *slog.Logger
}

// logSnapshot captures the committed log for undo/redo. Entity identities
// live in the executor and survive across snapshots, so restoring one never
// re-mints IDs.
type logSnapshot struct {
	steps  []steps.Step
	states []steps.SheetState
}

// Option configures a Backend.
type Option func(*Backend)

// WithTelemetry routes Log frames into sink.
func WithTelemetry(sink TelemetrySink) Option {
	return func(b *Backend) { b.sink = sink }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New creates a backend with an empty step log.
func New(alloc entity.Allocator, opts ...Option) (*Backend, error) {
	v, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}
	b := &Backend{
		exec:      newExecutor(alloc),
		validator: v,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// RegisterSource makes tabular data importable under the given name.
func (b *Backend) RegisterSource(name string, src Source) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exec.sources[name] = src
}

// Edit validates the request, splices it into a candidate log, and replays
// the whole log. Only a successful replay commits; any error leaves the
// committed log untouched.
func (b *Backend) Edit(ctx context.Context, req transport.EditRequest) (*transport.EditResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if req.Params == nil {
		return nil, &transport.ValidationError{StepID: req.StepID, Message: "missing params"}
	}
	if req.Type != "" && req.Type != req.Params.StepType() {
		return nil, &transport.ValidationError{
			StepID:  req.StepID,
			Field:   "type",
			Message: fmt.Sprintf("declared type %q does not match params type %q", req.Type, req.Params.StepType()),
		}
	}
	if err := b.validator.Validate(req.StepID, req.Params); err != nil {
		return nil, err
	}
	if req.Index < 0 || req.Index > len(b.steps) {
		return nil, &transport.ValidationError{
			StepID:  req.StepID,
			Field:   "index",
			Message: fmt.Sprintf("index %d outside log of length %d", req.Index, len(b.steps)),
		}
	}

	candidate := cloneSteps(b.steps)
	st := steps.Step{ID: req.StepID, Index: req.Index, Type: req.Params.StepType(), Params: req.Params}
	if req.Index == len(candidate) {
		candidate = append(candidate, st)
	} else {
		if candidate[req.Index].ID != req.StepID {
			return nil, &transport.ValidationError{
				StepID:  req.StepID,
				Field:   "index",
				Message: fmt.Sprintf("step at index %d is %s, not %s", req.Index, candidate[req.Index].ID, req.StepID),
			}
		}
		candidate[req.Index] = st
	}

	committed, states, warnings, err := b.exec.run(candidate)
	if err != nil {
		return nil, err
	}

	b.pushUndo()
	b.steps = committed
	b.states = states
	b.redo = nil

	b.logger.Debug("edit committed",
		"step_id", req.StepID,
		"index", req.Index,
		"generation", req.Generation,
		"warnings", len(warnings),
	)
	return b.result(req.Generation, warnings), nil
}

// Log records a telemetry event. Best-effort.
func (b *Backend) Log(event string, payload map[string]any) {
	if b.sink == nil {
		b.logger.Debug("telemetry", "event", event)
		return
	}
	if err := b.sink.Record(event, payload); err != nil {
		b.logger.Debug("telemetry dropped", "event", event, "error", err)
	}
}

func (b *Backend) Undo(ctx context.Context) (*transport.EditResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.undo) == 0 {
		return nil, ErrNothingToUndo
	}
	b.redo = append(b.redo, logSnapshot{steps: b.steps, states: b.states})
	top := b.undo[len(b.undo)-1]
	b.undo = b.undo[:len(b.undo)-1]
	b.steps, b.states = top.steps, top.states
	return b.result(0, nil), nil
}

func (b *Backend) Redo(ctx context.Context) (*transport.EditResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.redo) == 0 {
		return nil, ErrNothingToRedo
	}
	b.undo = append(b.undo, logSnapshot{steps: b.steps, states: b.states})
	top := b.redo[len(b.redo)-1]
	b.redo = b.redo[:len(b.redo)-1]
	b.steps, b.states = top.steps, top.states
	return b.result(0, nil), nil
}

// TruncateAfter discards every step after the given index. The kept prefix
// was already executed, so no replay happens; index len-1 or beyond is a
// no-op, index -1 clears the log.
func (b *Backend) TruncateAfter(ctx context.Context, index int) (*transport.EditResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index < -1 {
		return nil, &transport.ValidationError{
			Field:   "index",
			Message: fmt.Sprintf("index %d invalid for truncate", index),
		}
	}
	if index >= len(b.steps)-1 {
		return b.result(0, nil), nil
	}

	b.pushUndo()
	b.steps = cloneSteps(b.steps[:index+1])
	b.states = cloneStates(b.states[:index+1])
	b.redo = nil
	b.logger.Debug("log truncated", "kept", index+1)
	return b.result(0, nil), nil
}

func (b *Backend) StepHistory(ctx context.Context) ([]steps.Step, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneSteps(b.steps), nil
}

func (b *Backend) Snapshot(ctx context.Context) (*transport.EditResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result(0, nil), nil
}

func (b *Backend) pushUndo() {
	b.undo = append(b.undo, logSnapshot{steps: b.steps, states: b.states})
}

// result snapshots the committed log into a response. Callers hold the
// mutex.
func (b *Backend) result(generation int64, warnings []steps.Warning) *transport.EditResult {
	return &transport.EditResult{
		Generation:  generation,
		Steps:       cloneSteps(b.steps),
		SheetStates: cloneStates(b.states),
		Warnings:    warnings,
	}
}

func cloneSteps(in []steps.Step) []steps.Step {
	out := make([]steps.Step, len(in))
	for i, st := range in {
		if st.Params != nil {
			st.Params = st.Params.Clone()
		}
		out[i] = st
	}
	return out
}

func cloneStates(in []steps.SheetState) []steps.SheetState {
	out := make([]steps.SheetState, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}
