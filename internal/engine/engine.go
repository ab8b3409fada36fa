// Package engine implements the frontend-side sync engine: the
// single-writer loop that owns the committed step log view, the open
// parameter drafts, and the debounced conversation with the authoritative
// backend.
//
// All mutations happen in the one goroutine running Run. External callers
// (UI handlers, flush timers, transport goroutines) submit commands through
// a thread-safe queue; the loop processes them in FIFO order, which is what
// makes every session trace deterministic and replayable.
//
// Edit lifecycle: a draft opens against a step, local mutations bump its
// generation and (re)arm a quiescence timer, the timer flushes the latest
// snapshot to the backend, and the authoritative result replaces the
// committed view wholesale. A response whose generation is older than the
// draft's current generation is discarded; the newer flush already in
// motion carries the truth.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quietgrid/sheetsync/internal/draft"
	"github.com/quietgrid/sheetsync/internal/steplog"
	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/transport"
)

// TextWindow is the quiescence window for free-text fields, where keystroke
// bursts are long and replaying on every keystroke would thrash the
// backend.
const TextWindow = 500 * time.Millisecond

// ErrTruncateNotAllowed means the host's authorization gate rejected a
// destructive truncation. The log is untouched; viewing history stays
// available.
var ErrTruncateNotAllowed = errors.New("truncate not allowed")

// Update notifies the host that the committed view changed or an operation
// failed. Steps and SheetStates are private copies.
type Update struct {
	Seq         int64
	StepID      string
	Pointer     int
	Mode        steplog.Mode
	Steps       []steps.Step
	SheetStates []steps.SheetState
	Warnings    []steps.Warning
	Err         error
}

// Engine coordinates drafts, the step log, and the backend transport.
type Engine struct {
	client transport.Client
	log    *steplog.Log
	drafts *draft.Store
	sched  *draft.Scheduler
	queue  *commandQueue
	clock  *Clock
	logger *slog.Logger

	// truncateGate authorizes destructive truncation; nil allows all.
	truncateGate func(index int) bool

	// draftIndex remembers which log position each open draft targets.
	draftIndex map[string]int
	// pending tracks the generation of the one in-flight edit per step.
	pending map[string]int64

	updates chan Update
}

// Option configures an Engine.
type Option func(*Engine, *config)

type config struct {
	schedClock draft.Clock
	window     time.Duration
	buffer     int
}

// WithSchedulerClock substitutes the timer source, letting tests drive
// quiescence windows manually.
func WithSchedulerClock(c draft.Clock) Option {
	return func(_ *Engine, cfg *config) { cfg.schedClock = c }
}

// WithWindow sets the default quiescence window.
func WithWindow(d time.Duration) Option {
	return func(_ *Engine, cfg *config) { cfg.window = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine, _ *config) { e.logger = l }
}

// WithClock sets the trace sequence clock.
func WithClock(c *Clock) Option {
	return func(e *Engine, _ *config) { e.clock = c }
}

// WithTruncateGate installs an authorization check for destructive
// truncation. Truncation is the one history action that loses data, so
// hosts gate it (a confirmation dialog, a permission tier) while plain
// history viewing stays ungated.
func WithTruncateGate(gate func(index int) bool) Option {
	return func(e *Engine, _ *config) { e.truncateGate = gate }
}

// WithUpdateBuffer sets the host update channel capacity.
func WithUpdateBuffer(n int) Option {
	return func(_ *Engine, cfg *config) { cfg.buffer = n }
}

// New creates an engine speaking to the given backend client.
func New(client transport.Client, opts ...Option) *Engine {
	e := &Engine{
		client:     client,
		log:        steplog.New(),
		drafts:     draft.NewStore(),
		queue:      newCommandQueue(),
		clock:      NewClock(),
		logger:     slog.Default(),
		draftIndex: make(map[string]int),
		pending:    make(map[string]int64),
	}
	cfg := &config{
		schedClock: draft.RealClock{},
		buffer:     64,
	}
	for _, opt := range opts {
		opt(e, cfg)
	}
	e.updates = make(chan Update, cfg.buffer)
	e.sched = draft.NewScheduler(cfg.schedClock, cfg.window, func(snapshot draft.Draft) {
		e.queue.Enqueue(command{kind: cmdFlush, snapshot: snapshot})
	})
	return e
}

// Updates returns the host notification channel. When the host falls
// behind, updates are dropped (each update carries the full view, so the
// next one supersedes anything missed).
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// OpenDraft opens an editor draft for the step at index. Index equal to the
// log length starts a new step with the given params; an index inside the
// log edits that step, seeded from its committed params.
func (e *Engine) OpenDraft(stepID string, index int, params steps.Params) bool {
	return e.queue.Enqueue(command{kind: cmdOpenDraft, stepID: stepID, index: index, params: params})
}

// UpdateDraft applies a local mutation and (re)arms the default quiescence
// window.
func (e *Engine) UpdateDraft(stepID string, patch draft.Patch) bool {
	return e.queue.Enqueue(command{kind: cmdUpdateDraft, stepID: stepID, patch: patch})
}

// UpdateDraftWindow is UpdateDraft with an explicit quiescence window, for
// free-text fields (see TextWindow).
func (e *Engine) UpdateDraftWindow(stepID string, patch draft.Patch, window time.Duration) bool {
	return e.queue.Enqueue(command{kind: cmdUpdateDraft, stepID: stepID, patch: patch, window: window})
}

// CommitDraft flushes the draft's latest state immediately, bypassing the
// quiescence window. Used when the editor closes with "apply".
func (e *Engine) CommitDraft(stepID string) bool {
	return e.queue.Enqueue(command{kind: cmdCommitDraft, stepID: stepID})
}

// CloseDraft discards the draft without sending anything further.
func (e *Engine) CloseDraft(stepID string) bool {
	return e.queue.Enqueue(command{kind: cmdCloseDraft, stepID: stepID})
}

// ViewHistory moves the local pointer to index without mutating the
// committed log.
func (e *Engine) ViewHistory(index int) bool {
	return e.queue.Enqueue(command{kind: cmdViewHistory, index: index})
}

// Undo steps the local pointer back one step.
func (e *Engine) Undo() bool { return e.queue.Enqueue(command{kind: cmdUndo}) }

// Redo steps the local pointer forward one step.
func (e *Engine) Redo() bool { return e.queue.Enqueue(command{kind: cmdRedo}) }

// FastForward returns the pointer to the live tip.
func (e *Engine) FastForward() bool { return e.queue.Enqueue(command{kind: cmdFastForward}) }

// TruncateAfter asks the backend to discard every step after index, then
// adopts the authoritative result. This is the destructive half of undo:
// navigate first, truncate only when a divergent edit is wanted.
func (e *Engine) TruncateAfter(index int) bool {
	return e.queue.Enqueue(command{kind: cmdTruncate, index: index})
}

// Resync drops the local view and adopts a fresh backend snapshot. The
// recovery path when the host suspects divergence.
func (e *Engine) Resync() bool { return e.queue.Enqueue(command{kind: cmdResync}) }

// Run starts the single-writer loop. Blocks until ctx is cancelled or Stop
// is called. Must be called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		c, ok := e.queue.TryDequeue()
		if ok {
			e.process(ctx, c)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue closes, which
			// makes this case fire immediately.
			if e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine; Run returns once the queue
// drains.
func (e *Engine) Stop() {
	e.queue.Close()
}

// process routes one command. Called only from the Run goroutine.
func (e *Engine) process(ctx context.Context, c command) {
	switch c.kind {
	case cmdOpenDraft:
		e.handleOpenDraft(c)
	case cmdUpdateDraft:
		e.handleUpdateDraft(c)
	case cmdCommitDraft:
		e.handleCommitDraft(ctx, c)
	case cmdCloseDraft:
		e.sched.Cancel(c.stepID)
		e.drafts.Close(c.stepID)
		delete(e.draftIndex, c.stepID)
	case cmdFlush:
		e.handleFlush(ctx, c)
	case cmdEditResult:
		e.handleEditResult(ctx, c)
	case cmdViewHistory:
		e.navigate(c.stepID, e.log.ViewHistory(c.index))
	case cmdUndo:
		e.navigate("", e.log.Undo())
	case cmdRedo:
		e.navigate("", e.log.Redo())
	case cmdFastForward:
		e.log.FastForward()
		e.flushDirty(ctx)
		e.emit(Update{})
	case cmdTruncate:
		e.handleTruncate(ctx, c)
	case cmdResync:
		e.handleResync(ctx)
	default:
		e.logger.Error("unknown command kind", "kind", int(c.kind))
	}
}

func (e *Engine) handleOpenDraft(c command) {
	if err := e.log.EnsureLive(); err != nil {
		e.emitErr(c.stepID, err)
		return
	}

	initial := c.params
	switch {
	case c.index < e.log.Len():
		st, err := e.log.Step(c.index)
		if err != nil {
			e.emitErr(c.stepID, err)
			return
		}
		if st.ID != c.stepID {
			e.emitErr(c.stepID, fmt.Errorf("step at index %d is %s, not %s", c.index, st.ID, c.stepID))
			return
		}
		initial = st.Params
	case c.index == e.log.Len():
		if initial == nil {
			e.emitErr(c.stepID, fmt.Errorf("new step %s needs initial params", c.stepID))
			return
		}
	default:
		e.emitErr(c.stepID, fmt.Errorf("index %d outside log of length %d", c.index, e.log.Len()))
		return
	}

	if _, err := e.drafts.Open(c.stepID, initial); err != nil {
		e.emitErr(c.stepID, err)
		return
	}
	e.draftIndex[c.stepID] = c.index
	e.logger.Debug("draft opened", "step_id", c.stepID, "index", c.index)
}

func (e *Engine) handleUpdateDraft(c command) {
	snap, err := e.drafts.Update(c.stepID, c.patch)
	if err != nil {
		e.emitErr(c.stepID, err)
		return
	}
	e.sched.TouchWindow(snap, c.window)
}

func (e *Engine) handleCommitDraft(ctx context.Context, c command) {
	e.sched.Cancel(c.stepID)
	if err := e.log.EnsureLive(); err != nil {
		// The draft stays dirty; FastForward sends it.
		e.emitErr(c.stepID, err)
		return
	}
	d, ok := e.drafts.Get(c.stepID)
	if !ok || !d.Dirty {
		return
	}
	if _, inflight := e.pending[c.stepID]; inflight {
		// The in-flight response triggers a re-flush of the dirty draft.
		return
	}
	e.flushNow(ctx, d)
}

func (e *Engine) handleFlush(ctx context.Context, c command) {
	stepID := c.snapshot.StepID
	if e.log.EnsureLive() != nil {
		// The quiescence timer expired while a history view is open.
		// Nothing may commit in Historical mode; the draft stays dirty and
		// FastForward releases it.
		e.logger.Debug("flush held back in historical view", "step_id", stepID)
		return
	}
	if _, inflight := e.pending[stepID]; inflight {
		return
	}
	// The draft may have advanced past the timer's snapshot; always send
	// the latest state.
	d, ok := e.drafts.Get(stepID)
	if !ok || !d.Dirty {
		return
	}
	e.flushNow(ctx, d)
}

// flushNow sends the draft to the backend. The transport call runs in its
// own goroutine; the outcome re-enters the loop as a command.
func (e *Engine) flushNow(ctx context.Context, d draft.Draft) {
	index, ok := e.draftIndex[d.StepID]
	if !ok {
		return
	}
	e.pending[d.StepID] = d.Generation

	req := transport.EditRequest{
		StepID:     d.StepID,
		Index:      index,
		Type:       d.Params.StepType(),
		Params:     d.Params,
		Generation: d.Generation,
	}
	e.logger.Debug("flushing edit", "step_id", d.StepID, "index", index, "generation", d.Generation)

	go func() {
		result, err := e.client.Edit(ctx, req)
		e.queue.Enqueue(command{
			kind:       cmdEditResult,
			stepID:     d.StepID,
			generation: d.Generation,
			result:     result,
			err:        err,
		})
	}()
}

// flushDirty sends any dirty draft whose flush was held back, typically
// because its timer expired during a history view. Called when the log
// returns to Live.
func (e *Engine) flushDirty(ctx context.Context) {
	for _, d := range e.drafts.Dirty() {
		if _, inflight := e.pending[d.StepID]; inflight {
			continue
		}
		if e.sched.Pending(d.StepID) {
			// Still inside its quiescence window; the timer flushes it.
			continue
		}
		e.flushNow(ctx, d)
	}
}

func (e *Engine) handleEditResult(ctx context.Context, c command) {
	delete(e.pending, c.stepID)

	if c.err != nil {
		// Validation and transport failures both preserve the draft; the
		// user fixes the params or retries. No automatic retry: a blind
		// resend could commit a stale generation.
		e.logger.Warn("edit failed", "step_id", c.stepID, "generation", c.generation, "error", c.err)
		e.emitErr(c.stepID, c.err)
		return
	}

	d, ok := e.drafts.Get(c.stepID)
	if !ok {
		// The draft was closed while the request was in flight. The
		// result is dropped unread; the next commit or Resync carries the
		// backend's truth.
		e.logger.Debug("edit response for closed draft dropped",
			"step_id", c.stepID, "generation", c.generation)
		return
	}

	if d.Generation > c.generation {
		e.logger.Debug("stale edit response discarded",
			"step_id", c.stepID,
			"response_generation", c.generation,
			"draft_generation", d.Generation,
		)
		if d.Dirty && !e.sched.Pending(c.stepID) {
			e.flushNow(ctx, d)
		}
		return
	}

	if err := e.log.ApplyAuthoritative(c.result.Steps, c.result.SheetStates); err != nil {
		e.emitErr(c.stepID, err)
		return
	}
	e.drafts.MarkClean(c.stepID, c.generation)
	e.emit(Update{StepID: c.stepID, Warnings: c.result.Warnings})
}

func (e *Engine) handleTruncate(ctx context.Context, c command) {
	if e.truncateGate != nil && !e.truncateGate(c.index) {
		e.emitErr("", ErrTruncateNotAllowed)
		return
	}
	result, err := e.client.TruncateAfter(ctx, c.index)
	if err != nil {
		e.emitErr("", err)
		return
	}
	if err := e.log.ApplyAuthoritative(result.Steps, result.SheetStates); err != nil {
		e.emitErr("", err)
		return
	}
	e.emit(Update{})
}

func (e *Engine) handleResync(ctx context.Context) {
	result, err := e.client.Snapshot(ctx)
	if err != nil {
		e.emitErr("", err)
		return
	}
	if err := e.log.ApplyAuthoritative(result.Steps, result.SheetStates); err != nil {
		e.emitErr("", err)
		return
	}
	e.logger.Info("resynced from backend", "steps", len(result.Steps))
	e.emit(Update{})
}

func (e *Engine) navigate(stepID string, err error) {
	if err != nil {
		e.emitErr(stepID, err)
		return
	}
	e.emit(Update{})
}

func (e *Engine) emitErr(stepID string, err error) {
	e.emit(Update{StepID: stepID, Err: err})
}

// emit fills in the current view and pushes the update to the host,
// dropping it if the host is not keeping up.
func (e *Engine) emit(u Update) {
	u.Seq = e.clock.Next()
	u.Pointer = e.log.Pointer()
	u.Mode = e.log.Mode()
	u.Steps = e.log.Steps()
	u.SheetStates = e.log.States()

	select {
	case e.updates <- u:
	default:
		e.logger.Warn("host update dropped", "seq", u.Seq)
	}
}
