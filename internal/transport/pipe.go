package transport

import (
	"context"

	"github.com/quietgrid/sheetsync/internal/steps"
)

// Pipe is the in-process Client used by embedded hosts and tests: calls go
// straight to the Service with no serialization. Correlation is trivial
// because the caller already has the response in hand; generation checks
// still apply in the engine, so stale-response semantics are identical to
// the remote transport.
type Pipe struct {
	svc Service
}

// NewPipe wraps a backend service as a Client.
func NewPipe(svc Service) *Pipe {
	return &Pipe{svc: svc}
}

func (p *Pipe) Edit(ctx context.Context, req EditRequest) (*EditResult, error) {
	return p.svc.Edit(ctx, req)
}

// Log forwards telemetry. Fire-and-forget: errors are not possible and the
// call must not block meaningfully.
func (p *Pipe) Log(event string, payload map[string]any) {
	p.svc.Log(event, payload)
}

func (p *Pipe) Undo(ctx context.Context) (*EditResult, error) {
	return p.svc.Undo(ctx)
}

func (p *Pipe) Redo(ctx context.Context) (*EditResult, error) {
	return p.svc.Redo(ctx)
}

func (p *Pipe) TruncateAfter(ctx context.Context, index int) (*EditResult, error) {
	return p.svc.TruncateAfter(ctx, index)
}

func (p *Pipe) StepHistory(ctx context.Context) ([]steps.Step, error) {
	return p.svc.StepHistory(ctx)
}

func (p *Pipe) Snapshot(ctx context.Context) (*EditResult, error) {
	return p.svc.Snapshot(ctx)
}

func (p *Pipe) Close() error { return nil }
