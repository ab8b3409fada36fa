package transport

import (
	"errors"

	"github.com/quietgrid/sheetsync/internal/steps"
)

// requestFrame is the client-to-server wire envelope.
// Log frames carry no ReqID and receive no response.
type requestFrame struct {
	Kind    string         `json:"kind"`
	ReqID   string         `json:"req_id,omitempty"`
	Edit    *EditRequest   `json:"edit,omitempty"`
	Index   int            `json:"index,omitempty"`
	Event   string         `json:"event,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Wire kinds beyond edit/log; these are engine-initiated navigation and
// recovery calls.
const (
	kindUndo     = "undo"
	kindRedo     = "redo"
	kindTruncate = "truncate"
	kindHistory  = "history"
	kindSnapshot = "snapshot"
)

// responseFrame is the server-to-client wire envelope, correlated by ReqID.
type responseFrame struct {
	ReqID  string       `json:"req_id"`
	Result *EditResult  `json:"result,omitempty"`
	Steps  []steps.Step `json:"steps,omitempty"`
	Error  *wireError   `json:"error,omitempty"`
}

// wireError carries a typed error across the wire.
type wireError struct {
	Kind    string `json:"kind"` // "validation" | "internal"
	StepID  string `json:"step_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// toWireError maps service errors onto the wire taxonomy.
func toWireError(err error) *wireError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &wireError{Kind: "validation", StepID: ve.StepID, Field: ve.Field, Message: ve.Message}
	}
	return &wireError{Kind: "internal", Message: err.Error()}
}

// fromWireError reconstructs the typed error on the client side.
func (w *wireError) toError() error {
	if w.Kind == "validation" {
		return &ValidationError{StepID: w.StepID, Field: w.Field, Message: w.Message}
	}
	return &backendError{message: w.Message}
}

// backendError is a non-validation failure reported by the backend.
type backendError struct {
	message string
}

func (e *backendError) Error() string { return e.message }
