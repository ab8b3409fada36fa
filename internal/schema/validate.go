// Package schema validates step parameters against CUE definitions before
// the backend applies them. The schemas are embedded at build time; a
// Validator compiles them once and is safe for concurrent use.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/transport"
)

//go:embed schema.cue
var schemaSource string

// definitionNames maps each step type to its CUE definition.
var definitionNames = map[steps.StepType]string{
	steps.StepImport:       "#Import",
	steps.StepMerge:        "#Merge",
	steps.StepConcat:       "#Concat",
	steps.StepPivot:        "#Pivot",
	steps.StepAddColumn:    "#AddColumn",
	steps.StepDeleteColumn: "#DeleteColumn",
	steps.StepRenameColumn: "#RenameColumn",
	steps.StepFilterColumn: "#FilterColumn",
	steps.StepSetFormula:   "#SetFormula",
	steps.StepSortColumn:   "#SortColumn",
}

// Validator checks step parameters against the embedded schemas.
type Validator struct {
	ctx     *cue.Context
	schemas map[steps.StepType]cue.Value
}

// NewValidator compiles the embedded schemas. It fails only if the embedded
// source is broken, which is a build defect rather than a runtime condition.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile schemas: %w", err)
	}

	schemas := make(map[steps.StepType]cue.Value, len(definitionNames))
	for t, def := range definitionNames {
		v := root.LookupPath(cue.ParsePath(def))
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("schema %s: %w", def, err)
		}
		schemas[t] = v
	}
	return &Validator{ctx: ctx, schemas: schemas}, nil
}

// Validate unifies the step's parameters with the schema for its type.
// Failures come back as *transport.ValidationError with the offending field
// path filled in, so they can travel the wire and land on the draft.
func (v *Validator) Validate(stepID string, p steps.Params) error {
	schema, ok := v.schemas[p.StepType()]
	if !ok {
		return &transport.ValidationError{
			StepID:  stepID,
			Message: fmt.Sprintf("unknown step type %q", p.StepType()),
		}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	val := v.ctx.CompileBytes(data)
	if err := val.Err(); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return validationError(stepID, err)
	}
	return nil
}

// validationError picks the first CUE error and flattens it into the
// transport-level shape.
func validationError(stepID string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &transport.ValidationError{StepID: stepID, Message: err.Error()}
	}
	first := errs[0]
	return &transport.ValidationError{
		StepID:  stepID,
		Field:   strings.Join(first.Path(), "."),
		Message: first.Error(),
	}
}
