package steps

import (
	"encoding/json"
	"fmt"
)

// Params is the tagged union of per-step-type parameters.
//
// Implementations are plain structs whose JSON encoding is the wire and
// storage format. All entity references inside params are EntityIDs.
type Params interface {
	StepType() StepType
	Clone() Params
}

// KeyPair pairs a left-sheet column with a right-sheet column for a merge.
type KeyPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// ImportParams loads an external table as a new sheet.
// Source names a registered fixture or a CSV file path; resolution is a
// backend concern.
type ImportParams struct {
	Source    string `json:"source"`
	SheetName string `json:"sheet_name"`
}

func (ImportParams) StepType() StepType { return StepImport }
func (p ImportParams) Clone() Params    { return p }

// MergeParams joins two sheets on one or more key column pairings.
type MergeParams struct {
	LeftSheetID        string    `json:"left_sheet_id"`
	RightSheetID       string    `json:"right_sheet_id"`
	How                string    `json:"how"` // "inner" | "left"
	MergeKeyColumnIDs  []KeyPair `json:"merge_key_column_ids"`
	RightKeepColumnIDs []string  `json:"right_keep_column_ids,omitempty"`
}

func (MergeParams) StepType() StepType { return StepMerge }

func (p MergeParams) Clone() Params {
	c := p
	c.MergeKeyColumnIDs = append([]KeyPair(nil), p.MergeKeyColumnIDs...)
	c.RightKeepColumnIDs = append([]string(nil), p.RightKeepColumnIDs...)
	return c
}

// ConcatParams stacks several sheets with matching headers into one.
type ConcatParams struct {
	SheetIDs []string `json:"sheet_ids"`
}

func (ConcatParams) StepType() StepType { return StepConcat }

func (p ConcatParams) Clone() Params {
	c := p
	c.SheetIDs = append([]string(nil), p.SheetIDs...)
	return c
}

// PivotParams groups a sheet by row key columns and aggregates one value column.
type PivotParams struct {
	SheetID       string   `json:"sheet_id"`
	RowColumnIDs  []string `json:"row_column_ids"`
	ValueColumnID string   `json:"value_column_id"`
	Agg           string   `json:"agg"` // "count" | "sum"
}

func (PivotParams) StepType() StepType { return StepPivot }

func (p PivotParams) Clone() Params {
	c := p
	c.RowColumnIDs = append([]string(nil), p.RowColumnIDs...)
	return c
}

// AddColumnParams appends an empty column to a sheet.
type AddColumnParams struct {
	SheetID string `json:"sheet_id"`
	Header  string `json:"header"`
}

func (AddColumnParams) StepType() StepType { return StepAddColumn }
func (p AddColumnParams) Clone() Params    { return p }

// DeleteColumnParams removes columns from a sheet.
type DeleteColumnParams struct {
	SheetID   string   `json:"sheet_id"`
	ColumnIDs []string `json:"column_ids"`
}

func (DeleteColumnParams) StepType() StepType { return StepDeleteColumn }

func (p DeleteColumnParams) Clone() Params {
	c := p
	c.ColumnIDs = append([]string(nil), p.ColumnIDs...)
	return c
}

// RenameColumnParams changes a column's display header. The column keeps
// its EntityID, which is what makes downstream references survive the rename.
type RenameColumnParams struct {
	SheetID   string `json:"sheet_id"`
	ColumnID  string `json:"column_id"`
	NewHeader string `json:"new_header"`
}

func (RenameColumnParams) StepType() StepType { return StepRenameColumn }
func (p RenameColumnParams) Clone() Params    { return p }

// FilterColumnParams keeps only rows matching a condition on one column.
type FilterColumnParams struct {
	SheetID   string `json:"sheet_id"`
	ColumnID  string `json:"column_id"`
	Condition string `json:"condition"` // "equals" | "not_equals" | "contains"
	Value     string `json:"value"`
}

func (FilterColumnParams) StepType() StepType { return StepFilterColumn }
func (p FilterColumnParams) Clone() Params    { return p }

// SetFormulaParams writes a formula into a column. ReferencedColumnIDs lists
// every column the formula reads, so replay can re-resolve them individually.
type SetFormulaParams struct {
	SheetID             string   `json:"sheet_id"`
	ColumnID            string   `json:"column_id"`
	Formula             string   `json:"formula"`
	ReferencedColumnIDs []string `json:"referenced_column_ids,omitempty"`
}

func (SetFormulaParams) StepType() StepType { return StepSetFormula }

func (p SetFormulaParams) Clone() Params {
	c := p
	c.ReferencedColumnIDs = append([]string(nil), p.ReferencedColumnIDs...)
	return c
}

// SortColumnParams sorts a sheet by one column.
type SortColumnParams struct {
	SheetID   string `json:"sheet_id"`
	ColumnID  string `json:"column_id"`
	Ascending bool   `json:"ascending"`
}

func (SortColumnParams) StepType() StepType { return StepSortColumn }
func (p SortColumnParams) Clone() Params    { return p }

// DecodeParams parses raw JSON params for the given step type.
func DecodeParams(t StepType, data []byte) (Params, error) {
	var p Params
	switch t {
	case StepImport:
		p = &ImportParams{}
	case StepMerge:
		p = &MergeParams{}
	case StepConcat:
		p = &ConcatParams{}
	case StepPivot:
		p = &PivotParams{}
	case StepAddColumn:
		p = &AddColumnParams{}
	case StepDeleteColumn:
		p = &DeleteColumnParams{}
	case StepRenameColumn:
		p = &RenameColumnParams{}
	case StepFilterColumn:
		p = &FilterColumnParams{}
	case StepSetFormula:
		p = &SetFormulaParams{}
	case StepSortColumn:
		p = &SortColumnParams{}
	default:
		return nil, fmt.Errorf("unknown step type %q", t)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", t, err)
	}
	return deref(p), nil
}

// deref converts the pointer used for json.Unmarshal back to the value form
// used everywhere else.
func deref(p Params) Params {
	switch v := p.(type) {
	case *ImportParams:
		return *v
	case *MergeParams:
		return *v
	case *ConcatParams:
		return *v
	case *PivotParams:
		return *v
	case *AddColumnParams:
		return *v
	case *DeleteColumnParams:
		return *v
	case *RenameColumnParams:
		return *v
	case *FilterColumnParams:
		return *v
	case *SetFormulaParams:
		return *v
	case *SortColumnParams:
		return *v
	default:
		return p
	}
}

// stepWire is the JSON envelope for a Step; Params is decoded by Type.
type stepWire struct {
	ID     string          `json:"id"`
	Index  int             `json:"index"`
	Type   StepType        `json:"type"`
	Params json.RawMessage `json:"params"`
}

// UnmarshalJSON decodes the tagged params union keyed by the step type.
func (s *Step) UnmarshalJSON(data []byte) error {
	var w stepWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode step: %w", err)
	}
	params, err := DecodeParams(w.Type, w.Params)
	if err != nil {
		return fmt.Errorf("step %s: %w", w.ID, err)
	}
	s.ID = w.ID
	s.Index = w.Index
	s.Type = w.Type
	s.Params = params
	return nil
}
