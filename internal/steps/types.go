package steps

// StepType identifies the kind of spreadsheet operation a step performs.
type StepType string

const (
	StepImport       StepType = "import"
	StepMerge        StepType = "merge"
	StepConcat       StepType = "concat"
	StepPivot        StepType = "pivot"
	StepAddColumn    StepType = "add_column"
	StepDeleteColumn StepType = "delete_column"
	StepRenameColumn StepType = "rename_column"
	StepFilterColumn StepType = "filter_column"
	StepSetFormula   StepType = "set_formula"
	StepSortColumn   StepType = "sort_column"
)

// ValidStepTypes defines the allowed step types.
var ValidStepTypes = map[StepType]bool{
	StepImport:       true,
	StepMerge:        true,
	StepConcat:       true,
	StepPivot:        true,
	StepAddColumn:    true,
	StepDeleteColumn: true,
	StepRenameColumn: true,
	StepFilterColumn: true,
	StepSetFormula:   true,
	StepSortColumn:   true,
}

// Step is one committed, parameterized operation in the analysis log.
//
// Steps are append-only at the tail of the log. Editing an existing step
// mutates its Params in place but preserves ID and Index. Steps are only
// destroyed by explicit truncation or a full clear.
type Step struct {
	ID     string   `json:"id"`
	Index  int      `json:"index"`
	Type   StepType `json:"type"`
	Params Params   `json:"params"`
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	c := s
	if s.Params != nil {
		c.Params = s.Params.Clone()
	}
	return c
}

// Column describes one column of a sheet at a point in the log.
// ID is the stable EntityID; Header and Dtype are display-level and may
// change across steps without affecting identity.
type Column struct {
	ID     string `json:"id"`
	Header string `json:"header"`
	Dtype  string `json:"dtype"`
}

// Sheet describes one sheet at a point in the log.
type Sheet struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Columns  []Column `json:"columns"`
	RowCount int64    `json:"row_count"`
}

// Column returns the column with the given EntityID, if present.
func (s Sheet) Column(id string) (Column, bool) {
	for _, c := range s.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// SheetState is the authoritative snapshot of all sheets after executing
// the log up to a given index. Immutable once produced.
type SheetState struct {
	Sheets []Sheet `json:"sheets"`
}

// Sheet returns the sheet with the given EntityID, if present.
func (st SheetState) Sheet(id string) (Sheet, bool) {
	for _, sh := range st.Sheets {
		if sh.ID == id {
			return sh, true
		}
	}
	return Sheet{}, false
}

// Clone returns a deep copy of the snapshot.
func (st SheetState) Clone() SheetState {
	out := SheetState{Sheets: make([]Sheet, len(st.Sheets))}
	for i, sh := range st.Sheets {
		cols := make([]Column, len(sh.Columns))
		copy(cols, sh.Columns)
		sh.Columns = cols
		out.Sheets[i] = sh
	}
	return out
}

// WarningKind classifies a reconciliation warning.
type WarningKind string

const (
	// WarnMissingEntity means a referenced column or sheet no longer exists
	// after an upstream edit; the reference was pruned from the step params.
	WarnMissingEntity WarningKind = "missing_entity"
	// WarnMissingKeyPairing means a merge was left without any usable key
	// pairing after pruning and degraded to a pass-through of its left input.
	WarnMissingKeyPairing WarningKind = "missing_key_pairing"
)

// Warning is a non-fatal notice produced during dependent-edit replay when a
// downstream step's reference became invalid. The referencing step's params
// are auto-pruned and the warning is surfaced instead of failing the replay.
type Warning struct {
	StepID string      `json:"step_id"`
	Kind   WarningKind `json:"kind"`
	Detail string      `json:"detail"`
}
