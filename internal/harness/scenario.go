package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario: registered sources, a flow of
// protocol operations against a fresh backend, and assertions over the
// final committed state.
type Scenario struct {
	// Name uniquely identifies this scenario (and its golden file).
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Sources registers importable tabular data by name.
	Sources map[string]SourceDef `yaml:"sources"`

	// Flow is the ordered list of operations to drive.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final committed state.
	Assertions []Assertion `yaml:"assertions"`
}

// SourceDef is raw tabular data for an import source.
type SourceDef struct {
	Headers []string   `yaml:"headers"`
	Rows    [][]string `yaml:"rows"`
}

// FlowStep is one operation in the flow.
//
// Params may reference entities through placeholders resolved against the
// state committed so far: "$sheet:<name>" resolves to a sheet's EntityID
// and "$col:<sheet name>:<header>" to a column's.
type FlowStep struct {
	// Op is one of: edit, undo, redo, truncate_after, snapshot.
	Op string `yaml:"op"`

	// Edit fields.
	StepID string         `yaml:"step_id,omitempty"`
	Index  int            `yaml:"index,omitempty"`
	Type   string         `yaml:"type,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`

	// Truncate field.
	After int `yaml:"after,omitempty"`

	// Expect validates the operation's outcome; nil means "must succeed
	// with no warnings".
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of one flow step.
type ExpectClause struct {
	// Error marks the operation as expected to fail.
	Error bool `yaml:"error,omitempty"`
	// Warnings lists the expected reconciliation warning kinds, in order.
	Warnings []string `yaml:"warnings,omitempty"`
}

// Assertion validates the final committed state.
type Assertion struct {
	// Type is one of: step_count, sheet_rows, sheet_columns, warning_count.
	Type string `yaml:"type"`

	// Count is the expected value (step_count, sheet_rows, warning_count).
	Count int `yaml:"count"`

	// Sheet names the target sheet (sheet_rows, sheet_columns).
	Sheet string `yaml:"sheet,omitempty"`

	// Headers are the expected column headers in order (sheet_columns).
	Headers []string `yaml:"headers,omitempty"`

	// Kind filters warnings by kind (warning_count).
	Kind string `yaml:"kind,omitempty"`
}

// Assertion type constants.
const (
	AssertStepCount    = "step_count"
	AssertSheetRows    = "sheet_rows"
	AssertSheetColumns = "sheet_columns"
	AssertWarningCount = "warning_count"
)

// Flow op constants.
const (
	OpEdit          = "edit"
	OpUndo          = "undo"
	OpRedo          = "redo"
	OpTruncateAfter = "truncate_after"
	OpSnapshot      = "snapshot"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently validating nothing.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for name, src := range s.Sources {
		if len(src.Headers) == 0 {
			return fmt.Errorf("source %q: headers are required", name)
		}
		for i, row := range src.Rows {
			if len(row) != len(src.Headers) {
				return fmt.Errorf("source %q: row %d has %d cells for %d headers", name, i, len(row), len(src.Headers))
			}
		}
	}

	for i, step := range s.Flow {
		switch step.Op {
		case OpEdit:
			if step.StepID == "" {
				return fmt.Errorf("flow[%d]: step_id is required for edit", i)
			}
			if step.Type == "" {
				return fmt.Errorf("flow[%d]: type is required for edit", i)
			}
			if step.Params == nil {
				return fmt.Errorf("flow[%d]: params are required for edit", i)
			}
		case OpUndo, OpRedo, OpSnapshot, OpTruncateAfter:
		case "":
			return fmt.Errorf("flow[%d]: op is required", i)
		default:
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertStepCount:
		case AssertSheetRows:
			if a.Sheet == "" {
				return fmt.Errorf("assertions[%d]: sheet is required for sheet_rows", i)
			}
		case AssertSheetColumns:
			if a.Sheet == "" {
				return fmt.Errorf("assertions[%d]: sheet is required for sheet_columns", i)
			}
			if len(a.Headers) == 0 {
				return fmt.Errorf("assertions[%d]: headers are required for sheet_columns", i)
			}
		case AssertWarningCount:
			if a.Kind == "" {
				return fmt.Errorf("assertions[%d]: kind is required for warning_count", i)
			}
		case "":
			return fmt.Errorf("assertions[%d]: type is required", i)
		default:
			return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
	}
	return nil
}
