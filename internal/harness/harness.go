// Package harness runs conformance scenarios against the real backend over
// the in-process transport.
//
// Every scenario gets a fresh backend with a sequential EntityID allocator,
// so two runs of the same scenario produce byte-identical traces. The trace
// is serialized as canonical JSON and compared against golden files (see
// golden.go) or checked with scenario assertions.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/quietgrid/sheetsync/internal/backend"
	"github.com/quietgrid/sheetsync/internal/entity"
	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/transport"
)

// TraceEvent records the observable outcome of one flow operation.
type TraceEvent struct {
	Seq      int64        `json:"seq"`
	Op       string       `json:"op"`
	StepID   string       `json:"step_id,omitempty"`
	Steps    int          `json:"steps"`
	Sheets   []SheetTrace `json:"sheets,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// SheetTrace is the trace view of one sheet after an operation.
type SheetTrace struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    int64    `json:"rows"`
}

// Result is the outcome of running a scenario.
type Result struct {
	Passed   bool
	Errors   []string
	Trace    []TraceEvent
	Warnings []steps.Warning
	Final    *transport.EditResult
}

func (r *Result) fail(msg string) {
	r.Passed = false
	r.Errors = append(r.Errors, msg)
}

// Run executes a scenario against a fresh backend and evaluates its
// assertions. Scenario-level failures land in Result.Errors; an error
// return means the scenario itself is broken.
func Run(scenario *Scenario) (*Result, error) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := backend.New(entity.NewSeqAllocator("e"), backend.WithLogger(quiet))
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}
	for name, src := range scenario.Sources {
		b.RegisterSource(name, backend.Source{Headers: src.Headers, Rows: src.Rows})
	}

	client := transport.NewPipe(b)
	defer client.Close()

	ctx := context.Background()
	result := &Result{Passed: true}
	var (
		seq  int64
		last *transport.EditResult
	)

	for i, step := range scenario.Flow {
		seq++
		var (
			res   *transport.EditResult
			opErr error
		)
		switch step.Op {
		case OpEdit:
			var params steps.Params
			params, opErr = decodeStepParams(step, lastState(last))
			if opErr == nil {
				res, opErr = client.Edit(ctx, transport.EditRequest{
					StepID:     step.StepID,
					Index:      step.Index,
					Type:       steps.StepType(step.Type),
					Params:     params,
					Generation: seq,
				})
			}
		case OpUndo:
			res, opErr = client.Undo(ctx)
		case OpRedo:
			res, opErr = client.Redo(ctx)
		case OpTruncateAfter:
			res, opErr = client.TruncateAfter(ctx, step.After)
		case OpSnapshot:
			res, opErr = client.Snapshot(ctx)
		default:
			return nil, fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}

		ev := TraceEvent{Seq: seq, Op: step.Op, StepID: step.StepID}
		if opErr != nil {
			ev.Error = opErr.Error()
			if step.Expect == nil || !step.Expect.Error {
				result.fail(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Op, opErr))
			}
		} else {
			if step.Expect != nil && step.Expect.Error {
				result.fail(fmt.Sprintf("flow[%d] %s: expected an error, got none", i, step.Op))
			}
			last = res
			ev.Steps = len(res.Steps)
			ev.Sheets = sheetTraces(res)
			ev.Warnings = warningKinds(res.Warnings)
			result.Warnings = append(result.Warnings, res.Warnings...)
			checkExpectedWarnings(result, i, step, res.Warnings)
		}
		result.Trace = append(result.Trace, ev)
	}

	result.Final = last
	evaluateAssertions(scenario, result)
	return result, nil
}

func checkExpectedWarnings(result *Result, i int, step FlowStep, warnings []steps.Warning) {
	var expected []string
	if step.Expect != nil {
		expected = step.Expect.Warnings
	}
	got := warningKinds(warnings)
	if len(got) != len(expected) {
		result.fail(fmt.Sprintf("flow[%d] %s: expected warnings %v, got %v", i, step.Op, expected, got))
		return
	}
	for j := range got {
		if got[j] != expected[j] {
			result.fail(fmt.Sprintf("flow[%d] %s: expected warnings %v, got %v", i, step.Op, expected, got))
			return
		}
	}
}

func warningKinds(warnings []steps.Warning) []string {
	if len(warnings) == 0 {
		return nil
	}
	kinds := make([]string, len(warnings))
	for i, w := range warnings {
		kinds[i] = string(w.Kind)
	}
	return kinds
}

func lastState(res *transport.EditResult) steps.SheetState {
	if res == nil || len(res.SheetStates) == 0 {
		return steps.SheetState{}
	}
	return res.SheetStates[len(res.SheetStates)-1]
}

func sheetTraces(res *transport.EditResult) []SheetTrace {
	st := lastState(res)
	if len(st.Sheets) == 0 {
		return nil
	}
	out := make([]SheetTrace, len(st.Sheets))
	for i, sh := range st.Sheets {
		headers := make([]string, len(sh.Columns))
		for j, c := range sh.Columns {
			headers[j] = c.Header
		}
		out[i] = SheetTrace{ID: sh.ID, Name: sh.Name, Columns: headers, Rows: sh.RowCount}
	}
	return out
}

// decodeStepParams resolves placeholders against the committed state and
// decodes the params union for the step's type.
func decodeStepParams(step FlowStep, st steps.SheetState) (steps.Params, error) {
	resolved, err := resolveValue(step.Params, st)
	if err != nil {
		return nil, err
	}
	data, err := marshalParams(resolved)
	if err != nil {
		return nil, err
	}
	return steps.DecodeParams(steps.StepType(step.Type), data)
}

func marshalParams(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return data, nil
}

// resolveValue rewrites "$sheet:" and "$col:" placeholders into EntityIDs.
func resolveValue(v any, st steps.SheetState) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, st)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := resolveValue(elem, st)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			r, err := resolveValue(elem, st)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, st steps.SheetState) (string, error) {
	switch {
	case strings.HasPrefix(s, "$sheet:"):
		name := strings.TrimPrefix(s, "$sheet:")
		sh, ok := sheetNamed(st, name)
		if !ok {
			return "", fmt.Errorf("placeholder %q: no sheet named %q", s, name)
		}
		return sh.ID, nil

	case strings.HasPrefix(s, "$col:"):
		parts := strings.SplitN(strings.TrimPrefix(s, "$col:"), ":", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("placeholder %q: want $col:<sheet>:<header>", s)
		}
		sh, ok := sheetNamed(st, parts[0])
		if !ok {
			return "", fmt.Errorf("placeholder %q: no sheet named %q", s, parts[0])
		}
		for _, c := range sh.Columns {
			if c.Header == parts[1] {
				return c.ID, nil
			}
		}
		return "", fmt.Errorf("placeholder %q: no column %q in sheet %q", s, parts[1], parts[0])

	default:
		return s, nil
	}
}

func sheetNamed(st steps.SheetState, name string) (steps.Sheet, bool) {
	for _, sh := range st.Sheets {
		if sh.Name == name {
			return sh, true
		}
	}
	return steps.Sheet{}, false
}

// evaluateAssertions checks the scenario's assertions against the final
// committed state.
func evaluateAssertions(scenario *Scenario, result *Result) {
	final := lastState(result.Final)

	for i, a := range scenario.Assertions {
		switch a.Type {
		case AssertStepCount:
			got := 0
			if result.Final != nil {
				got = len(result.Final.Steps)
			}
			if got != a.Count {
				result.fail(fmt.Sprintf("assertions[%d]: step count %d, want %d", i, got, a.Count))
			}

		case AssertSheetRows:
			sh, ok := sheetNamed(final, a.Sheet)
			if !ok {
				result.fail(fmt.Sprintf("assertions[%d]: no sheet named %q", i, a.Sheet))
				continue
			}
			if sh.RowCount != int64(a.Count) {
				result.fail(fmt.Sprintf("assertions[%d]: sheet %q has %d rows, want %d", i, a.Sheet, sh.RowCount, a.Count))
			}

		case AssertSheetColumns:
			sh, ok := sheetNamed(final, a.Sheet)
			if !ok {
				result.fail(fmt.Sprintf("assertions[%d]: no sheet named %q", i, a.Sheet))
				continue
			}
			headers := make([]string, len(sh.Columns))
			for j, c := range sh.Columns {
				headers[j] = c.Header
			}
			if !equalStrings(headers, a.Headers) {
				result.fail(fmt.Sprintf("assertions[%d]: sheet %q columns %v, want %v", i, a.Sheet, headers, a.Headers))
			}

		case AssertWarningCount:
			got := 0
			for _, w := range result.Warnings {
				if string(w.Kind) == a.Kind {
					got++
				}
			}
			if got != a.Count {
				result.fail(fmt.Sprintf("assertions[%d]: %d %s warnings, want %d", i, got, a.Kind, a.Count))
			}
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
