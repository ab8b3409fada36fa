package backend

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/quietgrid/sheetsync/internal/entity"
	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/transport"
)

// Source is a registered import target: raw tabular data addressable by
// name from import steps.
type Source struct {
	Headers []string
	Rows    [][]string
}

// identityKey pins an output entity to the step that produces it and the
// role it plays there. Re-executing the step yields the same EntityID for
// the same role, which is what keeps downstream references valid across
// replay.
type identityKey struct {
	stepID string
	role   string
}

// executor runs a full step list from an empty environment and produces the
// committed form of each step (references pruned), the per-step sheet
// states, and any reconciliation warnings.
//
// The identity map and registry outlive individual runs: a step that is
// re-executed on replay reuses the IDs it allocated the first time, and the
// registry keeps the last-known display name of every entity ever produced
// so prune warnings can name what vanished.
type executor struct {
	reg     *entity.Registry
	ids     map[identityKey]string
	sources map[string]Source
}

func newExecutor(alloc entity.Allocator) *executor {
	return &executor{
		reg:     entity.NewRegistry(alloc),
		ids:     make(map[identityKey]string),
		sources: make(map[string]Source),
	}
}

func (x *executor) ensureID(stepID, role, name string) string {
	k := identityKey{stepID: stepID, role: role}
	if id, ok := x.ids[k]; ok {
		x.reg.Register(id, name)
		return id
	}
	id := x.reg.Allocate(name)
	x.ids[k] = id
	return id
}

// describe renders an EntityID for a warning detail, with its last-known
// display name when the registry still has one.
func (x *executor) describe(id string) string {
	if name, ok := x.reg.Resolve(id); ok {
		return fmt.Sprintf("%s (%q)", id, name)
	}
	return id
}

func (x *executor) run(in []steps.Step) ([]steps.Step, []steps.SheetState, []steps.Warning, error) {
	e := newEnv()
	out := make([]steps.Step, 0, len(in))
	states := make([]steps.SheetState, 0, len(in))
	var warnings []steps.Warning

	for i, st := range in {
		st.Index = i
		params, warns, err := x.apply(e, st)
		if err != nil {
			return nil, nil, nil, err
		}
		st.Params = params
		out = append(out, st)
		states = append(states, e.state())
		warnings = append(warnings, warns...)
	}
	return out, states, warnings, nil
}

// apply executes one step against the environment. The returned params are
// what the committed log should record; pruning a dangling reference
// rewrites them.
func (x *executor) apply(e *env, st steps.Step) (steps.Params, []steps.Warning, error) {
	switch p := st.Params.(type) {
	case steps.ImportParams:
		return x.applyImport(e, st, p)
	case steps.MergeParams:
		return x.applyMerge(e, st, p)
	case steps.ConcatParams:
		return x.applyConcat(e, st, p)
	case steps.PivotParams:
		return x.applyPivot(e, st, p)
	case steps.AddColumnParams:
		return x.applyAddColumn(e, st, p)
	case steps.DeleteColumnParams:
		return x.applyDeleteColumn(e, st, p)
	case steps.RenameColumnParams:
		return x.applyRenameColumn(e, st, p)
	case steps.FilterColumnParams:
		return x.applyFilterColumn(e, st, p)
	case steps.SetFormulaParams:
		return x.applySetFormula(e, st, p)
	case steps.SortColumnParams:
		return x.applySortColumn(e, st, p)
	default:
		return nil, nil, fmt.Errorf("unsupported step type %q", st.Type)
	}
}

func missingEntity(stepID, detail string) steps.Warning {
	return steps.Warning{StepID: stepID, Kind: steps.WarnMissingEntity, Detail: detail}
}

func (x *executor) applyImport(e *env, st steps.Step, p steps.ImportParams) (steps.Params, []steps.Warning, error) {
	src, ok := x.sources[p.Source]
	if !ok {
		return nil, nil, &transport.ValidationError{
			StepID:  st.ID,
			Field:   "source",
			Message: fmt.Sprintf("unknown source %q", p.Source),
		}
	}

	t := &Table{
		ID:   x.ensureID(st.ID, "sheet", p.SheetName),
		Name: p.SheetName,
		Rows: make([][]string, len(src.Rows)),
	}
	for _, h := range src.Headers {
		t.Columns = append(t.Columns, steps.Column{
			ID:     x.ensureID(st.ID, "col:"+h, h),
			Header: h,
		})
	}
	for i, r := range src.Rows {
		row := make([]string, len(src.Headers))
		copy(row, r)
		t.Rows[i] = row
	}
	e.add(t)
	return p, nil, nil
}

func (x *executor) applyMerge(e *env, st steps.Step, p steps.MergeParams) (steps.Params, []steps.Warning, error) {
	var warns []steps.Warning

	left, ok := e.get(p.LeftSheetID)
	if !ok {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("left sheet %s no longer exists", x.describe(p.LeftSheetID)))}, nil
	}
	right, ok := e.get(p.RightSheetID)
	if !ok {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("right sheet %s no longer exists", x.describe(p.RightSheetID)))}, nil
	}

	// Prune key pairs whose columns fell out of either input.
	kept := make([]steps.KeyPair, 0, len(p.MergeKeyColumnIDs))
	for _, kp := range p.MergeKeyColumnIDs {
		if left.colIndex(kp.Left) < 0 {
			warns = append(warns, missingEntity(st.ID, fmt.Sprintf("merge key column %s no longer exists in sheet %s", x.describe(kp.Left), x.describe(left.ID))))
			continue
		}
		if right.colIndex(kp.Right) < 0 {
			warns = append(warns, missingEntity(st.ID, fmt.Sprintf("merge key column %s no longer exists in sheet %s", x.describe(kp.Right), x.describe(right.ID))))
			continue
		}
		kept = append(kept, kp)
	}
	p.MergeKeyColumnIDs = kept

	hadKeepList := len(p.RightKeepColumnIDs) > 0
	keepRight := make([]string, 0, len(p.RightKeepColumnIDs))
	for _, id := range p.RightKeepColumnIDs {
		if right.colIndex(id) < 0 {
			warns = append(warns, missingEntity(st.ID, fmt.Sprintf("kept column %s no longer exists in sheet %s", x.describe(id), x.describe(right.ID))))
			continue
		}
		keepRight = append(keepRight, id)
	}
	p.RightKeepColumnIDs = keepRight

	out := &Table{ID: x.ensureID(st.ID, "sheet", left.Name+"_merged"), Name: left.Name + "_merged"}

	if len(p.MergeKeyColumnIDs) == 0 {
		// Nothing left to join on. The step degrades to a pass-through of
		// the left sheet so downstream steps still have an output to
		// reference.
		warns = append(warns, steps.Warning{
			StepID: st.ID,
			Kind:   steps.WarnMissingKeyPairing,
			Detail: "no merge key pairings remain; passing left sheet through",
		})
		for _, c := range left.Columns {
			out.Columns = append(out.Columns, steps.Column{
				ID:     x.ensureID(st.ID, "col:"+c.Header, c.Header),
				Header: c.Header,
			})
		}
		for _, r := range left.Rows {
			row := make([]string, len(r))
			copy(row, r)
			out.Rows = append(out.Rows, row)
		}
		e.add(out)
		return p, warns, nil
	}

	// Output columns: all of left, then the kept right columns. When no
	// keep list is given, every non-key right column comes along.
	rightCols := keepRight
	if !hadKeepList {
		for _, c := range right.Columns {
			isKey := false
			for _, kp := range p.MergeKeyColumnIDs {
				if kp.Right == c.ID {
					isKey = true
					break
				}
			}
			if !isKey {
				rightCols = append(rightCols, c.ID)
			}
		}
	}

	leftHeaders := make(map[string]bool, len(left.Columns))
	for _, c := range left.Columns {
		out.Columns = append(out.Columns, steps.Column{
			ID:     x.ensureID(st.ID, "col:"+c.Header, c.Header),
			Header: c.Header,
		})
		leftHeaders[c.Header] = true
	}
	rightIdx := make([]int, 0, len(rightCols))
	for _, id := range rightCols {
		i := right.colIndex(id)
		rightIdx = append(rightIdx, i)
		header := right.Columns[i].Header
		if leftHeaders[header] {
			header += "_right"
		}
		out.Columns = append(out.Columns, steps.Column{
			ID:     x.ensureID(st.ID, "col:"+header, header),
			Header: header,
		})
	}

	// Index right rows by key tuple; first match wins.
	type keyIdx struct{ l, r int }
	keys := make([]keyIdx, 0, len(p.MergeKeyColumnIDs))
	for _, kp := range p.MergeKeyColumnIDs {
		keys = append(keys, keyIdx{left.colIndex(kp.Left), right.colIndex(kp.Right)})
	}
	rightByKey := make(map[string]int)
	for i, r := range right.Rows {
		k := ""
		for _, ki := range keys {
			k += r[ki.r] + "\x00"
		}
		if _, ok := rightByKey[k]; !ok {
			rightByKey[k] = i
		}
	}

	for _, lr := range left.Rows {
		k := ""
		for _, ki := range keys {
			k += lr[ki.l] + "\x00"
		}
		ri, matched := rightByKey[k]
		if !matched && p.How == "inner" {
			continue
		}
		row := make([]string, 0, len(out.Columns))
		row = append(row, lr...)
		for _, i := range rightIdx {
			if matched {
				row = append(row, right.Rows[ri][i])
			} else {
				row = append(row, "")
			}
		}
		out.Rows = append(out.Rows, row)
	}

	e.add(out)
	return p, warns, nil
}

func (x *executor) applyConcat(e *env, st steps.Step, p steps.ConcatParams) (steps.Params, []steps.Warning, error) {
	var warns []steps.Warning

	kept := make([]string, 0, len(p.SheetIDs))
	for _, id := range p.SheetIDs {
		if _, ok := e.get(id); !ok {
			warns = append(warns, missingEntity(st.ID, fmt.Sprintf("sheet %s no longer exists", x.describe(id))))
			continue
		}
		kept = append(kept, id)
	}
	p.SheetIDs = kept
	if len(kept) == 0 {
		return p, warns, nil
	}

	first, _ := e.get(kept[0])
	out := &Table{ID: x.ensureID(st.ID, "sheet", first.Name+"_concat"), Name: first.Name + "_concat"}
	for _, c := range first.Columns {
		out.Columns = append(out.Columns, steps.Column{
			ID:     x.ensureID(st.ID, "col:"+c.Header, c.Header),
			Header: c.Header,
		})
	}

	// Rows from every member, aligned to the first sheet's headers; a
	// member missing a header contributes empty cells there.
	for _, id := range kept {
		t, _ := e.get(id)
		colMap := make([]int, len(first.Columns))
		for i, c := range first.Columns {
			colMap[i] = -1
			for j, tc := range t.Columns {
				if tc.Header == c.Header {
					colMap[i] = j
					break
				}
			}
		}
		for _, r := range t.Rows {
			row := make([]string, len(first.Columns))
			for i, j := range colMap {
				if j >= 0 {
					row[i] = r[j]
				}
			}
			out.Rows = append(out.Rows, row)
		}
	}

	e.add(out)
	return p, warns, nil
}

func (x *executor) applyPivot(e *env, st steps.Step, p steps.PivotParams) (steps.Params, []steps.Warning, error) {
	var warns []steps.Warning

	t, ok := e.get(p.SheetID)
	if !ok {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("sheet %s no longer exists", x.describe(p.SheetID)))}, nil
	}

	rowCols := make([]string, 0, len(p.RowColumnIDs))
	for _, id := range p.RowColumnIDs {
		if t.colIndex(id) < 0 {
			warns = append(warns, missingEntity(st.ID, fmt.Sprintf("column %s no longer exists in sheet %s", x.describe(id), x.describe(t.ID))))
			continue
		}
		rowCols = append(rowCols, id)
	}
	p.RowColumnIDs = rowCols

	valIdx := t.colIndex(p.ValueColumnID)
	if valIdx < 0 {
		warns = append(warns, missingEntity(st.ID, fmt.Sprintf("column %s no longer exists in sheet %s", x.describe(p.ValueColumnID), x.describe(t.ID))))
		return p, warns, nil
	}
	if len(rowCols) == 0 {
		return p, warns, nil
	}

	out := &Table{ID: x.ensureID(st.ID, "sheet", t.Name+"_pivot"), Name: t.Name + "_pivot"}
	rowIdx := make([]int, len(rowCols))
	for i, id := range rowCols {
		rowIdx[i] = t.colIndex(id)
		header := t.Columns[rowIdx[i]].Header
		out.Columns = append(out.Columns, steps.Column{
			ID:     x.ensureID(st.ID, "col:"+header, header),
			Header: header,
		})
	}
	aggHeader := p.Agg + "_" + t.Columns[valIdx].Header
	out.Columns = append(out.Columns, steps.Column{
		ID:     x.ensureID(st.ID, "col:"+aggHeader, aggHeader),
		Header: aggHeader,
	})

	type group struct {
		keys  []string
		count int64
		sum   float64
	}
	groups := make(map[string]*group)
	var groupOrder []string
	for _, r := range t.Rows {
		k := ""
		keys := make([]string, len(rowIdx))
		for i, ci := range rowIdx {
			keys[i] = r[ci]
			k += r[ci] + "\x00"
		}
		g, ok := groups[k]
		if !ok {
			g = &group{keys: keys}
			groups[k] = g
			groupOrder = append(groupOrder, k)
		}
		g.count++
		if v, err := strconv.ParseFloat(r[valIdx], 64); err == nil {
			g.sum += v
		}
	}
	for _, k := range groupOrder {
		g := groups[k]
		row := make([]string, 0, len(g.keys)+1)
		row = append(row, g.keys...)
		switch p.Agg {
		case "sum":
			row = append(row, strconv.FormatFloat(g.sum, 'f', -1, 64))
		default:
			row = append(row, strconv.FormatInt(g.count, 10))
		}
		out.Rows = append(out.Rows, row)
	}

	e.add(out)
	return p, warns, nil
}

func (x *executor) applyAddColumn(e *env, st steps.Step, p steps.AddColumnParams) (steps.Params, []steps.Warning, error) {
	t, ok := e.get(p.SheetID)
	if !ok {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("sheet %s no longer exists", x.describe(p.SheetID)))}, nil
	}
	t.Columns = append(t.Columns, steps.Column{
		ID:     x.ensureID(st.ID, "col:"+p.Header, p.Header),
		Header: p.Header,
	})
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], "")
	}
	return p, nil, nil
}

func (x *executor) applyDeleteColumn(e *env, st steps.Step, p steps.DeleteColumnParams) (steps.Params, []steps.Warning, error) {
	var warns []steps.Warning

	t, ok := e.get(p.SheetID)
	if !ok {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("sheet %s no longer exists", x.describe(p.SheetID)))}, nil
	}

	kept := make([]string, 0, len(p.ColumnIDs))
	drop := make(map[int]bool)
	for _, id := range p.ColumnIDs {
		i := t.colIndex(id)
		if i < 0 {
			warns = append(warns, missingEntity(st.ID, fmt.Sprintf("column %s no longer exists in sheet %s", x.describe(id), x.describe(t.ID))))
			continue
		}
		kept = append(kept, id)
		drop[i] = true
	}
	p.ColumnIDs = kept
	if len(drop) == 0 {
		return p, warns, nil
	}

	cols := t.Columns[:0]
	for i, c := range t.Columns {
		if !drop[i] {
			cols = append(cols, c)
		}
	}
	t.Columns = cols
	for ri, r := range t.Rows {
		row := r[:0]
		for i, cell := range r {
			if !drop[i] {
				row = append(row, cell)
			}
		}
		t.Rows[ri] = row
	}
	return p, warns, nil
}

func (x *executor) applyRenameColumn(e *env, st steps.Step, p steps.RenameColumnParams) (steps.Params, []steps.Warning, error) {
	t, ok := e.get(p.SheetID)
	if !ok {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("sheet %s no longer exists", x.describe(p.SheetID)))}, nil
	}
	i := t.colIndex(p.ColumnID)
	if i < 0 {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("column %s no longer exists in sheet %s", x.describe(p.ColumnID), x.describe(t.ID)))}, nil
	}
	// The header changes; the column's identity does not.
	t.Columns[i].Header = p.NewHeader
	if err := x.reg.Rename(p.ColumnID, p.NewHeader); err != nil {
		return nil, nil, err
	}
	return p, nil, nil
}

func (x *executor) applyFilterColumn(e *env, st steps.Step, p steps.FilterColumnParams) (steps.Params, []steps.Warning, error) {
	t, ok := e.get(p.SheetID)
	if !ok {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("sheet %s no longer exists", x.describe(p.SheetID)))}, nil
	}
	ci := t.colIndex(p.ColumnID)
	if ci < 0 {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("column %s no longer exists in sheet %s", x.describe(p.ColumnID), x.describe(t.ID)))}, nil
	}

	rows := t.Rows[:0]
	for _, r := range t.Rows {
		keep := false
		switch p.Condition {
		case "equals":
			keep = r[ci] == p.Value
		case "not_equals":
			keep = r[ci] != p.Value
		case "contains":
			keep = containsFold(r[ci], p.Value)
		}
		if keep {
			rows = append(rows, r)
		}
	}
	t.Rows = rows
	return p, nil, nil
}

func (x *executor) applySetFormula(e *env, st steps.Step, p steps.SetFormulaParams) (steps.Params, []steps.Warning, error) {
	var warns []steps.Warning

	t, ok := e.get(p.SheetID)
	if !ok {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("sheet %s no longer exists", x.describe(p.SheetID)))}, nil
	}
	ci := t.colIndex(p.ColumnID)
	if ci < 0 {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("column %s no longer exists in sheet %s", x.describe(p.ColumnID), x.describe(t.ID)))}, nil
	}

	refs := make([]string, 0, len(p.ReferencedColumnIDs))
	refIdx := make([]int, 0, len(p.ReferencedColumnIDs))
	for _, id := range p.ReferencedColumnIDs {
		i := t.colIndex(id)
		if i < 0 {
			warns = append(warns, missingEntity(st.ID, fmt.Sprintf("column %s no longer exists in sheet %s", x.describe(id), x.describe(t.ID))))
			continue
		}
		refs = append(refs, id)
		refIdx = append(refIdx, i)
	}
	p.ReferencedColumnIDs = refs

	// Reference evaluation: with referenced columns the cell is their
	// numeric sum per row; without, the formula is treated as a constant.
	for ri, r := range t.Rows {
		if len(refIdx) == 0 {
			r[ci] = p.Formula
			continue
		}
		sum := 0.0
		valid := true
		for _, i := range refIdx {
			v, err := strconv.ParseFloat(r[i], 64)
			if err != nil {
				valid = false
				break
			}
			sum += v
		}
		if valid {
			t.Rows[ri][ci] = strconv.FormatFloat(sum, 'f', -1, 64)
		} else {
			t.Rows[ri][ci] = ""
		}
	}
	return p, warns, nil
}

func (x *executor) applySortColumn(e *env, st steps.Step, p steps.SortColumnParams) (steps.Params, []steps.Warning, error) {
	t, ok := e.get(p.SheetID)
	if !ok {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("sheet %s no longer exists", x.describe(p.SheetID)))}, nil
	}
	ci := t.colIndex(p.ColumnID)
	if ci < 0 {
		return p, []steps.Warning{missingEntity(st.ID, fmt.Sprintf("column %s no longer exists in sheet %s", x.describe(p.ColumnID), x.describe(t.ID)))}, nil
	}

	sort.SliceStable(t.Rows, func(i, j int) bool {
		a, b := t.Rows[i][ci], t.Rows[j][ci]
		less := lessCell(a, b)
		if p.Ascending {
			return less
		}
		return lessCell(b, a)
	})
	return p, nil, nil
}

// lessCell compares numerically when both cells parse, lexically otherwise.
func lessCell(a, b string) bool {
	fa, ea := strconv.ParseFloat(a, 64)
	fb, eb := strconv.ParseFloat(b, 64)
	if ea == nil && eb == nil {
		return fa < fb
	}
	return a < b
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
