package backend

import (
	"strconv"

	"github.com/quietgrid/sheetsync/internal/steps"
)

// Table is the in-memory materialization of one sheet: its column metadata
// plus row data aligned to the column order.
type Table struct {
	ID      string
	Name    string
	Columns []steps.Column
	Rows    [][]string
}

// colIndex returns the position of the column with the given ID, or -1.
func (t *Table) colIndex(id string) int {
	for i, c := range t.Columns {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (t *Table) clone() *Table {
	out := &Table{
		ID:      t.ID,
		Name:    t.Name,
		Columns: make([]steps.Column, len(t.Columns)),
		Rows:    make([][]string, len(t.Rows)),
	}
	copy(out.Columns, t.Columns)
	for i, r := range t.Rows {
		out.Rows[i] = make([]string, len(r))
		copy(out.Rows[i], r)
	}
	return out
}

// env holds the tables live at one point in the step log, in creation order.
type env struct {
	order  []string
	sheets map[string]*Table
}

func newEnv() *env {
	return &env{sheets: make(map[string]*Table)}
}

// add inserts or replaces a table. Re-executing a step that produced a sheet
// replaces the previous materialization under the same ID without changing
// its position.
func (e *env) add(t *Table) {
	if _, ok := e.sheets[t.ID]; !ok {
		e.order = append(e.order, t.ID)
	}
	e.sheets[t.ID] = t
}

func (e *env) get(id string) (*Table, bool) {
	t, ok := e.sheets[id]
	return t, ok
}

// state snapshots the environment as the sheet metadata visible after a
// step. Dtypes are inferred from the materialized rows at snapshot time.
func (e *env) state() steps.SheetState {
	st := steps.SheetState{Sheets: make([]steps.Sheet, 0, len(e.order))}
	for _, id := range e.order {
		t := e.sheets[id]
		sheet := steps.Sheet{
			ID:       t.ID,
			Name:     t.Name,
			Columns:  make([]steps.Column, len(t.Columns)),
			RowCount: int64(len(t.Rows)),
		}
		for i, c := range t.Columns {
			c.Dtype = inferDtype(t.Rows, i)
			sheet.Columns[i] = c
		}
		st.Sheets = append(st.Sheets, sheet)
	}
	return st
}

// inferDtype reports "number" when every non-empty cell in the column
// parses as a float, "string" otherwise. Empty columns are "string".
func inferDtype(rows [][]string, col int) string {
	seen := false
	for _, r := range rows {
		if col >= len(r) || r[col] == "" {
			continue
		}
		if _, err := strconv.ParseFloat(r[col], 64); err != nil {
			return "string"
		}
		seen = true
	}
	if !seen {
		return "string"
	}
	return "number"
}
