package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietgrid/sheetsync/internal/entity"
	"github.com/quietgrid/sheetsync/internal/steps"
)

func newTestExecutor() *executor {
	x := newExecutor(entity.NewSeqAllocator("e"))
	x.sources["sales.csv"] = Source{
		Headers: []string{"id", "region", "amount"},
		Rows: [][]string{
			{"1", "west", "10"},
			{"2", "east", "20"},
			{"3", "west", "30"},
		},
	}
	x.sources["more.csv"] = Source{
		Headers: []string{"id", "region", "amount"},
		Rows: [][]string{
			{"4", "north", "40"},
		},
	}
	return x
}

func runOK(t *testing.T, x *executor, list []steps.Step) ([]steps.Step, []steps.SheetState, []steps.Warning) {
	t.Helper()
	out, states, warns, err := x.run(list)
	require.NoError(t, err)
	return out, states, warns
}

func importStep(id, source, name string) steps.Step {
	return steps.Step{ID: id, Type: steps.StepImport, Params: steps.ImportParams{Source: source, SheetName: name}}
}

func TestExec_ConcatAlignsByHeader(t *testing.T) {
	x := newTestExecutor()

	runOK(t, x, []steps.Step{
		importStep("s1", "sales.csv", "Sales"),
		importStep("s2", "more.csv", "More"),
	})

	_, states, warns := runOK(t, x, []steps.Step{
		importStep("s1", "sales.csv", "Sales"),
		importStep("s2", "more.csv", "More"),
		{ID: "s3", Type: steps.StepConcat, Params: steps.ConcatParams{
			SheetIDs: []string{findSheet(t, x, "s1"), findSheet(t, x, "s2")},
		}},
	})
	assert.Empty(t, warns)

	cat := sheetByName(t, states[2], "Sales_concat")
	assert.Equal(t, int64(4), cat.RowCount)
	assert.Len(t, cat.Columns, 3)
}

// findSheet resolves the sheet identity a step allocated.
func findSheet(t *testing.T, x *executor, stepID string) string {
	t.Helper()
	id, ok := x.ids[identityKey{stepID: stepID, role: "sheet"}]
	require.True(t, ok)
	return id
}

func findColumn(t *testing.T, x *executor, stepID, header string) string {
	t.Helper()
	id, ok := x.ids[identityKey{stepID: stepID, role: "col:" + header}]
	require.True(t, ok)
	return id
}

func TestExec_PivotCountAndSum(t *testing.T) {
	x := newTestExecutor()
	runOK(t, x, []steps.Step{importStep("s1", "sales.csv", "Sales")})
	sheet := findSheet(t, x, "s1")
	region := findColumn(t, x, "s1", "region")
	amount := findColumn(t, x, "s1", "amount")

	_, states, warns := runOK(t, x, []steps.Step{
		importStep("s1", "sales.csv", "Sales"),
		{ID: "s2", Type: steps.StepPivot, Params: steps.PivotParams{
			SheetID:       sheet,
			RowColumnIDs:  []string{region},
			ValueColumnID: amount,
			Agg:           "sum",
		}},
	})
	assert.Empty(t, warns)

	pv := sheetByName(t, states[1], "Sales_pivot")
	assert.Equal(t, int64(2), pv.RowCount) // west, east
	columnByHeader(t, pv, "sum_amount")
}

func TestExec_AddColumnThenFormula(t *testing.T) {
	x := newTestExecutor()
	runOK(t, x, []steps.Step{importStep("s1", "sales.csv", "Sales")})
	sheet := findSheet(t, x, "s1")
	amount := findColumn(t, x, "s1", "amount")

	addStep := steps.Step{ID: "s2", Type: steps.StepAddColumn, Params: steps.AddColumnParams{
		SheetID: sheet, Header: "doubled",
	}}
	runOK(t, x, []steps.Step{importStep("s1", "sales.csv", "Sales"), addStep})
	doubled := findColumn(t, x, "s2", "doubled")

	_, states, warns := runOK(t, x, []steps.Step{
		importStep("s1", "sales.csv", "Sales"),
		addStep,
		{ID: "s3", Type: steps.StepSetFormula, Params: steps.SetFormulaParams{
			SheetID:             sheet,
			ColumnID:            doubled,
			Formula:             "amount + amount",
			ReferencedColumnIDs: []string{amount, amount},
		}},
	})
	assert.Empty(t, warns)

	sh := sheetByName(t, states[2], "Sales")
	assert.Equal(t, "number", columnByHeader(t, sh, "doubled").Dtype)
}

func TestExec_RenamePreservesColumnIdentity(t *testing.T) {
	x := newTestExecutor()
	runOK(t, x, []steps.Step{importStep("s1", "sales.csv", "Sales")})
	sheet := findSheet(t, x, "s1")
	region := findColumn(t, x, "s1", "region")

	_, states, warns := runOK(t, x, []steps.Step{
		importStep("s1", "sales.csv", "Sales"),
		{ID: "s2", Type: steps.StepRenameColumn, Params: steps.RenameColumnParams{
			SheetID: sheet, ColumnID: region, NewHeader: "Territory",
		}},
	})
	assert.Empty(t, warns)

	sh := sheetByName(t, states[1], "Sales")
	got := columnByHeader(t, sh, "Territory")
	assert.Equal(t, region, got.ID)
}

func TestExec_DeleteColumnPrunesMissingRefs(t *testing.T) {
	x := newTestExecutor()
	runOK(t, x, []steps.Step{importStep("s1", "sales.csv", "Sales")})
	sheet := findSheet(t, x, "s1")
	region := findColumn(t, x, "s1", "region")

	// Second delete names an ID that the first delete already removed.
	out, states, warns := runOK(t, x, []steps.Step{
		importStep("s1", "sales.csv", "Sales"),
		{ID: "s2", Type: steps.StepDeleteColumn, Params: steps.DeleteColumnParams{
			SheetID: sheet, ColumnIDs: []string{region},
		}},
		{ID: "s3", Type: steps.StepDeleteColumn, Params: steps.DeleteColumnParams{
			SheetID: sheet, ColumnIDs: []string{region},
		}},
	})
	require.Len(t, warns, 1)
	assert.Equal(t, "s3", warns[0].StepID)
	assert.Equal(t, steps.WarnMissingEntity, warns[0].Kind)

	// The dangling reference was pruned from the committed params.
	dp, ok := out[2].Params.(steps.DeleteColumnParams)
	require.True(t, ok)
	assert.Empty(t, dp.ColumnIDs)

	sh := sheetByName(t, states[2], "Sales")
	assert.Len(t, sh.Columns, 2)
}

func TestExec_SortNumericAware(t *testing.T) {
	x := newTestExecutor()
	runOK(t, x, []steps.Step{importStep("s1", "sales.csv", "Sales")})
	sheet := findSheet(t, x, "s1")
	amount := findColumn(t, x, "s1", "amount")

	_, states, warns := runOK(t, x, []steps.Step{
		importStep("s1", "sales.csv", "Sales"),
		{ID: "s2", Type: steps.StepSortColumn, Params: steps.SortColumnParams{
			SheetID: sheet, ColumnID: amount, Ascending: false,
		}},
	})
	assert.Empty(t, warns)
	assert.Equal(t, int64(3), sheetByName(t, states[1], "Sales").RowCount)
}

func TestExec_MissingSheetSkipsStep(t *testing.T) {
	x := newTestExecutor()

	_, states, warns := runOK(t, x, []steps.Step{
		importStep("s1", "sales.csv", "Sales"),
		{ID: "s2", Type: steps.StepFilterColumn, Params: steps.FilterColumnParams{
			SheetID: "ghost", ColumnID: "ghost-col", Condition: "equals", Value: "x",
		}},
	})
	require.Len(t, warns, 1)
	assert.Equal(t, steps.WarnMissingEntity, warns[0].Kind)
	// The filter did nothing; the import's output is untouched.
	assert.Equal(t, int64(3), sheetByName(t, states[1], "Sales").RowCount)
}

func TestExec_RegistryTracksDisplayNames(t *testing.T) {
	x := newTestExecutor()
	runOK(t, x, []steps.Step{importStep("s1", "sales.csv", "Sales")})
	sheet := findSheet(t, x, "s1")
	region := findColumn(t, x, "s1", "region")

	name, ok := x.reg.Resolve(region)
	require.True(t, ok)
	assert.Equal(t, "region", name)

	_, _, warns := runOK(t, x, []steps.Step{
		importStep("s1", "sales.csv", "Sales"),
		{ID: "s2", Type: steps.StepRenameColumn, Params: steps.RenameColumnParams{
			SheetID: sheet, ColumnID: region, NewHeader: "Territory",
		}},
	})
	assert.Empty(t, warns)

	name, ok = x.reg.Resolve(region)
	require.True(t, ok)
	assert.Equal(t, "Territory", name)
}

func TestExec_PruneWarningNamesVanishedColumn(t *testing.T) {
	x := newTestExecutor()
	runOK(t, x, []steps.Step{importStep("s1", "sales.csv", "Sales")})
	sheet := findSheet(t, x, "s1")
	region := findColumn(t, x, "s1", "region")

	_, _, warns := runOK(t, x, []steps.Step{
		importStep("s1", "sales.csv", "Sales"),
		{ID: "s2", Type: steps.StepDeleteColumn, Params: steps.DeleteColumnParams{
			SheetID: sheet, ColumnIDs: []string{region},
		}},
		{ID: "s3", Type: steps.StepSortColumn, Params: steps.SortColumnParams{
			SheetID: sheet, ColumnID: region, Ascending: true,
		}},
	})
	require.Len(t, warns, 1)
	assert.Equal(t, "s3", warns[0].StepID)
	// The registry keeps last-known names, so the warning can say what
	// the dangling ID used to be called.
	assert.Contains(t, warns[0].Detail, `"region"`)
	assert.Contains(t, warns[0].Detail, `"Sales"`)
}

func TestExec_IndicesNormalized(t *testing.T) {
	x := newTestExecutor()

	out, _, _ := runOK(t, x, []steps.Step{
		{ID: "s1", Index: 9, Type: steps.StepImport, Params: steps.ImportParams{Source: "sales.csv", SheetName: "Sales"}},
		{ID: "s2", Index: 9, Type: steps.StepImport, Params: steps.ImportParams{Source: "more.csv", SheetName: "More"}},
	})
	assert.Equal(t, 0, out[0].Index)
	assert.Equal(t, 1, out[1].Index)
}
