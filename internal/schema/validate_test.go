package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/transport"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestValidate_AcceptsWellFormedParams(t *testing.T) {
	v := newValidator(t)

	cases := []steps.Params{
		steps.ImportParams{Source: "sales.csv", SheetName: "Sales"},
		steps.MergeParams{
			LeftSheetID:  "s-1",
			RightSheetID: "s-2",
			How:          "inner",
			MergeKeyColumnIDs: []steps.KeyPair{
				{Left: "c-1", Right: "c-9"},
			},
		},
		steps.ConcatParams{SheetIDs: []string{"s-1", "s-2"}},
		steps.PivotParams{
			SheetID:       "s-1",
			RowColumnIDs:  []string{"c-1"},
			ValueColumnID: "c-2",
			Agg:           "sum",
		},
		steps.AddColumnParams{SheetID: "s-1", Header: "Margin"},
		steps.DeleteColumnParams{SheetID: "s-1", ColumnIDs: []string{"c-3"}},
		steps.RenameColumnParams{SheetID: "s-1", ColumnID: "c-1", NewHeader: "Region"},
		steps.FilterColumnParams{SheetID: "s-1", ColumnID: "c-1", Condition: "equals", Value: "west"},
		steps.SetFormulaParams{SheetID: "s-1", ColumnID: "c-4", Formula: "a + b", ReferencedColumnIDs: []string{"c-1", "c-2"}},
		steps.SortColumnParams{SheetID: "s-1", ColumnID: "c-1", Ascending: true},
	}

	for _, p := range cases {
		assert.NoError(t, v.Validate("step-1", p), "type %s", p.StepType())
	}
}

func TestValidate_RejectsEmptyEntityID(t *testing.T) {
	v := newValidator(t)

	err := v.Validate("step-2", steps.RenameColumnParams{
		SheetID:   "",
		ColumnID:  "c-1",
		NewHeader: "Region",
	})
	require.Error(t, err)

	assert.True(t, transport.IsValidation(err))
	var ve *transport.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "step-2", ve.StepID)
}

func TestValidate_RejectsBadEnum(t *testing.T) {
	v := newValidator(t)

	err := v.Validate("step-3", steps.MergeParams{
		LeftSheetID:  "s-1",
		RightSheetID: "s-2",
		How:          "outer",
		MergeKeyColumnIDs: []steps.KeyPair{
			{Left: "c-1", Right: "c-2"},
		},
	})
	require.Error(t, err)
	assert.True(t, transport.IsValidation(err))
}

func TestValidate_RejectsEmptyList(t *testing.T) {
	v := newValidator(t)

	// Concat of a single sheet is meaningless; the schema demands two or
	// more members.
	err := v.Validate("step-4", steps.ConcatParams{SheetIDs: []string{"s-1"}})
	require.Error(t, err)
	assert.True(t, transport.IsValidation(err))
}

func TestValidate_ReportsFieldPath(t *testing.T) {
	v := newValidator(t)

	err := v.Validate("step-5", steps.FilterColumnParams{
		SheetID:   "s-1",
		ColumnID:  "c-1",
		Condition: "between",
		Value:     "10",
	})
	var ve *transport.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Field, "condition")
}
