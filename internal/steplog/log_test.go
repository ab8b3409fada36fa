package steplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietgrid/sheetsync/internal/steps"
)

func threeStepLog(t *testing.T) *Log {
	t.Helper()
	l := New()

	committed := []steps.Step{
		{ID: "step-1", Index: 0, Type: steps.StepImport, Params: steps.ImportParams{Source: "a.csv", SheetName: "df1"}},
		{ID: "step-2", Index: 1, Type: steps.StepImport, Params: steps.ImportParams{Source: "b.csv", SheetName: "df2"}},
		{ID: "step-3", Index: 2, Type: steps.StepAddColumn, Params: steps.AddColumnParams{SheetID: "sheet-1", Header: "total"}},
	}
	states := []steps.SheetState{
		{Sheets: []steps.Sheet{{ID: "sheet-1", Name: "df1", RowCount: 1}}},
		{Sheets: []steps.Sheet{{ID: "sheet-1", Name: "df1", RowCount: 1}, {ID: "sheet-2", Name: "df2", RowCount: 2}}},
		{Sheets: []steps.Sheet{{ID: "sheet-1", Name: "df1", RowCount: 1, Columns: []steps.Column{{ID: "col-1", Header: "total"}}}, {ID: "sheet-2", Name: "df2", RowCount: 2}}},
	}
	require.NoError(t, l.ApplyAuthoritative(committed, states))
	return l
}

func TestLog_ApplyAuthoritativeLandsLive(t *testing.T) {
	l := threeStepLog(t)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 2, l.Pointer())
	assert.Equal(t, Live, l.Mode())
}

func TestLog_ApplyAuthoritativeRejectsGaps(t *testing.T) {
	l := New()
	bad := []steps.Step{{ID: "step-1", Index: 1, Type: steps.StepImport, Params: steps.ImportParams{}}}
	err := l.ApplyAuthoritative(bad, []steps.SheetState{{}})
	assert.Error(t, err)
}

func TestLog_HistoricalModeIsReadOnly(t *testing.T) {
	l := threeStepLog(t)

	require.NoError(t, l.ViewHistory(0))
	assert.Equal(t, Historical, l.Mode())
	assert.ErrorIs(t, l.EnsureLive(), ErrHistoricalReadOnly)
}

func TestLog_NonDestructiveHistoryRoundTrip(t *testing.T) {
	l := threeStepLog(t)

	before, err := canonicalSnapshot(l)
	require.NoError(t, err)

	require.NoError(t, l.ViewHistory(0))
	l.FastForward()

	after, err := canonicalSnapshot(l)
	require.NoError(t, err)

	assert.Equal(t, before, after, "history navigation must not change log or states")
	assert.Equal(t, Live, l.Mode())
}

// canonicalSnapshot serializes steps+states canonically so byte-for-byte
// comparison is meaningful.
func canonicalSnapshot(l *Log) (string, error) {
	plain, err := steps.ToPlain(map[string]any{
		"steps":  l.Steps(),
		"states": l.States(),
	})
	if err != nil {
		return "", err
	}
	data, err := steps.MarshalCanonical(plain)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func TestLog_UndoRedo(t *testing.T) {
	l := threeStepLog(t)

	require.NoError(t, l.Undo())
	assert.Equal(t, 1, l.Pointer())
	assert.Equal(t, Historical, l.Mode())

	require.NoError(t, l.Redo())
	assert.Equal(t, 2, l.Pointer())
	assert.Equal(t, Live, l.Mode())

	assert.ErrorIs(t, l.Redo(), ErrRedoUnavailable)

	require.NoError(t, l.Undo())
	require.NoError(t, l.Undo())
	assert.ErrorIs(t, l.Undo(), ErrUndoUnavailable)
}

func TestLog_TruncateAfterIsIrreversible(t *testing.T) {
	l := threeStepLog(t)

	require.NoError(t, l.ViewHistory(0))
	require.NoError(t, l.TruncateAfter(0))

	assert.Equal(t, 1, l.Len())
	assert.Equal(t, Live, l.Mode())
	assert.ErrorIs(t, l.Redo(), ErrRedoUnavailable)

	// Indices stay contiguous after truncation.
	st, err := l.Step(0)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Index)
}

func TestLog_EmptyNavigation(t *testing.T) {
	l := New()
	assert.Equal(t, Live, l.Mode())
	assert.ErrorIs(t, l.Undo(), ErrEmpty)
	assert.ErrorIs(t, l.ViewHistory(0), ErrEmpty)
	_, err := l.CurrentState()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLog_StepsReturnsCopies(t *testing.T) {
	l := threeStepLog(t)

	got := l.Steps()
	got[0].ID = "tampered"

	st, err := l.Step(0)
	require.NoError(t, err)
	assert.Equal(t, "step-1", st.ID)
}
