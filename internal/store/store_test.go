package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietgrid/sheetsync/internal/steps"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sheetsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleLog() []steps.Step {
	return []steps.Step{
		{ID: "s1", Index: 0, Type: steps.StepImport, Params: steps.ImportParams{Source: "sales.csv", SheetName: "Sales"}},
		{ID: "s2", Index: 1, Type: steps.StepFilterColumn, Params: steps.FilterColumnParams{
			SheetID: "sheet-1", ColumnID: "col-2", Condition: "equals", Value: "west",
		}},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAnalysis(ctx, "a1", "Q3 Report", sampleLog()))

	name, log, err := s.LoadAnalysis(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Q3 Report", name)
	require.Len(t, log, 2)
	assert.Equal(t, sampleLog(), log)
}

func TestSaveReplacesPreviousVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAnalysis(ctx, "a1", "Report", sampleLog()))
	require.NoError(t, s.SaveAnalysis(ctx, "a1", "Report v2", sampleLog()[:1]))

	name, log, err := s.LoadAnalysis(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Report v2", name)
	assert.Len(t, log, 1)
}

func TestLoadMissingAnalysis(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.LoadAnalysis(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadDetectsTamperedParams(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveAnalysis(ctx, "a1", "Report", sampleLog()))

	_, err := s.db.Exec(`UPDATE analysis_steps SET params = '{"source":"evil.csv","sheet_name":"Sales"}' WHERE step_id = 's1'`)
	require.NoError(t, err)

	_, _, err = s.LoadAnalysis(ctx, "a1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestListAnalyses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAnalysis(ctx, "a1", "First", sampleLog()))
	require.NoError(t, s.SaveAnalysis(ctx, "a2", "Second", sampleLog()[:1]))

	infos, err := s.ListAnalyses(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	byID := make(map[string]AnalysisInfo)
	for _, info := range infos {
		byID[info.ID] = info
	}
	assert.Equal(t, 2, byID["a1"].StepCount)
	assert.Equal(t, 1, byID["a2"].StepCount)
}

func TestDeleteAnalysisCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAnalysis(ctx, "a1", "Report", sampleLog()))
	require.NoError(t, s.DeleteAnalysis(ctx, "a1"))

	_, _, err := s.LoadAnalysis(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM analysis_steps`).Scan(&count))
	assert.Zero(t, count)

	assert.ErrorIs(t, s.DeleteAnalysis(ctx, "a1"), ErrNotFound)
}

func TestTelemetryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record("draft_opened", map[string]any{"step_id": "s1"}))
	require.NoError(t, s.Record("draft_flushed", nil))

	events, err := s.RecentTelemetry(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Most recent first.
	assert.Equal(t, "draft_flushed", events[0].Event)
	assert.Equal(t, "draft_opened", events[1].Event)
	assert.Equal(t, "s1", events[1].Payload["step_id"])
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sheetsync.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.SaveAnalysis(context.Background(), "a1", "Report", sampleLog()))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	name, log, err := s2.LoadAnalysis(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Report", name)
	assert.Len(t, log, 2)
}
