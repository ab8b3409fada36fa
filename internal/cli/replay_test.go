package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/store"
)

// seedAnalysis writes a CSV source, a config pointing at it, and a saved
// two-step analysis. Returns the db and config paths.
func seedAnalysis(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "sales.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,region,amount\n1,west,100\n2,east,250\n"), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sources:\n  sales.csv: "+csvPath+"\n"), 0o644))

	dbPath := filepath.Join(dir, "sheetsync.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	log := []steps.Step{
		{
			ID: "s1", Index: 0, Type: steps.StepImport,
			Params: steps.ImportParams{Source: "sales.csv", SheetName: "Sales"},
		},
		{
			ID: "s2", Index: 1, Type: steps.StepAddColumn,
			Params: steps.AddColumnParams{SheetID: "r-1", Header: "margin"},
		},
	}
	require.NoError(t, st.SaveAnalysis(context.Background(), "a1", "quarterly", log))
	return dbPath, cfgPath
}

func TestReplayCommandVerifiesDeterminism(t *testing.T) {
	dbPath, cfgPath := seedAnalysis(t)

	out, err := executeCommand(t, "replay", "--db", dbPath, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "a1")
	assert.Contains(t, out, "quarterly")
}

func TestReplayCommandSingleAnalysis(t *testing.T) {
	dbPath, cfgPath := seedAnalysis(t)

	out, err := executeCommand(t, "replay", "--db", dbPath, "--config", cfgPath, "--analysis", "a1", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"all_deterministic": true`)
}

func TestReplayCommandUnknownAnalysis(t *testing.T) {
	dbPath, cfgPath := seedAnalysis(t)

	_, err := executeCommand(t, "replay", "--db", dbPath, "--config", cfgPath, "--analysis", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayCommandEmptyDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := executeCommand(t, "replay", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "no saved analyses")
}
