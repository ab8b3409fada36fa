package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: cli-import
description: import one source and check the result
sources:
  sales.csv:
    headers: [id, amount]
    rows:
      - ["1", "100"]
      - ["2", "250"]
flow:
  - op: edit
    step_id: s1
    index: 0
    type: import
    params:
      source: sales.csv
      sheet_name: Sales
assertions:
  - type: step_count
    count: 1
  - type: sheet_rows
    sheet: Sales
    count: 2
`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunCommandPasses(t *testing.T) {
	path := writeScenario(t, passingScenario)

	out, err := executeCommand(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "cli-import")
}

func TestRunCommandFailsAssertions(t *testing.T) {
	path := writeScenario(t, passingScenario+`  - type: step_count
    count: 9
`)

	out, err := executeCommand(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL")
}

func TestRunCommandRejectsBrokenFile(t *testing.T) {
	path := writeScenario(t, "name: [")

	_, err := executeCommand(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommandJSONOutput(t *testing.T) {
	path := writeScenario(t, passingScenario)

	out, err := executeCommand(t, "run", path, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "ok"`)
	assert.Contains(t, out, `"scenario": "cli-import"`)
}
