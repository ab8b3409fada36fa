package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mergeScenario = `
name: merge-check
description: merge with a placeholder key pairing
sources:
  left.csv:
    headers: [id, amount]
    rows:
      - ["1", "100"]
  right.csv:
    headers: [id, target]
    rows:
      - ["1", "120"]
flow:
  - op: edit
    step_id: s1
    index: 0
    type: import
    params:
      source: left.csv
      sheet_name: Left
  - op: edit
    step_id: s2
    index: 1
    type: import
    params:
      source: right.csv
      sheet_name: Right
  - op: edit
    step_id: s3
    index: 2
    type: merge
    params:
      left_sheet_id: "$sheet:Left"
      right_sheet_id: "$sheet:Right"
      how: HOW
      merge_key_column_ids:
        - left: "$col:Left:id"
          right: "$col:Right:id"
`

func TestValidateCommandAcceptsGoodScenario(t *testing.T) {
	path := writeScenario(t, replaceHow(mergeScenario, "left"))

	out, err := executeCommand(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
}

func TestValidateCommandRejectsBadEnum(t *testing.T) {
	path := writeScenario(t, replaceHow(mergeScenario, "outer"))

	out, err := executeCommand(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "flow[2]")
}

func TestValidateCommandRejectsUnparseableFile(t *testing.T) {
	path := writeScenario(t, "flow: {")

	out, err := executeCommand(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL")
}

func replaceHow(scenario, how string) string {
	return strings.ReplaceAll(scenario, "HOW", how)
}
