package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and captures its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "sheetsync")
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "replay")
}

func TestRootRejectsInvalidFormat(t *testing.T) {
	_, err := executeCommand(t, "--format", "xml", "history", "--db", "ignored.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestHistoryRequiresDatabaseFlag(t *testing.T) {
	_, err := executeCommand(t, "history")
	require.Error(t, err)
}
