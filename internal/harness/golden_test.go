package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoldenSingleImport(t *testing.T) {
	scenario := loadScenario(t, "testdata/single_import.yaml")

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Passed, "errors: %v", result.Errors)
}

func TestTraceSnapshotCanonicalJSON(t *testing.T) {
	snapshot := &TraceSnapshot{
		ScenarioName: "tiny",
		Trace: []TraceEvent{
			{Seq: 1, Op: OpSnapshot, Steps: 0},
		},
	}

	data, err := snapshot.canonicalJSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"tiny","trace":[{"op":"snapshot","seq":1,"steps":0}]}`,
		string(data))
}
