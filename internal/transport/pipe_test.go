package transport_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietgrid/sheetsync/internal/backend"
	"github.com/quietgrid/sheetsync/internal/entity"
	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/transport"
)

func TestPipeDelegatesToService(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := backend.New(entity.NewSeqAllocator("p"), backend.WithLogger(quiet))
	require.NoError(t, err)
	b.RegisterSource("data.csv", backend.Source{
		Headers: []string{"id"},
		Rows:    [][]string{{"1"}},
	})

	pipe := transport.NewPipe(b)
	ctx := context.Background()

	res, err := pipe.Edit(ctx, transport.EditRequest{
		StepID: "s1",
		Index:  0,
		Type:   steps.StepImport,
		Params: steps.ImportParams{Source: "data.csv", SheetName: "Data"},
	})
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)

	snap, err := pipe.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Steps, snap.Steps)

	history, err := pipe.StepHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	assert.NoError(t, pipe.Close())
}
