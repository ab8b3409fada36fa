package transport_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietgrid/sheetsync/internal/backend"
	"github.com/quietgrid/sheetsync/internal/entity"
	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/transport"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Record(event string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// startWSBackend serves a fresh backend over a test websocket endpoint and
// returns a connected client.
func startWSBackend(t *testing.T, opts ...backend.Option) *transport.WSClient {
	t.Helper()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := backend.New(entity.NewSeqAllocator("w"), append([]backend.Option{backend.WithLogger(quiet)}, opts...)...)
	require.NoError(t, err)
	b.RegisterSource("sales.csv", backend.Source{
		Headers: []string{"id", "amount"},
		Rows:    [][]string{{"1", "100"}, {"2", "250"}},
	})

	srv := httptest.NewServer(transport.NewWSServer(b))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := transport.DialWS(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestWSClientEditRoundTrip(t *testing.T) {
	client := startWSBackend(t)
	ctx := context.Background()

	res, err := client.Edit(ctx, transport.EditRequest{
		StepID:     "s1",
		Index:      0,
		Type:       steps.StepImport,
		Params:     steps.ImportParams{Source: "sales.csv", SheetName: "Sales"},
		Generation: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Generation)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "s1", res.Steps[0].ID)
	require.Len(t, res.SheetStates, 1)
	assert.Equal(t, int64(2), res.SheetStates[0].Sheets[0].RowCount)

	snap, err := client.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Steps, snap.Steps)

	history, err := client.StepHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, steps.StepImport, history[0].Type)

	undone, err := client.Undo(ctx)
	require.NoError(t, err)
	assert.Empty(t, undone.Steps)

	redone, err := client.Redo(ctx)
	require.NoError(t, err)
	require.Len(t, redone.Steps, 1)
}

func TestWSClientValidationErrorSurvivesWire(t *testing.T) {
	client := startWSBackend(t)

	_, err := client.Edit(context.Background(), transport.EditRequest{
		StepID: "s1",
		Index:  0,
		Type:   steps.StepImport,
		Params: steps.ImportParams{Source: "absent.csv", SheetName: "Ghost"},
	})
	require.Error(t, err)
	require.True(t, transport.IsValidation(err))

	var ve *transport.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "s1", ve.StepID)
	assert.Equal(t, "source", ve.Field)
}

func TestWSClientTelemetryReachesSink(t *testing.T) {
	sink := &recordingSink{}
	client := startWSBackend(t, backend.WithTelemetry(sink))

	client.Log("step_committed", map[string]any{"step_id": "s1"})

	// Log frames are fire-and-forget, so wait for the server to consume it.
	require.Eventually(t, func() bool { return sink.count() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestWSClientCancelledContext(t *testing.T) {
	client := startWSBackend(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Snapshot(ctx)
	require.Error(t, err)
	assert.True(t, transport.IsTransport(err))
}
