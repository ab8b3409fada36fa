package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/quietgrid/sheetsync/internal/steps"
)

// WSClient is a Client over a websocket connection.
//
// Requests carry a correlation ID; a read-pump goroutine routes each
// response frame to the waiting caller. Log frames are written without a
// correlation ID, never waited on, and write failures are swallowed:
// telemetry loss must not affect correctness.
type WSClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *responseFrame

	seq       atomic.Int64
	closeOnce sync.Once
	done      chan struct{}
}

// DialWS connects to a sheetsync backend at url (e.g. "ws://host/ws").
func DialWS(ctx context.Context, url string) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	c := &WSClient{
		conn:    conn,
		pending: make(map[string]chan *responseFrame),
		done:    make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// readPump routes response frames to waiting callers until the connection
// fails or closes, then fails every pending call.
func (c *WSClient) readPump() {
	for {
		var resp responseFrame
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.failAll(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ReqID]
		if ok {
			delete(c.pending, resp.ReqID)
		}
		c.mu.Unlock()

		if !ok {
			// Response for a caller that gave up (context cancelled).
			slog.Debug("dropping uncorrelated response", "req_id", resp.ReqID)
			continue
		}
		ch <- &resp
	}
}

func (c *WSClient) failAll(err error) {
	slog.Debug("websocket read loop ended", "error", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// call writes a correlated request frame and waits for its response.
func (c *WSClient) call(ctx context.Context, req requestFrame) (*responseFrame, error) {
	req.ReqID = fmt.Sprintf("r-%d", c.seq.Add(1))

	ch := make(chan *responseFrame, 1)
	c.mu.Lock()
	c.pending[req.ReqID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ReqID)
		c.mu.Unlock()
		return nil, &TransportError{Op: req.Kind, Err: err}
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ReqID)
		c.mu.Unlock()
		return nil, &TransportError{Op: req.Kind, Err: ctx.Err()}
	case <-c.done:
		return nil, &TransportError{Op: req.Kind, Err: fmt.Errorf("connection closed")}
	case resp, ok := <-ch:
		if !ok {
			return nil, &TransportError{Op: req.Kind, Err: fmt.Errorf("connection closed")}
		}
		if resp.Error != nil {
			return nil, resp.Error.toError()
		}
		return resp, nil
	}
}

func (c *WSClient) callResult(ctx context.Context, req requestFrame) (*EditResult, error) {
	resp, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, &TransportError{Op: req.Kind, Err: fmt.Errorf("empty result")}
	}
	return resp.Result, nil
}

func (c *WSClient) Edit(ctx context.Context, req EditRequest) (*EditResult, error) {
	return c.callResult(ctx, requestFrame{Kind: string(KindEdit), Edit: &req})
}

// Log writes a telemetry frame. Best-effort by contract: no correlation,
// no retry, write errors dropped.
func (c *WSClient) Log(event string, payload map[string]any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(requestFrame{Kind: string(KindLog), Event: event, Payload: payload}); err != nil {
		slog.Debug("telemetry write dropped", "event", event, "error", err)
	}
}

func (c *WSClient) Undo(ctx context.Context) (*EditResult, error) {
	return c.callResult(ctx, requestFrame{Kind: kindUndo})
}

func (c *WSClient) Redo(ctx context.Context) (*EditResult, error) {
	return c.callResult(ctx, requestFrame{Kind: kindRedo})
}

func (c *WSClient) TruncateAfter(ctx context.Context, index int) (*EditResult, error) {
	return c.callResult(ctx, requestFrame{Kind: kindTruncate, Index: index})
}

func (c *WSClient) StepHistory(ctx context.Context) ([]steps.Step, error) {
	resp, err := c.call(ctx, requestFrame{Kind: kindHistory})
	if err != nil {
		return nil, err
	}
	return resp.Steps, nil
}

func (c *WSClient) Snapshot(ctx context.Context) (*EditResult, error) {
	return c.callResult(ctx, requestFrame{Kind: kindSnapshot})
}

// Close shuts down the connection and fails any outstanding calls.
func (c *WSClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}
