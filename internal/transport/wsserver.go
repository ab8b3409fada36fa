package transport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// WSServer adapts a Service onto a websocket endpoint.
//
// Each connection gets its own serial dispatch loop: frames are processed
// one at a time in arrival order, which preserves the backend's
// single-writer discipline without any locking in the service itself.
type WSServer struct {
	svc      Service
	upgrader websocket.Upgrader
}

// NewWSServer creates a handler serving the given backend service.
func NewWSServer(svc Service) *WSServer {
	return &WSServer{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()

	slog.Info("client connected", "remote", r.RemoteAddr)
	s.serveConn(r.Context(), conn)
	slog.Info("client disconnected", "remote", r.RemoteAddr)
}

func (s *WSServer) serveConn(ctx context.Context, conn *websocket.Conn) {
	for {
		var req requestFrame
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("read frame", "error", err)
			}
			return
		}

		// Telemetry: consume and move on, no response frame.
		if req.Kind == string(KindLog) {
			s.svc.Log(req.Event, req.Payload)
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := conn.WriteJSON(resp); err != nil {
			slog.Debug("write frame", "error", err)
			return
		}
	}
}

func (s *WSServer) dispatch(ctx context.Context, req requestFrame) responseFrame {
	resp := responseFrame{ReqID: req.ReqID}

	switch req.Kind {
	case string(KindEdit):
		if req.Edit == nil {
			resp.Error = &wireError{Kind: "internal", Message: "edit frame missing edit request"}
			return resp
		}
		result, err := s.svc.Edit(ctx, *req.Edit)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		resp.Result = result

	case kindUndo:
		result, err := s.svc.Undo(ctx)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		resp.Result = result

	case kindRedo:
		result, err := s.svc.Redo(ctx)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		resp.Result = result

	case kindTruncate:
		result, err := s.svc.TruncateAfter(ctx, req.Index)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		resp.Result = result

	case kindHistory:
		stepList, err := s.svc.StepHistory(ctx)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		resp.Steps = stepList

	case kindSnapshot:
		result, err := s.svc.Snapshot(ctx)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		resp.Result = result

	default:
		resp.Error = &wireError{Kind: "internal", Message: "unknown request kind: " + req.Kind}
	}

	return resp
}
