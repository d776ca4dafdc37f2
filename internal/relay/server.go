package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/thoughtspace/sync/internal/ir"
)

// Server exposes a Relay over HTTP: a websocket endpoint for
// push/pull/subtree/roster messages and a plain streaming endpoint for
// binary hydration, kept separate per spec.md §5 so hydration's
// backpressure never blocks short pushes.
type Server struct {
	relay *Relay
	log   *slog.Logger
}

// NewServer wraps relay in an http.Handler.
func NewServer(r *Relay) *Server {
	return &Server{relay: r, log: slog.Default()}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ws":
		s.handleWS(w, r)
	case "/hydrate":
		s.handleHydrate(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleHydrate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	if err := s.relay.StreamSnapshot(r.Context(), w); err != nil {
		s.log.Error("hydration stream failed", "err", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	clientID := ir.ClientID(r.URL.Query().Get("client_id"))
	if clientID == "" {
		conn.Close(websocket.StatusPolicyViolation, "client_id required")
		return
	}

	out := make(chan ir.WireMessage, 64)
	peers := s.relay.Join(clientID, out)
	defer s.relay.Leave(clientID)

	if err := conn.Write(ctx, websocket.MessageText, mustJSON(ir.WireMessage{Type: ir.TypeConnections, Clients: peers})); err != nil {
		return
	}
	s.relay.roster.broadcast(ir.WireMessage{Type: ir.TypeConnections, Clients: s.relay.Roster()}, clientID)

	done := make(chan struct{})
	go s.writeLoop(ctx, conn, out, done)
	defer close(done)

	s.readLoop(ctx, conn, clientID)
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan ir.WireMessage, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case msg := <-out:
			if err := conn.Write(ctx, websocket.MessageText, mustJSON(msg)); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, clientID ir.ClientID) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ir.WireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("dropping malformed wire message", "err", err)
			continue
		}

		reply, ok := s.dispatch(ctx, clientID, msg)
		if !ok {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, mustJSON(reply)); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, clientID ir.ClientID, msg ir.WireMessage) (ir.WireMessage, bool) {
	switch msg.Type {
	case ir.TypePing:
		return ir.WireMessage{Type: ir.TypeConnections, Clients: s.relay.Roster()}, true

	case ir.TypePush:
		syncTS, corrective, err := s.relay.HandlePush(ctx, clientID, msg.Operations)
		if err != nil {
			s.log.Error("push rejected", "client", clientID, "err", err)
			return ir.WireMessage{}, false
		}
		// corrective operations are also broadcast (relay.HandlePush does
		// this unconditionally, originator included), but returning them
		// here too lets the pushing client apply them immediately through
		// engine.Apply instead of waiting on its own broadcast delivery.
		return ir.WireMessage{Type: ir.TypePush, SyncTimestamp: syncTS, Operations: corrective}, true

	case ir.TypeSyncStream:
		header, ops, err := s.relay.StreamSince(ctx, msg.LastSyncTimestamp)
		if err != nil {
			s.log.Error("stream since failed", "client", clientID, "err", err)
			return ir.WireMessage{}, false
		}
		return ir.WireMessage{Type: ir.TypeSyncStream, Header: &header, Operations: ops}, true

	case ir.TypeSubtree:
		nodes, err := s.relay.Subtree(ctx, msg.ID, msg.Depth)
		if err != nil {
			s.log.Error("subtree failed", "client", clientID, "err", err)
			return ir.WireMessage{}, false
		}
		return ir.WireMessage{Type: ir.TypeSubtree, Nodes: nodes}, true

	default:
		s.log.Warn("unknown wire message type", "type", msg.Type)
		return ir.WireMessage{}, false
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
