package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/thoughtspace/sync/internal/ir"
)

// WSClient implements syncclient.Transport over a single coder/websocket
// connection for push/pull/subtree, plus a dedicated HTTP connection per
// spec.md §5 for hydration so its backpressure never blocks short pushes.
//
// coder/websocket allows only one concurrent reader per connection, but
// this client must support both synchronous round trips (Push, PullSince,
// Subtree) and an always-on live broadcast feed (Subscribe) on the same
// connection. So a single background readLoop goroutine owns the only
// call to conn.Read and demultiplexes every incoming message: one waiting
// face for the in-flight round trip's reply, the rest onto the broadcast
// channel Subscribe hands to Coordinator.ReceiveLive.
type WSClient struct {
	baseURL string
	conn    *websocket.Conn
	http    *http.Client

	writeMu sync.Mutex

	mu          sync.Mutex
	pendingType ir.MessageType
	pendingCh   chan ir.WireMessage
	readErr     error

	broadcast chan ir.WireMessage
	readDone  chan struct{}
}

// DialWSClient opens the primary websocket connection to a relay server at
// baseURL (e.g. "ws://host:port"), identifying this connection by clientID
// so the relay can track it on the roster and stamp pushed operations.
func DialWSClient(ctx context.Context, baseURL string, clientID ir.ClientID) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, baseURL+"/ws?client_id="+url.QueryEscape(string(clientID)), nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", baseURL, err)
	}
	c := &WSClient{
		baseURL:   baseURL,
		conn:      conn,
		http:      http.DefaultClient,
		broadcast: make(chan ir.WireMessage, 64),
		readDone:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	<-c.readDone
	return err
}

// readLoop is the connection's sole reader. Every message is either the
// reply a pending roundTrip is waiting on, or a broadcast (roster/status
// update, a peer's push, or a server-attributed corrective operation) that
// goes on the broadcast channel instead.
//
// A push reply and a push broadcast share MessageType "push", so they are
// told apart by SyncTimestamp: the relay always stamps a direct push reply
// with the sync_timestamp it just assigned, while broadcast pushes (to
// other peers, and correctives broadcast to everyone per spec.md §4.3)
// carry no sync_timestamp of their own.
func (c *WSClient) readLoop() {
	defer close(c.readDone)
	defer close(c.broadcast)

	for {
		var msg ir.WireMessage
		if err := wsjsonRead(context.Background(), c.conn, &msg); err != nil {
			c.mu.Lock()
			c.readErr = err
			pending := c.pendingCh
			c.pendingCh = nil
			c.mu.Unlock()
			if pending != nil {
				close(pending)
			}
			return
		}

		c.mu.Lock()
		isReply := c.pendingCh != nil && msg.Type == c.pendingType &&
			(msg.Type != ir.TypePush || msg.SyncTimestamp != "")
		if isReply {
			ch := c.pendingCh
			c.pendingCh = nil
			c.mu.Unlock()
			ch <- msg
			close(ch)
			continue
		}
		c.mu.Unlock()

		select {
		case c.broadcast <- msg:
		default:
			// Slow or absent Subscribe consumer: drop rather than block
			// the only reader and stall every in-flight round trip too.
		}
	}
}

// roundTrip sends req and waits for the reply matching wantType. Only one
// round trip may be in flight at a time per connection, matching how the
// Coordinator's single-threaded worker already serializes requests
// (spec.md §5); a second concurrent call fails fast instead of racing.
func (c *WSClient) roundTrip(ctx context.Context, req ir.WireMessage, wantType ir.MessageType) (ir.WireMessage, error) {
	c.mu.Lock()
	if c.pendingCh != nil {
		c.mu.Unlock()
		return ir.WireMessage{}, fmt.Errorf("relay: round trip already in flight")
	}
	ch := make(chan ir.WireMessage, 1)
	c.pendingType = wantType
	c.pendingCh = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := wsjson(ctx, c.conn, req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		if c.pendingCh == ch {
			c.pendingCh = nil
		}
		c.mu.Unlock()
		return ir.WireMessage{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			c.mu.Lock()
			readErr := c.readErr
			c.mu.Unlock()
			return ir.WireMessage{}, fmt.Errorf("relay: connection closed waiting for %s reply: %w", wantType, readErr)
		}
		return reply, nil
	case <-ctx.Done():
		c.mu.Lock()
		if c.pendingCh == ch {
			c.pendingCh = nil
		}
		c.mu.Unlock()
		return ir.WireMessage{}, ctx.Err()
	}
}

// Push sends ops and returns the relay-assigned sync_timestamp plus any
// corrective operations the deletion/restore policy (spec.md §4.3)
// synthesized as a direct result of this push, so the caller can apply
// them locally without waiting on its own broadcast to arrive back.
func (c *WSClient) Push(ctx context.Context, ops []ir.Operation) (ir.Timestamp, []ir.Operation, error) {
	reply, err := c.roundTrip(ctx, ir.WireMessage{Type: ir.TypePush, Operations: ops}, ir.TypePush)
	if err != nil {
		return "", nil, err
	}
	return reply.SyncTimestamp, reply.Operations, nil
}

func (c *WSClient) PullSince(ctx context.Context, cursor ir.Timestamp) (ir.StreamHeader, []ir.Operation, error) {
	reply, err := c.roundTrip(ctx, ir.WireMessage{Type: ir.TypeSyncStream, LastSyncTimestamp: cursor}, ir.TypeSyncStream)
	if err != nil {
		return ir.StreamHeader{}, nil, err
	}
	header := ir.StreamHeader{LowerLimit: cursor, Operations: len(reply.Operations)}
	if reply.Header != nil {
		header = *reply.Header
	}
	return header, reply.Operations, nil
}

func (c *WSClient) Subtree(ctx context.Context, root ir.NodeID, depth int) ([]ir.Node, error) {
	reply, err := c.roundTrip(ctx, ir.WireMessage{Type: ir.TypeSubtree, ID: root, Depth: depth}, ir.TypeSubtree)
	if err != nil {
		return nil, err
	}
	return reply.Nodes, nil
}

func (c *WSClient) Hydrate(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/hydrate", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: hydrate request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("relay: hydrate: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Subscribe returns the connection's single broadcast channel, fed by
// readLoop alongside (never instead of) round-trip replies. The channel
// closes when readLoop exits on connection loss.
func (c *WSClient) Subscribe(ctx context.Context) (<-chan ir.WireMessage, error) {
	return c.broadcast, nil
}

func wsjson(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: marshal wire message: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func wsjsonRead(ctx context.Context, conn *websocket.Conn, v any) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("relay: read wire message: %w", err)
	}
	return json.Unmarshal(data, v)
}
