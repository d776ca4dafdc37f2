package syncclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/thoughtspace/sync/internal/engine"
	"github.com/thoughtspace/sync/internal/ir"
	"github.com/thoughtspace/sync/internal/store"
)

// State is the Sync Coordinator's connection-lifecycle state (spec.md
// §4.4).
type State int

const (
	Disconnected State = iota
	Hydrating
	CatchingUp
	Live
	ErrorState
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Hydrating:
		return "hydrating"
	case CatchingUp:
		return "catching_up"
	case Live:
		return "live"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// Coordinator is the per-replica state machine described in spec.md §4.4.
// Database access is serialized through Coordinator's owning goroutine
// (spec.md §5: "database access is serialized through a single-threaded
// worker that multiplexes requests"), mirroring the CRDT Engine's
// single-writer Run loop.
type Coordinator struct {
	store     *store.Store
	engine    *engine.Engine
	transport Transport
	clientID  ir.ClientID
	pullChunk int

	mu    sync.Mutex
	state State

	log *slog.Logger
}

// Options configures a Coordinator.
type Options struct {
	Store     *store.Store
	Engine    *engine.Engine
	Transport Transport
	ClientID  ir.ClientID
	// PullChunkSize bounds how many operations are applied to the engine
	// per batch during catch-up (spec.md §6 pull_chunk_size, default 1000).
	PullChunkSize int
}

// New creates a Coordinator in the Disconnected state.
func New(opts Options) *Coordinator {
	chunk := opts.PullChunkSize
	if chunk <= 0 {
		chunk = 1000
	}
	return &Coordinator{
		store:     opts.Store,
		engine:    opts.Engine,
		transport: opts.Transport,
		clientID:  opts.ClientID,
		pullChunk: chunk,
		state:     Disconnected,
		log:       slog.Default(),
	}
}

// State returns the Coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	c.log.Info("sync coordinator transition", "from", from, "to", to)
}

// Connect runs the Disconnected -> {Hydrating, CatchingUp} -> Live
// sequence of spec.md §4.4: if the local store has no recorded cursor, it
// hydrates; otherwise it catches up since the last cursor. Either path
// then pushes any locally-originated unacknowledged operations before
// transitioning to Live.
func (c *Coordinator) Connect(ctx context.Context) error {
	cursor, err := c.localCursor(ctx)
	if err != nil {
		c.transition(ErrorState)
		return fmt.Errorf("syncclient: read local cursor: %w", err)
	}

	if cursor == "" {
		c.transition(Hydrating)
		if err := c.Hydrate(ctx); err != nil {
			c.transition(ErrorState)
			return err
		}
	} else {
		c.transition(CatchingUp)
		if err := c.PullSince(ctx, cursor); err != nil {
			c.transition(ErrorState)
			return err
		}
	}

	if _, err := c.Push(ctx); err != nil {
		c.transition(ErrorState)
		return err
	}

	c.transition(Live)
	return nil
}

// Disconnect marks the coordinator Disconnected on transport loss. A
// subsequent Connect re-enters CatchingUp (a cursor now exists) rather than
// Hydrating.
func (c *Coordinator) Disconnect() {
	c.transition(Disconnected)
}

// localCursor returns the highest sync_timestamp this replica has ever
// observed - the cursor used by Pull-since-cursor and by Connect to choose
// between Hydrating and Catching-Up.
func (c *Coordinator) localCursor(ctx context.Context) (ir.Timestamp, error) {
	return c.store.LastSyncTimestamp(ctx)
}

// Push sends every locally-originated, not-yet-acknowledged operation
// (sync_timestamp = null, client_id = self) to the Relay, then marks them
// synced with the server-assigned sync_timestamp (spec.md §4.4 Push).
// Returns the sync_timestamp the relay assigned, or "" if there was
// nothing unsynced to send.
//
// A push that races a concurrent delete can come back with corrective
// operations (spec.md §4.3); those are applied through the engine
// immediately rather than left for ReceiveLive's broadcast to deliver,
// since this replica may not yet be subscribed to the live feed.
func (c *Coordinator) Push(ctx context.Context) (ir.Timestamp, error) {
	unsynced, err := c.unsyncedOwnOps(ctx)
	if err != nil {
		return "", fmt.Errorf("syncclient: read unsynced ops: %w", err)
	}
	if len(unsynced) == 0 {
		return "", nil
	}

	syncTS, corrective, err := c.transport.Push(ctx, unsynced)
	if err != nil {
		return "", fmt.Errorf("syncclient: push: %w", err)
	}

	stamps := make(map[ir.Timestamp]ir.Timestamp, len(unsynced))
	for _, op := range unsynced {
		stamps[op.Timestamp] = syncTS
	}
	if err := c.store.MarkSynced(ctx, stamps); err != nil {
		return "", fmt.Errorf("syncclient: mark synced: %w", err)
	}

	if len(corrective) > 0 {
		if err := c.engine.Apply(ctx, corrective); err != nil {
			return "", fmt.Errorf("syncclient: apply push correctives: %w", err)
		}
	}
	return syncTS, nil
}

func (c *Coordinator) unsyncedOwnOps(ctx context.Context) ([]ir.Operation, error) {
	all, err := c.store.ReadAllOperations(ctx)
	if err != nil {
		return nil, err
	}
	var own []ir.Operation
	for _, op := range all {
		if op.SyncTimestamp == "" && op.ClientID == c.clientID {
			own = append(own, op)
		}
	}
	return own, nil
}

// PullSince requests everything with sync_timestamp > cursor and feeds it
// to the CRDT Engine in chunks of pullChunk, advancing the local cursor as
// each chunk applies (spec.md §4.4 Pull-since-cursor).
func (c *Coordinator) PullSince(ctx context.Context, cursor ir.Timestamp) error {
	header, ops, err := c.transport.PullSince(ctx, cursor)
	if err != nil {
		return fmt.Errorf("syncclient: pull since %s: %w", cursor, err)
	}
	c.log.Info("pull since cursor", "lower", header.LowerLimit, "upper", header.UpperLimit, "count", len(ops))

	for start := 0; start < len(ops); start += c.pullChunk {
		end := min(start+c.pullChunk, len(ops))
		if err := c.engine.Apply(ctx, ops[start:end]); err != nil {
			return fmt.Errorf("syncclient: apply pull chunk: %w", err)
		}
	}
	return nil
}

// Hydrate requests the binary snapshot and writes rows verbatim into the
// local store (no replay through the engine - spec.md §4.4 Hydrate), then
// leaves the coordinator ready to transition to Live.
func (c *Coordinator) Hydrate(ctx context.Context) error {
	stream, err := c.transport.Hydrate(ctx)
	if err != nil {
		return fmt.Errorf("syncclient: open hydration stream: %w", err)
	}
	defer stream.Close()

	return ReadHydrationStream(ctx, stream, func(n ir.Node) error {
		return c.store.WriteParent(ctx, n.ID, n.ParentID)
	}, func(op ir.Operation) error {
		return c.store.WriteOperationRow(ctx, op)
	})
}

// ReceiveLive subscribes to the Relay's real-time broadcast and applies
// each pushed batch through the CRDT Engine as it arrives (spec.md §4.4
// Receive-live), until ctx is cancelled or the transport's channel closes.
func (c *Coordinator) ReceiveLive(ctx context.Context) error {
	msgs, err := c.transport.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("syncclient: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				c.Disconnect()
				return nil
			}
			if msg.Type != ir.TypePush || len(msg.Operations) == 0 {
				continue
			}
			if err := c.engine.Apply(ctx, msg.Operations); err != nil {
				return fmt.Errorf("syncclient: apply live batch: %w", err)
			}
		}
	}
}
