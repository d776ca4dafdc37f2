// Package relay implements the process-wide-per-thoughtspace authoritative
// node: it receives pushes, assigns server-observed sync timestamps, runs
// the CRDT Engine and the deletion/restore policy, persists, and serves
// historical queries (stream-since-cursor, snapshot hydration, subtree).
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/thoughtspace/sync/internal/engine"
	"github.com/thoughtspace/sync/internal/ids"
	"github.com/thoughtspace/sync/internal/ir"
	"github.com/thoughtspace/sync/internal/store"
)

// LimitPolicy controls what upper bound a pull-since-cursor stream snapshots
// at request start (spec.md §6 relay_upper_limit_policy).
type LimitPolicy string

const (
	// LimitPolicyNow snapshots the relay's current wall clock as the
	// stream's upper bound.
	LimitPolicyNow LimitPolicy = "now"

	// LimitPolicyFrozenAtStart snapshots the greatest sync_timestamp
	// already persisted when the stream begins, so concurrent pushes
	// during the stream are not included even though they commit before
	// it than the bound captured with LimitPolicyNow would exclude.
	LimitPolicyFrozenAtStart LimitPolicy = "frozen_at_start"
)

// Config configures one Relay instance (one thoughtspace).
type Config struct {
	MaxAncestorWalkDepth int
	HydrationRowBatch    int
	UpperLimitPolicy     LimitPolicy
}

// State is the Relay's own lifecycle, distinct from a Sync Coordinator's
// per-client state (spec.md §4.5): Booting while tables/indices are being
// ensured, Ready once serving, Error on an unrecoverable store failure.
type State int

const (
	Booting State = iota
	Ready
	ErrorState
)

// Relay is the authoritative node for one thoughtspace: it owns the
// canonical op_log and nodes tables and is the only writer to them.
// Mutations are serialized through writeMu (spec.md §5 single-writer
// region); reads run concurrently.
type Relay struct {
	cfg    Config
	store  *store.Store
	engine *engine.Engine
	clock  *ids.Clock
	roster *roster

	writeMu sync.Mutex
	stateMu sync.RWMutex
	state   State

	log *slog.Logger
}

// Open creates (or opens) the backing store at dbPath, ensures schema and
// indices, and transitions Booting -> Ready. Returns an Error-state Relay
// (not nil) if the store cannot be opened, so a caller can still inspect
// State() and log/close it explicitly.
func Open(ctx context.Context, dbPath string, cfg Config) (*Relay, error) {
	if cfg.MaxAncestorWalkDepth <= 0 {
		cfg.MaxAncestorWalkDepth = engine.DefaultMaxAncestorWalkDepth
	}
	if cfg.HydrationRowBatch <= 0 {
		cfg.HydrationRowBatch = 5000
	}
	if cfg.UpperLimitPolicy == "" {
		cfg.UpperLimitPolicy = LimitPolicyNow
	}

	r := &Relay{
		cfg:    cfg,
		roster: newRoster(),
		state:  Booting,
		log:    slog.Default(),
	}

	st, err := store.Open(dbPath)
	if err != nil {
		r.state = ErrorState
		return r, fmt.Errorf("relay: open store: %w", err)
	}
	r.store = st
	r.clock = ids.NewClock(ir.ServerClientID)
	r.engine = engine.New(st, r.clock, engine.WithMaxAncestorWalkDepth(cfg.MaxAncestorWalkDepth))

	r.state = Ready
	r.log.Info("relay ready", "db", dbPath)
	return r, nil
}

// Close flushes and closes the backing store. Safe to call on an
// Error-state Relay.
func (r *Relay) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// State reports the Relay's current lifecycle state.
func (r *Relay) State() State {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

func (r *Relay) setState(s State) {
	r.stateMu.Lock()
	r.state = s
	r.stateMu.Unlock()
}

// Store exposes the backing store for read-only handlers (subtree,
// stream-since-cursor) that don't need the write lock.
func (r *Relay) Store() *store.Store { return r.store }

// Join registers a new connection on the roster and returns the current
// peer list, for the joining connection's initial `connections` message.
func (r *Relay) Join(id ir.ClientID, out chan ir.WireMessage) []ir.ClientID {
	return r.roster.join(id, out)
}

// Leave removes a connection from the roster.
func (r *Relay) Leave(id ir.ClientID) {
	r.roster.leave(id)
	r.roster.broadcast(ir.WireMessage{Type: ir.TypeConnections, Clients: r.roster.snapshot()}, "")
}

// Roster returns the current connected client ids.
func (r *Relay) Roster() []ir.ClientID { return r.roster.snapshot() }

// HandlePush runs a client's pushed batch through the single-writer
// region: stamp sync_timestamp, apply via the CRDT Engine, evaluate the
// deletion/restore policy, persist, and broadcast. Returns the
// sync_timestamp the Relay assigned to the batch's latest operation and
// any corrective operations synthesized by the restore policy, so the
// caller can include them in the broadcast/response.
func (r *Relay) HandlePush(ctx context.Context, from ir.ClientID, ops []ir.Operation) (ir.Timestamp, []ir.Operation, error) {
	if len(ops) == 0 {
		return "", nil, nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	syncTS := r.clock.Next()
	for i := range ops {
		ops[i].SyncTimestamp = syncTS
		ops[i].ClientID = from
	}

	if err := r.engine.Apply(ctx, ops); err != nil {
		r.setState(ErrorState)
		return "", nil, newPushRejected("apply batch", err)
	}

	corrective, err := r.applyRestorePolicy(ctx, ops)
	if err != nil {
		r.setState(ErrorState)
		return "", nil, newPushRejected("deletion/restore policy", err)
	}

	if err := r.store.TouchClient(ctx, from, syncTS); err != nil {
		return "", nil, newPushRejected("touch client", err)
	}

	r.roster.broadcast(ir.WireMessage{Type: ir.TypePush, Operations: ops}, from)
	if len(corrective) > 0 {
		// Correctives are server-attributed, not an echo of from's own
		// push: from did not know about them either (that is precisely
		// why the restore policy fired), so they broadcast to every
		// connected peer, originator included, rather than excluding it.
		r.roster.broadcast(ir.WireMessage{Type: ir.TypePush, Operations: corrective}, "")
	}

	return syncTS, corrective, nil
}

// StreamSince returns operations with sync_timestamp strictly greater than
// cursor, bounded by the configured upper-limit policy, and the header
// describing the range (spec.md §6 sync:stream).
func (r *Relay) StreamSince(ctx context.Context, cursor ir.Timestamp) (ir.StreamHeader, []ir.Operation, error) {
	upper, err := r.upperLimit(ctx)
	if err != nil {
		return ir.StreamHeader{}, nil, err
	}

	ops, err := r.store.ReadRange(ctx, cursor, store.RangeOptions{BySyncTimestamp: true, Upper: upper})
	if err != nil {
		return ir.StreamHeader{}, nil, fmt.Errorf("relay: stream since: %w", err)
	}

	header := ir.StreamHeader{
		LowerLimit: cursor,
		UpperLimit: upper,
		Operations: len(ops),
	}
	return header, ops, nil
}

func (r *Relay) upperLimit(ctx context.Context) (ir.Timestamp, error) {
	switch r.cfg.UpperLimitPolicy {
	case LimitPolicyFrozenAtStart:
		return r.store.LastSyncTimestamp(ctx)
	default:
		return r.clock.Next(), nil
	}
}

// Subtree returns the nodes reachable downward from root, bounded to
// depth levels (spec.md §4.5 subtree query).
func (r *Relay) Subtree(ctx context.Context, root ir.NodeID, depth int) ([]ir.Node, error) {
	return r.store.ReadSubtree(ctx, root, depth)
}
