package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thoughtspace/sync/internal/ids"
	"github.com/thoughtspace/sync/internal/ir"
	"github.com/thoughtspace/sync/internal/store"
)

// Engine applies batches of operations to a replica's store using the
// undo/redo move algorithm (spec.md §4.2). It is the single-writer for its
// store: Run serializes every Apply through one goroutine so overlapping
// batches never race on the materialized nodes table.
type Engine struct {
	store                *store.Store
	clock                *ids.Clock
	queue                *eventQueue
	maxAncestorWalkDepth int
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithMaxAncestorWalkDepth overrides the cycle detector's ancestor walk
// bound. Default is DefaultMaxAncestorWalkDepth.
func WithMaxAncestorWalkDepth(depth int) EngineOption {
	return func(e *Engine) {
		e.maxAncestorWalkDepth = depth
	}
}

// New creates an Engine backed by s, stamping locally-originated operations
// with clock.
func New(s *store.Store, clock *ids.Clock, opts ...EngineOption) *Engine {
	e := &Engine{
		store:                s,
		clock:                clock,
		queue:                newEventQueue(),
		maxAncestorWalkDepth: DefaultMaxAncestorWalkDepth,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Clock returns the engine's timestamp generator, used by callers to stamp
// locally-originated operations before Enqueue.
func (e *Engine) Clock() *ids.Clock {
	return e.clock
}

// Enqueue submits a batch for processing by the Run loop. Thread-safe.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(b Batch) bool {
	return e.queue.Enqueue(b)
}

// QueueLen returns the number of batches awaiting processing.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts the single-writer loop, applying batches as they are enqueued.
// Blocks until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		batch, ok := e.queue.TryDequeue()
		if ok {
			err := e.Apply(ctx, batch.Ops)
			if batch.done != nil {
				batch.done <- err
				close(batch.done)
			}
			if err != nil {
				slog.Error("apply failed", "error", err, "ops", len(batch.Ops))
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()
		case <-e.queue.Wait():
			if e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue, causing Run to return once drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Apply runs the CRDT move algorithm (spec.md §4.2) against ops in a single
// transaction:
//
//  1. Compute t_min = min(op.Timestamp for op in ops).
//  2. Append every op to the log (duplicates ignored).
//  3. Undo: for every node touched by a log entry at or after t_min, reset
//     its parent to the OldParentID of that node's earliest such entry.
//  4. Redo: replay every log entry at or after t_min in ascending timestamp
//     order, applying each move unless it would create a cycle in the
//     current materialized state - in which case it is silently skipped.
//
// Returns nil for an empty batch.
func (e *Engine) Apply(ctx context.Context, ops []ir.Operation) error {
	_, err := e.ApplyWithReport(ctx, ops)
	return err
}

// ApplyReport records which redo-phase entries were skipped for creating a
// cycle, in redo order. Used by callers that need to observe the
// algorithm's decisions - the conformance harness - without re-deriving
// them.
type ApplyReport struct {
	Skipped []ir.Operation
}

// ApplyWithReport behaves like Apply but also returns which redo-phase
// entries were skipped as cycle-inducing.
func (e *Engine) ApplyWithReport(ctx context.Context, ops []ir.Operation) (*ApplyReport, error) {
	report := &ApplyReport{}
	if len(ops) == 0 {
		return report, nil
	}

	tMin := ops[0].Timestamp
	for _, op := range ops[1:] {
		if op.Timestamp.Less(tMin) {
			tMin = op.Timestamp
		}
	}

	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.Append(ctx, ops); err != nil {
			return fmt.Errorf("apply: append: %w", err)
		}

		touched, err := tx.NodesTouchedSince(ctx, tMin)
		if err != nil {
			return fmt.Errorf("apply: %w", err)
		}

		for _, node := range touched {
			earliest, ok, err := tx.EarliestSince(ctx, node, tMin)
			if err != nil {
				return fmt.Errorf("apply: undo: %w", err)
			}
			if !ok {
				continue
			}
			if err := tx.WriteParent(ctx, node, earliest.OldParentID); err != nil {
				return fmt.Errorf("apply: undo: %w", err)
			}
		}

		replay, err := tx.ReadFrom(ctx, tMin)
		if err != nil {
			return fmt.Errorf("apply: redo: %w", err)
		}

		detector := &CycleDetector{lookup: txParentLookup(tx), MaxDepth: e.maxAncestorWalkDepth}

		for _, op := range replay {
			wouldCycle, err := detector.WouldCycle(ctx, op.NodeID, op.NewParentID)
			if err != nil {
				return fmt.Errorf("apply: redo: cycle check: %w", err)
			}
			if wouldCycle {
				slog.Debug("skipping cycle-inducing move",
					"node", op.NodeID,
					"new_parent", op.NewParentID,
					"timestamp", op.Timestamp,
				)
				report.Skipped = append(report.Skipped, op)
				continue
			}
			if err := tx.WriteParent(ctx, op.NodeID, op.NewParentID); err != nil {
				return fmt.Errorf("apply: redo: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// txParentLookup adapts a transaction's ReadParent to the ParentLookup
// signature the cycle detector uses, so the redo phase's cycle check
// observes the transaction's own in-progress writes rather than a stale
// pre-transaction snapshot.
func txParentLookup(tx *store.Tx) ParentLookup {
	return func(ctx context.Context, id ir.NodeID) (ir.NodeID, bool, error) {
		return tx.ReadParent(ctx, id)
	}
}
