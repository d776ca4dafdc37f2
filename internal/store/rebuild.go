package store

import (
	"context"
	"fmt"

	"github.com/thoughtspace/sync/internal/ir"
)

// RebuildNodes truncates the materialized nodes table (preserving the
// reserved ROOT/TOMBSTONE rows) and re-folds op_log, in ascending
// timestamp order, back into it. This is the integrity-check and repair
// operation: nodes is always a cache over op_log, never a second source
// of truth, so it must always be reproducible from an empty state plus
// the log alone.
//
// Folding does not run the CRDT engine's undo/redo cycle-avoidance logic:
// it simply applies each operation's new_parent_id in timestamp order,
// which is exactly what the engine itself converges to once a batch has
// been fully applied (the undo/redo algorithm exists to make out-of-order
// arrival converge to this same fold, not to change what the fold means).
func (s *Store) RebuildNodes(ctx context.Context) error {
	ops, err := s.ReadAllOperations(ctx)
	if err != nil {
		return fmt.Errorf("rebuild nodes: read log: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rebuild nodes: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM nodes WHERE id NOT IN (?, ?)
	`, string(ir.RootID), string(ir.TombstoneID)); err != nil {
		return fmt.Errorf("rebuild nodes: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, parent_id) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET parent_id = excluded.parent_id
	`)
	if err != nil {
		return fmt.Errorf("rebuild nodes: prepare: %w", err)
	}
	defer stmt.Close()

	for _, op := range ops {
		if _, err := stmt.ExecContext(ctx, string(op.NodeID), nullableString(string(op.NewParentID))); err != nil {
			return fmt.Errorf("rebuild nodes: apply %s: %w", op.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rebuild nodes: commit: %w", err)
	}
	return nil
}

// VerifyIntegrity rebuilds the nodes table into a scratch copy in memory
// and reports whether it matches the current materialized table. A
// mismatch indicates nodes has drifted from op_log (e.g. a crash during a
// partially-applied batch) and RebuildNodes should be run.
func (s *Store) VerifyIntegrity(ctx context.Context) (bool, error) {
	ops, err := s.ReadAllOperations(ctx)
	if err != nil {
		return false, fmt.Errorf("verify integrity: read log: %w", err)
	}

	folded := map[ir.NodeID]ir.NodeID{
		ir.RootID:      "",
		ir.TombstoneID: "",
	}
	for _, op := range ops {
		folded[op.NodeID] = op.NewParentID
	}

	current, err := s.ReadAllNodes(ctx)
	if err != nil {
		return false, fmt.Errorf("verify integrity: read nodes: %w", err)
	}
	if len(current) != len(folded) {
		return false, nil
	}
	for _, n := range current {
		want, ok := folded[n.ID]
		if !ok || want != n.ParentID {
			return false, nil
		}
	}
	return true, nil
}
