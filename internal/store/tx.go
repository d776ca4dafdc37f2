package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thoughtspace/sync/internal/ir"
)

// Tx is a transactional handle exposing the subset of Store operations the
// CRDT engine needs atomically: appending a batch, undoing and redoing
// materialized parents, all inside one commit. Obtained from WithTx.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a single transaction. fn's error (or a panic) rolls
// the transaction back; a nil return commits. This is the "transactional
// scope" spec.md §4.1 requires: log mutations and nodes updates observe
// all-or-nothing semantics.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("with tx: begin: %w", err)
	}

	t := &Tx{tx: sqlTx}

	if err := fn(t); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("with tx: commit: %w", err)
	}
	return nil
}

// Append inserts ops within the transaction, identical in semantics to
// Store.Append (idempotent on timestamp).
func (t *Tx) Append(ctx context.Context, ops []ir.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO op_log
		(timestamp, node_id, old_parent_id, new_parent_id, client_id, sync_timestamp, last_sync_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(timestamp) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("tx append: prepare: %w", err)
	}
	defer stmt.Close()

	for _, op := range ops {
		if _, err := stmt.ExecContext(ctx,
			string(op.Timestamp),
			string(op.NodeID),
			nullableString(string(op.OldParentID)),
			string(op.NewParentID),
			string(op.ClientID),
			nullableString(string(op.SyncTimestamp)),
			nullableString(string(op.LastSyncTimestamp)),
		); err != nil {
			return fmt.Errorf("tx append: insert %s: %w", op.Timestamp, err)
		}
	}
	return nil
}

// ReadParent returns id's current parent within the transaction's view.
func (t *Tx) ReadParent(ctx context.Context, id ir.NodeID) (ir.NodeID, bool, error) {
	var parent sql.NullString
	err := t.tx.QueryRowContext(ctx, `SELECT parent_id FROM nodes WHERE id = ?`, string(id)).Scan(&parent)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("tx read parent: %w", err)
	}
	return ir.NodeID(parent.String), true, nil
}

// WriteParent upserts id's parent within the transaction.
func (t *Tx) WriteParent(ctx context.Context, id, parent ir.NodeID) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO nodes (id, parent_id) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET parent_id = excluded.parent_id
	`, string(id), nullableString(string(parent)))
	if err != nil {
		return fmt.Errorf("tx write parent: %w", err)
	}
	return nil
}

// NodesTouchedSince returns the distinct node ids with at least one log
// entry at or after tmin, the set the undo phase must roll back.
func (t *Tx) NodesTouchedSince(ctx context.Context, tmin ir.Timestamp) ([]ir.NodeID, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT DISTINCT node_id FROM op_log WHERE timestamp >= ?
	`, string(tmin))
	if err != nil {
		return nil, fmt.Errorf("tx nodes touched since: %w", err)
	}
	defer rows.Close()

	var ids []ir.NodeID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("tx nodes touched since: scan: %w", err)
		}
		ids = append(ids, ir.NodeID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tx nodes touched since: iterate: %w", err)
	}
	return ids, nil
}

// EarliestSince returns the earliest (lowest-timestamp) log entry for node
// at or after tmin - the entry whose old_parent_id is the undo phase's
// rollback target for that node.
func (t *Tx) EarliestSince(ctx context.Context, node ir.NodeID, tmin ir.Timestamp) (ir.Operation, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT timestamp, node_id, old_parent_id, new_parent_id, client_id, sync_timestamp, last_sync_timestamp
		FROM op_log
		WHERE node_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC
		LIMIT 1
	`, string(node), string(tmin))

	var timestamp, nodeID, newParent, clientID string
	var oldParent, syncTS, lastSyncTS sql.NullString
	err := row.Scan(&timestamp, &nodeID, &oldParent, &newParent, &clientID, &syncTS, &lastSyncTS)
	if err == sql.ErrNoRows {
		return ir.Operation{}, false, nil
	}
	if err != nil {
		return ir.Operation{}, false, fmt.Errorf("tx earliest since: %w", err)
	}

	return ir.Operation{
		Timestamp:         ir.Timestamp(timestamp),
		NodeID:            ir.NodeID(nodeID),
		OldParentID:       ir.NodeID(oldParent.String),
		NewParentID:       ir.NodeID(newParent),
		ClientID:          ir.ClientID(clientID),
		SyncTimestamp:     ir.Timestamp(syncTS.String),
		LastSyncTimestamp: ir.Timestamp(lastSyncTS.String),
	}, true, nil
}

// ReadFrom returns every log entry with timestamp >= tmin, ascending -
// the redo phase's replay range.
func (t *Tx) ReadFrom(ctx context.Context, tmin ir.Timestamp) ([]ir.Operation, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT timestamp, node_id, old_parent_id, new_parent_id, client_id, sync_timestamp, last_sync_timestamp
		FROM op_log
		WHERE timestamp >= ?
		ORDER BY timestamp ASC
	`, string(tmin))
	if err != nil {
		return nil, fmt.Errorf("tx read from: %w", err)
	}
	defer rows.Close()

	ops := []ir.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tx read from: iterate: %w", err)
	}
	return ops, nil
}
