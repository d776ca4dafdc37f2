package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thoughtspace/sync/internal/ir"
)

// Append inserts operations into the log. Uses ON CONFLICT(timestamp) DO
// NOTHING for idempotency: re-appending an operation already present
// (a retried push, a duplicate delivery from the relay) is a silent no-op.
// Operations are appended in the order given, each in its own statement
// inside one transaction, so a partial failure never leaves the log with
// a gap followed by a later timestamp.
func (s *Store) Append(ctx context.Context, ops []ir.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO op_log
		(timestamp, node_id, old_parent_id, new_parent_id, client_id, sync_timestamp, last_sync_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(timestamp) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append: prepare: %w", err)
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
			return fmt.Errorf("append: insert %s: %w", op.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append: commit: %w", err)
	}
	return nil
}

// MarkSynced stamps sync_timestamp on a batch of previously appended
// operations, keyed by their own timestamp. Operations that already carry
// a sync_timestamp are left untouched: a sync_timestamp, once assigned, is
// permanent (spec invariant on sync_timestamp immutability).
func (s *Store) MarkSynced(ctx context.Context, stamps map[ir.Timestamp]ir.Timestamp) error {
	if len(stamps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark synced: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE op_log SET sync_timestamp = ?
		WHERE timestamp = ? AND sync_timestamp IS NULL
	`)
	if err != nil {
		return fmt.Errorf("mark synced: prepare: %w", err)
	}
	defer stmt.Close()

	for ts, syncTS := range stamps {
		if _, err := stmt.ExecContext(ctx, string(syncTS), string(ts)); err != nil {
			return fmt.Errorf("mark synced: update %s: %w", ts, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark synced: commit: %w", err)
	}
	return nil
}

// WriteParent upserts a node's current parent in the materialized table.
// Used by the CRDT engine's apply phase and by hydration (which writes
// rows directly, without replaying through the engine).
func (s *Store) WriteParent(ctx context.Context, id, parent ir.NodeID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, parent_id) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET parent_id = excluded.parent_id
	`, string(id), nullableString(string(parent)))
	if err != nil {
		return fmt.Errorf("write parent: %w", err)
	}
	return nil
}

// WriteOperationRow inserts a single op_log row verbatim, including its
// sync_timestamp if already assigned. Used by hydration, which receives
// rows the relay already stamped and must not re-derive anything.
func (s *Store) WriteOperationRow(ctx context.Context, op ir.Operation) error {
	return s.Append(ctx, []ir.Operation{op})
}

// TouchClient records that clientID authored an operation at seenAt,
// upserting the clients roster row used by the relay's connection
// tracking.
func (s *Store) TouchClient(ctx context.Context, clientID ir.ClientID, seenAt ir.Timestamp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, last_seen) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET last_seen = excluded.last_seen
	`, string(clientID), string(seenAt))
	if err != nil {
		return fmt.Errorf("touch client: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return sql.NullString{}
	}
	return s
}
