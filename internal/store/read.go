package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thoughtspace/sync/internal/ir"
)

// RangeOptions controls ReadRange's ordering column and upper bound.
type RangeOptions struct {
	// ByTimestamp selects ordering/filtering by the operation's own
	// timestamp (used by a replica reading its own unsynced tail).
	// ByTimestamp is the default (zero value) mode.
	ByTimestamp bool

	// BySyncTimestamp selects ordering/filtering by sync_timestamp (used
	// by pull-since-cursor). Rows with a NULL sync_timestamp are excluded.
	BySyncTimestamp bool

	// Upper, if non-empty, bounds the range inclusively.
	Upper ir.Timestamp

	// Limit, if positive, caps the number of rows returned.
	Limit int
}

// ReadRange returns operations with timestamp (or sync_timestamp, per
// opts) strictly greater than from, ascending, honoring opts.Upper and
// opts.Limit. Returns an empty slice, never nil, if nothing matches.
//
// The relay's pull-since-cursor handler uses BySyncTimestamp; a replica
// reading its own not-yet-pushed tail uses the default ByTimestamp mode.
func (s *Store) ReadRange(ctx context.Context, from ir.Timestamp, opts RangeOptions) ([]ir.Operation, error) {
	column := "timestamp"
	if opts.BySyncTimestamp {
		column = "sync_timestamp"
	}

	query := fmt.Sprintf(`
		SELECT timestamp, node_id, old_parent_id, new_parent_id, client_id, sync_timestamp, last_sync_timestamp
		FROM op_log
		WHERE %s > ?`, column)
	args := []any{string(from)}

	if opts.BySyncTimestamp {
		query += " AND sync_timestamp IS NOT NULL"
	}
	if opts.Upper != "" {
		query += fmt.Sprintf(" AND %s <= ?", column)
		args = append(args, string(opts.Upper))
	}
	query += fmt.Sprintf(" ORDER BY %s ASC", column)
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read range: %w", err)
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
		return nil, fmt.Errorf("iterate range: %w", err)
	}
	return ops, nil
}

// ReadAllOperations returns the entire log ordered ascending by timestamp.
// Used by RebuildNodes and by full hydration snapshots.
func (s *Store) ReadAllOperations(ctx context.Context) ([]ir.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, node_id, old_parent_id, new_parent_id, client_id, sync_timestamp, last_sync_timestamp
		FROM op_log
		ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read all operations: %w", err)
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
		return nil, fmt.Errorf("iterate all operations: %w", err)
	}
	return ops, nil
}

// ReadParent returns a node's current parent from the materialized table.
// The bool result is false if the node does not exist.
func (s *Store) ReadParent(ctx context.Context, id ir.NodeID) (ir.NodeID, bool, error) {
	var parent sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT parent_id FROM nodes WHERE id = ?`, string(id)).Scan(&parent)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read parent: %w", err)
	}
	return ir.NodeID(parent.String), true, nil
}

// ReadChildren returns the immediate children of id, in no particular
// order (sibling ordering is out of scope).
func (s *Store) ReadChildren(ctx context.Context, id ir.NodeID) ([]ir.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, parent_id FROM nodes WHERE parent_id = ?`, string(id))
	if err != nil {
		return nil, fmt.Errorf("read children: %w", err)
	}
	defer rows.Close()

	nodes := []ir.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return nodes, nil
}

// ReadSubtree returns every node reachable downward from root (root
// included), bounded to maxDepth levels (maxDepth <= 0 means unbounded).
// Implemented as an iterative BFS rather than a recursive CTE so maxDepth
// can be enforced without relying on SQLite's WITH RECURSIVE depth
// tracking.
func (s *Store) ReadSubtree(ctx context.Context, root ir.NodeID, maxDepth int) ([]ir.Node, error) {
	rootParent, ok, err := s.ReadParent(ctx, root)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []ir.Node{}, nil
	}

	result := []ir.Node{{ID: root, ParentID: rootParent}}
	frontier := []ir.NodeID{root}
	depth := 0
	for len(frontier) > 0 {
		if maxDepth > 0 && depth >= maxDepth {
			break
		}
		var next []ir.NodeID
		for _, id := range frontier {
			children, err := s.ReadChildren(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				result = append(result, c)
				next = append(next, c.ID)
			}
		}
		frontier = next
		depth++
	}
	return result, nil
}

// ReadAllNodes returns every row of the materialized table. Used for
// integrity checks and full snapshot hydration.
func (s *Store) ReadAllNodes(ctx context.Context) ([]ir.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, parent_id FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("read all nodes: %w", err)
	}
	defer rows.Close()

	nodes := []ir.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate all nodes: %w", err)
	}
	return nodes, nil
}

// LastSyncTimestamp returns the greatest sync_timestamp seen in the log,
// the empty Timestamp if nothing has been synced yet. Used by a replica
// as its pull cursor and by the relay to stamp LastSyncTimestamp on
// operations it originates.
func (s *Store) LastSyncTimestamp(ctx context.Context) (ir.Timestamp, error) {
	var ts sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sync_timestamp) FROM op_log`).Scan(&ts)
	if err != nil {
		return "", fmt.Errorf("last sync timestamp: %w", err)
	}
	return ir.Timestamp(ts.String), nil
}

func scanOperation(rows *sql.Rows) (ir.Operation, error) {
	var op ir.Operation
	var timestamp, nodeID, newParent, clientID string
	var oldParent, syncTS, lastSyncTS sql.NullString

	if err := rows.Scan(&timestamp, &nodeID, &oldParent, &newParent, &clientID, &syncTS, &lastSyncTS); err != nil {
		return ir.Operation{}, fmt.Errorf("scan operation: %w", err)
	}

	op.Timestamp = ir.Timestamp(timestamp)
	op.NodeID = ir.NodeID(nodeID)
	op.OldParentID = ir.NodeID(oldParent.String)
	op.NewParentID = ir.NodeID(newParent)
	op.ClientID = ir.ClientID(clientID)
	op.SyncTimestamp = ir.Timestamp(syncTS.String)
	op.LastSyncTimestamp = ir.Timestamp(lastSyncTS.String)
	return op, nil
}

func scanNode(rows *sql.Rows) (ir.Node, error) {
	var id string
	var parent sql.NullString
	if err := rows.Scan(&id, &parent); err != nil {
		return ir.Node{}, fmt.Errorf("scan node: %w", err)
	}
	return ir.Node{ID: ir.NodeID(id), ParentID: ir.NodeID(parent.String)}, nil
}
