package store

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/thoughtspace/sync/internal/ir"
)

// WritePayload upserts a node's content register row. Content is normalized
// to Unicode NFC before storage: replicas on different platforms (notably
// macOS's HFS+/APFS decomposing input methods versus NFC-composed input
// elsewhere) can produce byte-distinct strings for the same visible text,
// which would otherwise make last-write-wins comparisons and golden-file
// snapshots platform-dependent.
func (s *Store) WritePayload(ctx context.Context, p ir.Payload) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payloads (node_id, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		WHERE excluded.updated_at > payloads.updated_at
	`, string(p.NodeID), norm.NFC.String(p.Content), string(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadPayload returns a node's content register row. The bool result is
// false if the node has no payload on record.
func (s *Store) ReadPayload(ctx context.Context, id ir.NodeID) (ir.Payload, bool, error) {
	var content, updatedAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT content, updated_at FROM payloads WHERE node_id = ?`, string(id),
	).Scan(&content, &updatedAt)
	if err == sql.ErrNoRows {
		return ir.Payload{}, false, nil
	}
	if err != nil {
		return ir.Payload{}, false, fmt.Errorf("read payload: %w", err)
	}
	return ir.Payload{
		NodeID:    id,
		Content:   content.String,
		UpdatedAt: ir.Timestamp(updatedAt.String),
	}, true, nil
}
