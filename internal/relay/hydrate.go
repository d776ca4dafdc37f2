package relay

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/thoughtspace/sync/internal/ir"
)

// StreamSnapshot writes a full binary hydration dump of nodes and op_log to
// w: the fixed header, then every node row, then every operation row, then
// the end-of-stream sentinel (spec.md §6). Rows are flushed in batches of
// cfg.HydrationRowBatch so a slow reader's backpressure is felt by this
// goroutine's writes rather than buffered unboundedly in memory.
func (r *Relay) StreamSnapshot(ctx context.Context, w io.Writer) error {
	bw := bufio.NewWriter(w)

	var header [ir.HydrationHeaderSize]byte
	copy(header[:11], []byte("TSHYDRATE01"))
	if _, err := bw.Write(header[:]); err != nil {
		return fmt.Errorf("relay: write hydration header: %w", err)
	}

	nodes, err := r.store.ReadAllNodes(ctx)
	if err != nil {
		return fmt.Errorf("relay: read nodes for hydration: %w", err)
	}
	for i, n := range nodes {
		nullMask := []string{"", ""}
		if n.ParentID == "" {
			nullMask[1] = "null"
		}
		if err := writeRow(bw, ir.RowKindNode, []string{string(n.ID), string(n.ParentID)}, nullMask); err != nil {
			return err
		}
		if i%r.cfg.HydrationRowBatch == 0 {
			if err := bw.Flush(); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	ops, err := r.store.ReadAllOperations(ctx)
	if err != nil {
		return fmt.Errorf("relay: read op_log for hydration: %w", err)
	}
	for i, op := range ops {
		cols := []string{
			string(op.Timestamp), string(op.NodeID), string(op.OldParentID), string(op.NewParentID),
			string(op.ClientID), string(op.SyncTimestamp), string(op.LastSyncTimestamp),
		}
		if err := writeRow(bw, ir.RowKindOperation, cols, nullMaskForOperation(op)); err != nil {
			return err
		}
		if i%r.cfg.HydrationRowBatch == 0 {
			if err := bw.Flush(); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, binary.BigEndian, int16(ir.HydrationEndOfStream)); err != nil {
		return fmt.Errorf("relay: write end of stream: %w", err)
	}
	return bw.Flush()
}

// nullMaskForOperation reports, per OperationColumns, which string values
// represent a SQL NULL (empty optional fields) rather than an empty string.
func nullMaskForOperation(op ir.Operation) []string {
	null := make([]string, len(ir.OperationColumns))
	if op.OldParentID == "" {
		null[2] = "null"
	}
	if op.SyncTimestamp == "" {
		null[5] = "null"
	}
	if op.LastSyncTimestamp == "" {
		null[6] = "null"
	}
	return null
}

// writeRow writes one discriminated row: a 1-byte kind, an int16 column
// count, then per column an int32 length (-1 for a column flagged null in
// nullMask) followed by its UTF-8 bytes.
func writeRow(w io.Writer, kind ir.RowKind, cols []string, nullMask []string) error {
	if _, err := w.Write([]byte{byte(kind)}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, int16(len(cols))); err != nil {
		return err
	}
	for i, c := range cols {
		if i < len(nullMask) && nullMask[i] == "null" {
			if err := binary.Write(w, binary.BigEndian, int32(ir.NullColumn)); err != nil {
				return err
			}
			continue
		}
		b := []byte(c)
		if err := binary.Write(w, binary.BigEndian, int32(len(b))); err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}
