package syncclient

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/thoughtspace/sync/internal/ir"
)

// ReadHydrationStream parses the binary framing written by
// relay.StreamSnapshot (spec.md §6): the fixed header, then rows until the
// end-of-stream sentinel, dispatching each row to onNode or onOp as it is
// decoded rather than buffering the whole stream in memory.
func ReadHydrationStream(ctx context.Context, r io.Reader, onNode func(ir.Node) error, onOp func(ir.Operation) error) error {
	br := bufio.NewReader(r)

	var header [ir.HydrationHeaderSize]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return fmt.Errorf("syncclient: read hydration header: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		kindByte, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("syncclient: read row kind: %w", err)
		}

		// The stream terminates with a bare int16(-1) in place of a row,
		// so its first byte (0xFF) never matches a real row kind ('n' or
		// 'o'); any non-row-kind byte here is that sentinel's high byte.
		var ncols int16
		if ir.RowKind(kindByte) != ir.RowKindNode && ir.RowKind(kindByte) != ir.RowKindOperation {
			second, err := br.ReadByte()
			if err != nil {
				return fmt.Errorf("syncclient: read end-of-stream sentinel: %w", err)
			}
			ncols = int16(kindByte)<<8 | int16(second)
			if ncols == ir.HydrationEndOfStream {
				return nil
			}
			return fmt.Errorf("syncclient: unrecognized row kind %q", kindByte)
		}

		if err := binary.Read(br, binary.BigEndian, &ncols); err != nil {
			return fmt.Errorf("syncclient: read column count: %w", err)
		}

		cols := make([]string, ncols)
		nulls := make([]bool, ncols)
		for i := 0; i < int(ncols); i++ {
			var length int32
			if err := binary.Read(br, binary.BigEndian, &length); err != nil {
				return fmt.Errorf("syncclient: read column length: %w", err)
			}
			if length == ir.NullColumn {
				nulls[i] = true
				continue
			}
			buf := make([]byte, length)
			if _, err := io.ReadFull(br, buf); err != nil {
				return fmt.Errorf("syncclient: read column value: %w", err)
			}
			cols[i] = string(buf)
		}

		switch ir.RowKind(kindByte) {
		case ir.RowKindNode:
			if err := onNode(ir.Node{ID: ir.NodeID(cols[0]), ParentID: ir.NodeID(cols[1])}); err != nil {
				return err
			}
		case ir.RowKindOperation:
			if err := onOp(operationFromColumns(cols)); err != nil {
				return err
			}
		}
	}
}

func operationFromColumns(cols []string) ir.Operation {
	return ir.Operation{
		Timestamp:         ir.Timestamp(cols[0]),
		NodeID:            ir.NodeID(cols[1]),
		OldParentID:       ir.NodeID(cols[2]),
		NewParentID:       ir.NodeID(cols[3]),
		ClientID:          ir.ClientID(cols[4]),
		SyncTimestamp:     ir.Timestamp(cols[5]),
		LastSyncTimestamp: ir.Timestamp(cols[6]),
	}
}
