package syncclient

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtspace/sync/internal/engine"
	"github.com/thoughtspace/sync/internal/ids"
	"github.com/thoughtspace/sync/internal/ir"
	"github.com/thoughtspace/sync/internal/store"
)

func newTestCoordinator(t *testing.T, clientID ir.ClientID, transport Transport) (*Coordinator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng := engine.New(st, ids.NewClock(clientID))
	coord := New(Options{Store: st, Engine: eng, Transport: transport, ClientID: clientID})
	return coord, st
}

// writeHydrationStream hand-builds the binary framing described in
// spec.md §6, independent of relay.StreamSnapshot, so these tests exercise
// ReadHydrationStream's parsing against a minimal byte-level fixture.
func writeHydrationStream(t *testing.T, nodes []ir.Node, ops []ir.Operation) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(make([]byte, ir.HydrationHeaderSize))

	writeRow := func(kind ir.RowKind, cols []string, nulls []bool) {
		buf.WriteByte(byte(kind))
		require.NoError(t, binary.Write(&buf, binary.BigEndian, int16(len(cols))))
		for i, c := range cols {
			if i < len(nulls) && nulls[i] {
				require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(ir.NullColumn)))
				continue
			}
			b := []byte(c)
			require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(len(b))))
			buf.Write(b)
		}
	}

	for _, n := range nodes {
		nulls := []bool{false, n.ParentID == ""}
		writeRow(ir.RowKindNode, []string{string(n.ID), string(n.ParentID)}, nulls)
	}
	for _, op := range ops {
		cols := []string{
			string(op.Timestamp), string(op.NodeID), string(op.OldParentID), string(op.NewParentID),
			string(op.ClientID), string(op.SyncTimestamp), string(op.LastSyncTimestamp),
		}
		nulls := []bool{false, false, op.OldParentID == "", false, false, op.SyncTimestamp == "", op.LastSyncTimestamp == ""}
		writeRow(ir.RowKindOperation, cols, nulls)
	}

	require.NoError(t, binary.Write(&buf, binary.BigEndian, int16(ir.HydrationEndOfStream)))
	return buf.Bytes()
}

func TestCoordinator_ConnectHydratesWhenNoCursor(t *testing.T) {
	transport := newFakeTransport()
	transport.pushSyncTS = "sync-1"
	body := writeHydrationStream(t,
		[]ir.Node{{ID: ir.RootID}, {ID: ir.TombstoneID}, {ID: "a", ParentID: ir.RootID}},
		[]ir.Operation{{Timestamp: "t1", NodeID: "a", OldParentID: ir.RootID, NewParentID: ir.RootID, ClientID: "seed", SyncTimestamp: "sync-0"}},
	)
	transport.hydrateBody = io.NopCloser(bytes.NewReader(body))

	coord, st := newTestCoordinator(t, "replica1", transport)
	require.NoError(t, coord.Connect(context.Background()))

	assert.Equal(t, Live, coord.State())

	parent, ok, err := st.ReadParent(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.RootID, parent)
}

func TestCoordinator_ConnectCatchesUpWhenCursorExists(t *testing.T) {
	transport := newFakeTransport()
	coord, st := newTestCoordinator(t, "replica1", transport)
	ctx := context.Background()

	// Seed a prior synced op so a cursor already exists.
	require.NoError(t, st.WriteOperationRow(ctx, ir.Operation{
		Timestamp: "t0", NodeID: "seed", OldParentID: ir.RootID, NewParentID: ir.RootID,
		ClientID: "other", SyncTimestamp: "sync-0",
	}))
	require.NoError(t, st.WriteParent(ctx, "seed", ir.RootID))

	transport.pullHeader = ir.StreamHeader{LowerLimit: "sync-0", UpperLimit: "sync-5"}
	transport.pullOps = []ir.Operation{
		{Timestamp: "t1", NodeID: "b", OldParentID: ir.RootID, NewParentID: ir.RootID, ClientID: "other", SyncTimestamp: "sync-1"},
	}

	require.NoError(t, coord.Connect(ctx))
	assert.Equal(t, Live, coord.State())

	parent, ok, err := st.ReadParent(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.RootID, parent)
}

func TestCoordinator_ConnectTransitionsToErrorOnHydrateFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.hydrateErr = errFakeTransport
	coord, _ := newTestCoordinator(t, "replica1", transport)

	err := coord.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrorState, coord.State())
}

func TestCoordinator_PushSendsOnlyUnsyncedOwnOps(t *testing.T) {
	transport := newFakeTransport()
	transport.pushSyncTS = "sync-9"
	coord, st := newTestCoordinator(t, "replica1", transport)
	ctx := context.Background()

	require.NoError(t, st.WriteOperationRow(ctx, ir.Operation{
		Timestamp: "t1", NodeID: "a", OldParentID: ir.RootID, NewParentID: ir.RootID, ClientID: "replica1",
	}))
	require.NoError(t, st.WriteOperationRow(ctx, ir.Operation{
		Timestamp: "t2", NodeID: "b", OldParentID: ir.RootID, NewParentID: ir.RootID, ClientID: "other", SyncTimestamp: "sync-0",
	}))

	syncTS, err := coord.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.Timestamp("sync-9"), syncTS)

	require.Len(t, transport.pushedBatch, 1)
	assert.Equal(t, ir.NodeID("a"), transport.pushedBatch[0].NodeID)

	all, err := st.ReadAllOperations(ctx)
	require.NoError(t, err)
	for _, op := range all {
		if op.NodeID == "a" {
			assert.Equal(t, ir.Timestamp("sync-9"), op.SyncTimestamp, "pushed op should be marked synced")
		}
	}
}

func TestCoordinator_PushIsNoopWhenNothingUnsynced(t *testing.T) {
	transport := newFakeTransport()
	coord, _ := newTestCoordinator(t, "replica1", transport)

	syncTS, err := coord.Push(context.Background())
	require.NoError(t, err)
	assert.Empty(t, syncTS)
	assert.Nil(t, transport.pushedBatch)
}

func TestCoordinator_PushAppliesCorrectiveOperationsLocally(t *testing.T) {
	transport := newFakeTransport()
	transport.pushSyncTS = "sync-9"
	transport.pushCorrective = []ir.Operation{
		{Timestamp: "s1", NodeID: "d", OldParentID: ir.TombstoneID, NewParentID: "b", ClientID: ir.ServerClientID, SyncTimestamp: "sync-9"},
	}
	coord, st := newTestCoordinator(t, "replica1", transport)
	ctx := context.Background()

	require.NoError(t, st.WriteParent(ctx, "b", ir.RootID))
	require.NoError(t, st.WriteParent(ctx, "d", ir.TombstoneID))
	require.NoError(t, st.WriteOperationRow(ctx, ir.Operation{
		Timestamp: "t1", NodeID: "a", OldParentID: ir.RootID, NewParentID: ir.RootID, ClientID: "replica1",
	}))

	_, err := coord.Push(ctx)
	require.NoError(t, err)

	parent, ok, err := st.ReadParent(ctx, "d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.NodeID("b"), parent, "corrective op returned in the push reply is applied locally")
}

func TestCoordinator_ReceiveLiveAppliesPushBatches(t *testing.T) {
	transport := newFakeTransport()
	coord, st := newTestCoordinator(t, "replica1", transport)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- coord.ReceiveLive(ctx) }()

	transport.live <- ir.WireMessage{Type: ir.TypePush, Operations: []ir.Operation{
		{Timestamp: "t1", NodeID: "a", OldParentID: ir.RootID, NewParentID: ir.RootID, ClientID: "other", SyncTimestamp: "sync-1"},
	}}

	require.Eventually(t, func() bool {
		_, ok, err := st.ReadParent(ctx, "a")
		return err == nil && ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestCoordinator_ReceiveLiveDisconnectsOnChannelClose(t *testing.T) {
	transport := newFakeTransport()
	coord, _ := newTestCoordinator(t, "replica1", transport)
	ctx := context.Background()

	close(transport.live)

	err := coord.ReceiveLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, Disconnected, coord.State())
}
