package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtspace/sync/internal/ir"
)

// Pre-state: ROOT -> {A -> {B}}. Client A deletes B without knowing of
// client B's concurrent move(D, B). The relay must restore B under A so
// D is not orphaned under TOMBSTONE (spec.md §8 scenario 5).
func TestApplyRestorePolicy_DeleteConcurrentWithAdd(t *testing.T) {
	r := openTestRelay(t)
	ctx := context.Background()

	_, _, err := r.HandlePush(ctx, "setup", []ir.Operation{
		{Timestamp: "s0", NodeID: "a", OldParentID: ir.RootID, NewParentID: ir.RootID, ClientID: "setup"},
		{Timestamp: "s1", NodeID: "b", OldParentID: ir.RootID, NewParentID: "a", ClientID: "setup"},
	})
	require.NoError(t, err)

	s0, err := r.Store().LastSyncTimestamp(ctx)
	require.NoError(t, err)

	// Client A deletes B, unaware of what's about to happen concurrently.
	_, correctiveFromDelete, err := r.HandlePush(ctx, "clientA", []ir.Operation{
		{Timestamp: "t1", NodeID: "b", OldParentID: "a", NewParentID: ir.TombstoneID, ClientID: "clientA", LastSyncTimestamp: s0},
	})
	require.NoError(t, err)
	assert.Empty(t, correctiveFromDelete, "no concurrent child move has been pushed yet")

	// Client B moves D under B, also unaware of the deletion.
	_, correctiveFromAdd, err := r.HandlePush(ctx, "clientB", []ir.Operation{
		{Timestamp: "t2", NodeID: "d", OldParentID: ir.RootID, NewParentID: "b", ClientID: "clientB", LastSyncTimestamp: s0},
	})
	require.NoError(t, err)
	require.Len(t, correctiveFromAdd, 1, "the relay should restore B under A")
	assert.Equal(t, ir.NodeID("b"), correctiveFromAdd[0].NodeID)
	assert.Equal(t, ir.NodeID("a"), correctiveFromAdd[0].NewParentID)
	assert.Equal(t, ir.ServerClientID, correctiveFromAdd[0].ClientID)

	bParent, ok, err := r.Store().ReadParent(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.NodeID("a"), bParent, "final live tree restores B under A")

	dParent, ok, err := r.Store().ReadParent(ctx, "d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.NodeID("b"), dParent, "D remains under B, no longer tombstoned")
}

// A delete that nobody raced against should not synthesize any corrective
// operation.
func TestApplyRestorePolicy_UncontestedDeleteStays(t *testing.T) {
	r := openTestRelay(t)
	ctx := context.Background()

	_, _, err := r.HandlePush(ctx, "setup", []ir.Operation{
		{Timestamp: "s0", NodeID: "a", OldParentID: ir.RootID, NewParentID: ir.RootID, ClientID: "setup"},
	})
	require.NoError(t, err)
	s0, err := r.Store().LastSyncTimestamp(ctx)
	require.NoError(t, err)

	_, corrective, err := r.HandlePush(ctx, "clientA", []ir.Operation{
		{Timestamp: "t1", NodeID: "a", OldParentID: ir.RootID, NewParentID: ir.TombstoneID, ClientID: "clientA", LastSyncTimestamp: s0},
	})
	require.NoError(t, err)
	assert.Empty(t, corrective)

	parent, ok, err := r.Store().ReadParent(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.TombstoneID, parent)
}

// A delete whose cutoff last_sync already reflects the child's insertion
// (the child predates the deleting client's last sync) is the ordinary,
// non-racing case: sending both to the tombstone together is correct and
// no restore is synthesized.
func TestApplyRestorePolicy_PriorKnownChildIsNotRestored(t *testing.T) {
	r := openTestRelay(t)
	ctx := context.Background()

	// The setup timestamps sort before the relay's clock-issued sync
	// timestamps, so they are older than the cutoff s2 read below.
	_, _, err := r.HandlePush(ctx, "setup", []ir.Operation{
		{Timestamp: "0-s0", NodeID: "a", OldParentID: ir.RootID, NewParentID: ir.RootID, ClientID: "setup"},
		{Timestamp: "0-s1", NodeID: "b", OldParentID: ir.RootID, NewParentID: "a", ClientID: "setup"},
		{Timestamp: "0-s2", NodeID: "d", OldParentID: ir.RootID, NewParentID: "b", ClientID: "setup"},
	})
	require.NoError(t, err)
	s2, err := r.Store().LastSyncTimestamp(ctx)
	require.NoError(t, err)

	// Client A's last sync already includes D under B, so deleting B is
	// deliberate and takes D down with it.
	_, corrective, err := r.HandlePush(ctx, "clientA", []ir.Operation{
		{Timestamp: "t1", NodeID: "b", OldParentID: "a", NewParentID: ir.TombstoneID, ClientID: "clientA", LastSyncTimestamp: s2},
	})
	require.NoError(t, err)
	assert.Empty(t, corrective, "the deleting client already knew about D, so no restore is synthesized")

	bParent, ok, err := r.Store().ReadParent(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.TombstoneID, bParent, "B is tombstoned")

	dParent, ok, err := r.Store().ReadParent(ctx, "d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.NodeID("b"), dParent, "D is tombstoned along with B, still under it")
}
