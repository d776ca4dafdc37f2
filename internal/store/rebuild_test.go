package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtspace/sync/internal/ir"
)

func TestRebuildNodes_FoldsLogInOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, []ir.Operation{
		op("t1", "n1", "", "ROOT", "c1"),
		op("t2", "n1", "ROOT", "TOMBSTONE", "c1"),
	}))

	require.NoError(t, s.RebuildNodes(ctx))

	parent, ok, err := s.ReadParent(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.NodeID("TOMBSTONE"), parent)
}

func TestRebuildNodes_PreservesReservedRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RebuildNodes(ctx))

	for _, id := range []ir.NodeID{ir.RootID, ir.TombstoneID} {
		_, ok, err := s.ReadParent(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok, "%s should survive rebuild", id)
	}
}

func TestVerifyIntegrity_TrueAfterRebuild(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, []ir.Operation{op("t1", "n1", "", "ROOT", "c1")}))
	require.NoError(t, s.RebuildNodes(ctx))

	ok, err := s.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyIntegrity_FalseWhenDrifted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, []ir.Operation{op("t1", "n1", "", "ROOT", "c1")}))
	require.NoError(t, s.RebuildNodes(ctx))
	// Drift nodes away from what the log says without touching op_log.
	require.NoError(t, s.WriteParent(ctx, "n1", "TOMBSTONE"))

	ok, err := s.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
