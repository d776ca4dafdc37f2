package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtspace/sync/internal/ir"
)

func mapLookup(tree map[ir.NodeID]ir.NodeID) ParentLookup {
	return func(_ context.Context, id ir.NodeID) (ir.NodeID, bool, error) {
		parent, ok := tree[id]
		return parent, ok, nil
	}
}

func TestCycleDetector_NoCycleForFreshMove(t *testing.T) {
	tree := map[ir.NodeID]ir.NodeID{
		"a": ir.RootID,
		"b": "a",
	}
	d := NewCycleDetector(mapLookup(tree))

	would, err := d.WouldCycle(context.Background(), "c", "b")
	require.NoError(t, err)
	assert.False(t, would)
}

func TestCycleDetector_SelfMoveIsCycle(t *testing.T) {
	d := NewCycleDetector(mapLookup(nil))
	would, err := d.WouldCycle(context.Background(), "a", "a")
	require.NoError(t, err)
	assert.True(t, would)
}

func TestCycleDetector_MovingUnderDescendantIsCycle(t *testing.T) {
	tree := map[ir.NodeID]ir.NodeID{
		"a": ir.RootID,
		"b": "a",
		"c": "b",
	}
	d := NewCycleDetector(mapLookup(tree))

	would, err := d.WouldCycle(context.Background(), "a", "c")
	require.NoError(t, err)
	assert.True(t, would)
}

func TestCycleDetector_MovingUnderUnrelatedIsFine(t *testing.T) {
	tree := map[ir.NodeID]ir.NodeID{
		"a": ir.RootID,
		"b": ir.RootID,
	}
	d := NewCycleDetector(mapLookup(tree))

	would, err := d.WouldCycle(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.False(t, would)
}

func TestCycleDetector_BoundedDepthTreatedAsCycle(t *testing.T) {
	tree := map[ir.NodeID]ir.NodeID{}
	prev := ir.NodeID("n0")
	for i := 1; i <= 5; i++ {
		id := ir.NodeID(fmt.Sprintf("n%d", i))
		tree[id] = prev
		prev = id
	}
	d := NewCycleDetector(mapLookup(tree))
	d.MaxDepth = 3

	would, err := d.WouldCycle(context.Background(), "unrelated", prev)
	require.NoError(t, err)
	assert.True(t, would, "exceeding MaxDepth without reaching ROOT should be treated as a cycle")
}
