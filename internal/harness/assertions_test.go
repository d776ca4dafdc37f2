package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtspace/sync/internal/store"
)

func newAssertionStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAssertParentEquals_Match(t *testing.T) {
	s := newAssertionStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteParent(ctx, "A", "ROOT"))

	err := assertParentEquals(ctx, s, Assertion{Node: "A", Parent: "ROOT"})
	assert.NoError(t, err)
}

func TestAssertParentEquals_Mismatch(t *testing.T) {
	s := newAssertionStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteParent(ctx, "A", "ROOT"))

	err := assertParentEquals(ctx, s, Assertion{Node: "A", Parent: "B"})
	assert.Error(t, err)
}

func TestAssertParentEquals_NodeNotFound(t *testing.T) {
	s := newAssertionStore(t)
	err := assertParentEquals(context.Background(), s, Assertion{Node: "ghost", Parent: "ROOT"})
	assert.Error(t, err)
}

func TestAssertFinalState_Match(t *testing.T) {
	s := newAssertionStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteParent(ctx, "A", "ROOT"))

	err := assertFinalState(ctx, s, Assertion{
		Table:  "nodes",
		Where:  map[string]interface{}{"id": "A"},
		Expect: map[string]interface{}{"parent_id": "ROOT"},
	})
	assert.NoError(t, err)
}

func TestAssertFinalState_RowNotFound(t *testing.T) {
	s := newAssertionStore(t)
	err := assertFinalState(context.Background(), s, Assertion{
		Table:  "nodes",
		Where:  map[string]interface{}{"id": "ghost"},
		Expect: map[string]interface{}{"parent_id": "ROOT"},
	})
	assert.Error(t, err)
}

func TestAssertFinalState_RejectsInvalidTableName(t *testing.T) {
	s := newAssertionStore(t)
	err := assertFinalState(context.Background(), s, Assertion{
		Table:  "nodes; DROP TABLE nodes;",
		Expect: map[string]interface{}{"parent_id": "ROOT"},
	})
	assert.Error(t, err)
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{{Type: "nonsense"}}, nil)
	assert.Len(t, errs, 1)
}

func TestEvaluateAssertions_AppliedAndSkippedCounts(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Node: "A", Skipped: false},
		{Node: "B", Skipped: true},
	}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertAppliedCount, Count: 1},
		{Type: AssertSkippedCount, Count: 1},
	}, nil)
	assert.Empty(t, errs)
}
