package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_SimpleReparent(t *testing.T) {
	s := &Scenario{
		Name:        "golden_simple_reparent",
		Description: "C moves from A to B",
		Setup: []NodeSeed{
			{ID: "A", Parent: "ROOT"},
			{ID: "B", Parent: "ROOT"},
			{ID: "C", Parent: "A"},
		},
		Batches: [][]OperationSpec{
			{{Timestamp: "t1", Node: "C", OldParent: "A", NewParent: "B", Client: "c1"}},
		},
		Assertions: []Assertion{
			{Type: AssertParentEquals, Node: "C", Parent: "B"},
		},
	}

	require.NoError(t, RunWithGolden(t, s))
}
