package store

import (
	"path/filepath"
	"testing"

	"github.com/thoughtspace/sync/internal/ir"
)

// createTestStore creates a new on-disk store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// op builds a minimal operation for test fixtures.
func op(ts, nodeID, oldParent, newParent, clientID string) ir.Operation {
	return ir.Operation{
		Timestamp:   ir.Timestamp(ts),
		NodeID:      ir.NodeID(nodeID),
		OldParentID: ir.NodeID(oldParent),
		NewParentID: ir.NodeID(newParent),
		ClientID:    ir.ClientID(clientID),
	}
}
