package ids

import (
	"sync"

	"github.com/google/uuid"

	"github.com/thoughtspace/sync/internal/ir"
)

// Generator creates new node ids and client ids.
//
// Thread-safety: Generator is stateless and safe for concurrent use.
type Generator struct{}

// NewNodeID returns a fresh time-sortable UUIDv7-based node id.
func (Generator) NewNodeID() ir.NodeID {
	return ir.NodeID(uuid.Must(uuid.NewV7()).String())
}

// NewClientID returns a fresh UUIDv7-based client id.
func (Generator) NewClientID() ir.ClientID {
	return ir.ClientID(uuid.Must(uuid.NewV7()).String())
}

// Fixed returns predetermined ids for deterministic tests, mirroring the
// production Generator's interface.
//
// Thread-safety: Fixed is safe for concurrent use via an internal mutex.
type Fixed struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixed creates a generator that returns ids in order.
func NewFixed(ids ...string) *Fixed {
	return &Fixed{ids: ids}
}

// NewNodeID returns the next predetermined id as a NodeID.
//
// Panics if all ids have been consumed, to fail fast on test misconfiguration.
func (f *Fixed) NewNodeID() ir.NodeID {
	return ir.NodeID(f.next())
}

// NewClientID returns the next predetermined id as a ClientID.
func (f *Fixed) NewClientID() ir.ClientID {
	return ir.ClientID(f.next())
}

func (f *Fixed) next() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.ids) {
		panic("ids.Fixed: all ids exhausted")
	}
	id := f.ids[f.idx]
	f.idx++
	return id
}
