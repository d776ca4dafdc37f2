package engine

import (
	"context"
	"fmt"

	"github.com/thoughtspace/sync/internal/ir"
)

// ParentLookup resolves a node's current parent against whatever state the
// caller wants the walk to see (the materialized nodes table mid-transaction,
// typically). ok is false if id has no known parent (including ROOT/TOMBSTONE).
type ParentLookup func(ctx context.Context, id ir.NodeID) (parent ir.NodeID, ok bool, err error)

// CycleDetector checks whether moving a node under a candidate new parent
// would create a cycle: would walking up from the candidate parent's
// ancestor chain ever reach the node being moved. This is fully determined
// by the current materialized state, so the detector itself holds no
// history between calls - unlike a firing-history detector, it is
// stateless and safe to share across concurrent batches.
//
// The walk is bounded to MaxDepth to keep a pathological or corrupted
// parent chain from looping forever; hitting the bound is treated the
// same as detecting a cycle (skip the move rather than risk never
// terminating).
type CycleDetector struct {
	lookup   ParentLookup
	MaxDepth int
}

// DefaultMaxAncestorWalkDepth is the walk bound used when no override is
// configured (spec.md §6 max_ancestor_walk_depth default).
const DefaultMaxAncestorWalkDepth = 100

// NewCycleDetector creates a detector that walks ancestors via lookup, up
// to DefaultMaxAncestorWalkDepth steps.
func NewCycleDetector(lookup ParentLookup) *CycleDetector {
	return &CycleDetector{lookup: lookup, MaxDepth: DefaultMaxAncestorWalkDepth}
}

// WouldCycle reports whether moving node under newParent would create a
// cycle: true if node appears anywhere in newParent's ancestor chain (or
// if node == newParent), or if the walk exceeds MaxDepth without reaching
// ROOT.
func (c *CycleDetector) WouldCycle(ctx context.Context, node, newParent ir.NodeID) (bool, error) {
	if node == newParent {
		return true, nil
	}

	current := newParent
	for depth := 0; depth < c.MaxDepth; depth++ {
		if current == ir.RootID || current == ir.TombstoneID || current == "" {
			return false, nil
		}
		if current == node {
			return true, nil
		}
		parent, ok, err := c.lookup(ctx, current)
		if err != nil {
			return false, fmt.Errorf("cycle check: resolve parent of %s: %w", current, err)
		}
		if !ok {
			return false, nil
		}
		current = parent
	}
	// Depth exhausted without reaching ROOT/TOMBSTONE: treat as a cycle
	// so the caller skips the move rather than trusting an unbounded chain.
	return true, nil
}
