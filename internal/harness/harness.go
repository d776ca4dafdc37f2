// Package harness runs conformance scenarios against the real CRDT engine
// and store, the way spec.md §8's worked examples are stated: a starting
// tree, one or more batches of operations, and assertions on the resulting
// nodes table and operation trace.
//
// Unlike a harness that manufactures expected results directly, every
// scenario here drives an actual engine.Engine.Apply over an actual
// store.Store, so a scenario only passes if the algorithm produces the
// asserted state - not because the harness wrote the expectation itself.
package harness

import (
	"context"
	"fmt"

	"github.com/thoughtspace/sync/internal/engine"
	"github.com/thoughtspace/sync/internal/ids"
	"github.com/thoughtspace/sync/internal/ir"
	"github.com/thoughtspace/sync/internal/store"
)

// Run executes a scenario in a fresh in-memory database and returns its
// result, with assertions already evaluated.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	for _, seed := range scenario.Setup {
		if err := st.WriteParent(ctx, ir.NodeID(seed.ID), ir.NodeID(seed.Parent)); err != nil {
			return nil, fmt.Errorf("setup node %s: %w", seed.ID, err)
		}
	}

	eng := engine.New(st, ids.NewClock("harness"))

	result := NewResult()

	for bi, batch := range scenario.Batches {
		ops := make([]ir.Operation, len(batch))
		for i, spec := range batch {
			ops[i] = ir.Operation{
				Timestamp:   ir.Timestamp(spec.Timestamp),
				NodeID:      ir.NodeID(spec.Node),
				OldParentID: ir.NodeID(spec.OldParent),
				NewParentID: ir.NodeID(spec.NewParent),
				ClientID:    ir.ClientID(spec.Client),
			}
		}

		report, err := eng.ApplyWithReport(ctx, ops)
		if err != nil {
			return nil, fmt.Errorf("batch %d: apply: %w", bi, err)
		}

		skipped := make(map[ir.Timestamp]bool, len(report.Skipped))
		for _, s := range report.Skipped {
			skipped[s.Timestamp] = true
		}

		for _, op := range ops {
			result.Trace = append(result.Trace, TraceEvent{
				Timestamp: string(op.Timestamp),
				Node:      string(op.NodeID),
				OldParent: string(op.OldParentID),
				NewParent: string(op.NewParentID),
				Client:    string(op.ClientID),
				Skipped:   skipped[op.Timestamp],
			})
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}
