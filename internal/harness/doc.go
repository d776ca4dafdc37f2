// Package harness runs the CRDT engine's conformance scenarios: a starting
// tree, one or more batches of move operations, and assertions on the
// resulting nodes table and operation trace.
//
// # Scenario Format
//
//	name: simple_reparent
//	description: "C moves from A to B"
//	setup:
//	  - id: A
//	    parent: ROOT
//	  - id: B
//	    parent: ROOT
//	  - id: C
//	    parent: A
//	batches:
//	  - - timestamp: t1
//	      node: C
//	      old_parent: A
//	      new_parent: B
//	      client: c1
//	assertions:
//	  - type: parent_equals
//	    node: C
//	    parent: B
//
// # Assertion Types
//
//   - parent_equals: the node's final materialized parent
//   - final_state: queries a table (nodes, op_log, clients) and checks a
//     subset of fields on the matching row
//   - applied_count / skipped_count: how many of the scenario's operations
//     were applied versus skipped as cycle-inducing
//
// # Determinism
//
// Every scenario runs against a fresh in-memory store, and every batch is
// applied through the real engine.Engine, so results reflect the actual
// algorithm rather than a manufactured expectation.
package harness
