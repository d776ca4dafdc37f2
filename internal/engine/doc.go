// Package engine implements the CRDT move-tree apply algorithm: given a
// batch of incoming operations, insert them into the log, undo materialized
// state back to the earliest affected timestamp, and redo every entry from
// that point forward, skipping any move that would create a cycle.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// The engine applies all batches from a single goroutine (Run) so that two
// batches touching overlapping subtrees never race on the materialized
// nodes table. External callers submit work through Enqueue, which never
// blocks, and learn the outcome through Batch.Done().
//
// Apply is also callable directly (outside Run) for synchronous callers -
// the relay's push handler runs Apply inline, within its own single-writer
// mutex, rather than round-tripping through the queue.
//
// Determinism:
// Replaying the same set of operations, regardless of arrival order,
// produces the same materialized nodes table on every replica, because
// undo+redo is a pure function of (existing log ∪ batch) and the cycle
// check only observes parent pointers produced by that same deterministic
// replay.
package engine
