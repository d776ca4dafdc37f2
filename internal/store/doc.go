// Package store provides SQLite-backed durable storage for a thoughtspace's
// operation log and its materialized node table.
//
// The store implements an append-only log (op_log) plus a read-optimized
// cache over it (nodes):
//   - op_log: every move operation ever appended, keyed by its own unique
//     timestamp, immutable once written except for the one-time stamping
//     of sync_timestamp by the relay.
//   - nodes: current parent of every known node, always reproducible from
//     op_log alone via RebuildNodes.
//   - payloads: opaque per-node content, last-write-wins.
//   - clients: last-seen bookkeeping for the relay's connection roster.
//
// # Invariants
//
//   - Idempotent append: re-appending an operation with a timestamp
//     already present in op_log is a silent no-op.
//   - Ascending, gapless reads: ReadRange and ReadAllOperations always
//     return rows in ascending order of the requested column with no
//     omissions between from and the returned upper bound.
//   - sync_timestamp, once assigned, is never reassigned.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - Single connection in the pool: this process is the sole writer
package store
