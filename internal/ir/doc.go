// Package ir provides the canonical intermediate representation types for
// thoughtspace-sync: nodes, move operations, and the wire messages exchanged
// between a replica and a relay.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps IR the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - JSON tags use snake_case, except the wire fields lastSyncTimestamp,
//     lowerLimit and upperLimit, which are lowerCamelCase.
//   - Timestamp is a sortable string, never a raw wall-clock int64: string
//     ordering on Timestamp equals chronological-then-tiebreak-then-client
//     ordering.
//   - NodeID, ClientID and Timestamp are distinct string types so a caller
//     cannot pass one where another is expected without an explicit cast.
package ir
