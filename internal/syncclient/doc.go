// Package syncclient implements the per-replica Sync Coordinator: the
// state machine that manages connection lifecycle, pushes
// locally-originated operations to the Relay, pulls remote operations
// since a known cursor, performs bulk initial hydration, and applies
// real-time broadcasts from the Relay into the local CRDT Engine.
//
// The Coordinator is transport-agnostic: it talks to a Transport interface
// rather than a concrete websocket client, so tests can drive it against
// an in-memory fake and the production binary wires it to
// internal/relay's websocket client.
package syncclient
