package ir

// NodeID identifies a node in a thoughtspace tree.
type NodeID string

// Reserved node ids present in every thoughtspace from creation.
const (
	// RootID is the single permanent root of the tree. It has no parent.
	RootID NodeID = "ROOT"

	// TombstoneID is the permanent home for deleted nodes. Moving a node
	// under TombstoneID is how deletion is represented; it has no parent.
	TombstoneID NodeID = "TOMBSTONE"
)

// ClientID identifies the replica (or the relay itself) that authored an
// operation.
type ClientID string

// ServerClientID marks operations synthesized by the relay's deletion and
// restore policy rather than received from a replica.
const ServerClientID ClientID = "server"

// Node is a row of the materialized tree: an id and its current parent.
// ParentID is empty only for ROOT and TOMBSTONE.
type Node struct {
	ID       NodeID `json:"id"`
	ParentID NodeID `json:"parent_id,omitempty"`
}

// Operation is a single move in the log: "node_id moved from old_parent_id
// to new_parent_id, authored by client_id at timestamp". Creating a node is
// a move with an empty OldParentID. Deleting a node is a move whose
// NewParentID is TombstoneID.
//
// SyncTimestamp is empty until the relay persists the operation; it then
// holds the timestamp the relay assigned at that moment. LastSyncTimestamp
// records the highest SyncTimestamp the authoring client had observed when
// it issued the operation, used by the relay's deletion/restore policy to
// detect operations that raced a since-arrived descendant insertion.
type Operation struct {
	Timestamp         Timestamp `json:"timestamp"`
	NodeID            NodeID    `json:"node_id"`
	OldParentID       NodeID    `json:"old_parent_id,omitempty"`
	NewParentID       NodeID    `json:"new_parent_id"`
	ClientID          ClientID  `json:"client_id"`
	SyncTimestamp     Timestamp `json:"sync_timestamp,omitempty"`
	LastSyncTimestamp Timestamp `json:"last_sync_timestamp,omitempty"`
}

// Creates reports whether this operation introduces NodeID for the first
// time (an empty OldParentID).
func (o Operation) Creates() bool {
	return o.OldParentID == ""
}

// Deletes reports whether this operation moves NodeID to the tombstone.
func (o Operation) Deletes() bool {
	return o.NewParentID == TombstoneID
}

// Payload is a node's opaque content register row, outside the CRDT core:
// last write wins, keyed by node id. The tree engine never reads this; it
// exists so a replica's local store can hold content alongside structure.
type Payload struct {
	NodeID    NodeID    `json:"node_id"`
	Content   string    `json:"content"`
	UpdatedAt Timestamp `json:"updated_at"`
}
