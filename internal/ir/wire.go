package ir

// Wire messages exchanged between a replica's Sync Coordinator and the
// Relay over a single websocket connection, a discriminated union keyed
// by Type. Hydration runs on a second, dedicated connection using the raw
// binary row framing below instead of these JSON messages.

// MessageType is the discriminator for WireMessage.
type MessageType string

const (
	TypeStatus      MessageType = "status"
	TypeConnections MessageType = "connections"
	TypePing        MessageType = "ping"
	TypePush        MessageType = "push"
	TypeSyncStream  MessageType = "sync:stream"
	TypeSubtree     MessageType = "subtree"
)

// RoomStatus is the Relay's lifecycle state as broadcast to peers.
type RoomStatus string

const (
	StatusBooting RoomStatus = "booting"
	StatusReady   RoomStatus = "ready"
	StatusError   RoomStatus = "error"
)

// WireMessage is the envelope for every message on the push/pull/roster
// connection. Only the fields relevant to Type are populated; the rest are
// left zero. Callers should switch on Type rather than infer from which
// fields are set.
type WireMessage struct {
	Type MessageType `json:"type"`

	// status
	Status RoomStatus `json:"status,omitempty"`

	// connections
	Clients []ClientID `json:"clients,omitempty"`

	// push (request) / broadcast
	Operations []Operation `json:"operations,omitempty"`

	// push (response)
	SyncTimestamp Timestamp `json:"sync_timestamp,omitempty"`

	// sync:stream (request)
	LastSyncTimestamp Timestamp `json:"lastSyncTimestamp,omitempty"`

	// sync:stream (response, carried as a single framed message over the
	// websocket transport rather than spec.md §6's raw NDJSON, which was
	// specified for a plain HTTP streaming response)
	Header *StreamHeader `json:"header,omitempty"`

	// subtree (request)
	ID    NodeID `json:"id,omitempty"`
	Depth int    `json:"depth,omitempty"`

	// subtree (response)
	Nodes []Node `json:"nodes,omitempty"`
}

// StreamHeader is the first NDJSON line of a sync:stream response; every
// subsequent line is a single JSON Operation.
type StreamHeader struct {
	LowerLimit Timestamp `json:"lowerLimit"`
	UpperLimit Timestamp `json:"upperLimit"`
	Nodes      int       `json:"nodes"`
	Operations int       `json:"operations"`
}

// SubtreeReply is the response body to a subtree request: the reachable
// nodes, root first.
type SubtreeReply struct {
	Nodes []Node `json:"nodes"`
}

// Hydration binary row framing (spec.md §6): an 11+4+4 byte header
// (protocol tag, format version, row count placeholder reserved by the
// transport), then repeated rows of a 1-byte discriminator, an int16
// column count, and per column an int32 length (-1 = null) followed by
// that many bytes of UTF-8. The stream ends with an int16 -1 in place of
// a row's column count.

// RowKind discriminates hydration row payloads.
type RowKind byte

const (
	RowKindNode      RowKind = 'n'
	RowKindOperation RowKind = 'o'
)

// HydrationHeaderSize is the fixed preamble every hydration stream opens
// with, before any rows: a magic tag, then two reserved counters.
const HydrationHeaderSize = 11 + 4 + 4

// HydrationEndOfStream is the int16 sentinel column count that terminates
// a hydration stream in place of a row.
const HydrationEndOfStream = -1

// NullColumn is the int32 length sentinel marking a null column value.
const NullColumn = -1

// NodeColumns is the column order hydration writes for a RowKindNode row:
// id, parent_id.
var NodeColumns = []string{"id", "parent_id"}

// OperationColumns is the column order hydration writes for a
// RowKindOperation row, matching op_log's schema.
var OperationColumns = []string{
	"timestamp", "node_id", "old_parent_id", "new_parent_id",
	"client_id", "sync_timestamp", "last_sync_timestamp",
}
