package syncclient

import (
	"context"
	"io"

	"github.com/thoughtspace/sync/internal/ir"
)

// Transport is the Coordinator's boundary to the Relay. The production
// implementation (internal/relay.WSClient) speaks the coder/websocket-framed
// protocol of spec.md §6; tests use an in-memory fake.
type Transport interface {
	// Push sends locally-originated operations and returns the
	// server-assigned sync_timestamp, plus any corrective operations the
	// relay's deletion/restore policy (spec.md §4.3) synthesized as a
	// direct result of this push. The relay also broadcasts correctives to
	// every connected peer including the pusher, but returning them here
	// too lets the caller apply them immediately rather than waiting on
	// its own live-subscribe loop to pick up the broadcast.
	Push(ctx context.Context, ops []ir.Operation) (ir.Timestamp, []ir.Operation, error)

	// PullSince requests the catch-up stream for cursor and returns the
	// header plus the operations in ascending sync_timestamp order.
	PullSince(ctx context.Context, cursor ir.Timestamp) (ir.StreamHeader, []ir.Operation, error)

	// Hydrate opens the dedicated binary hydration connection. The
	// returned ReadCloser yields the raw framed stream described in
	// spec.md §6; the caller must Close it to release server resources,
	// including on early cancellation.
	Hydrate(ctx context.Context) (io.ReadCloser, error)

	// Subscribe opens the real-time broadcast channel. The returned
	// channel is closed when the transport disconnects; the caller should
	// treat that as a transition to Disconnected.
	Subscribe(ctx context.Context) (<-chan ir.WireMessage, error)

	// Close releases any connection resources.
	Close() error
}
