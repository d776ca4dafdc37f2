package relay

import (
	"sync"

	"github.com/thoughtspace/sync/internal/ir"
)

// roster tracks connected clients for one thoughtspace and lets the Relay
// broadcast wire messages to all of them, or all but one (the originator
// of a push, per spec.md §6).
type roster struct {
	mu      sync.Mutex
	clients map[ir.ClientID]chan ir.WireMessage
}

func newRoster() *roster {
	return &roster{clients: make(map[ir.ClientID]chan ir.WireMessage)}
}

// join registers a connection's outbound channel and returns the current
// roster so the new connection can render its initial peer list.
func (r *roster) join(id ir.ClientID, out chan ir.WireMessage) []ir.ClientID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = out
	return r.snapshotLocked()
}

// leave removes a connection from the roster. Safe to call more than once.
func (r *roster) leave(id ir.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

func (r *roster) snapshot() []ir.ClientID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *roster) snapshotLocked() []ir.ClientID {
	ids := make([]ir.ClientID, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// broadcast sends msg to every connected client except exclude (pass ""
// to exclude none). A connection whose outbound channel is full is
// skipped rather than blocking the broadcaster - a slow peer should not
// stall delivery to the rest of the roster.
func (r *roster) broadcast(msg ir.WireMessage, exclude ir.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, out := range r.clients {
		if id == exclude {
			continue
		}
		select {
		case out <- msg:
		default:
		}
	}
}
