package testutil

import (
	"fmt"
	"sync"

	"github.com/thoughtspace/sync/internal/ir"
)

// DeterministicClock produces sortable ir.Timestamp values from a simple
// incrementing counter instead of wall-clock time, so the same test
// scenario produces byte-identical operation logs across runs.
//
// Unlike ids.Clock, DeterministicClock can be reset for test reuse.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu       sync.Mutex
	seq      int64
	clientID ir.ClientID
}

// NewDeterministicClock creates a clock starting at 0 for clientID.
// The first call to Next returns seq 1.
func NewDeterministicClock(clientID ir.ClientID) *DeterministicClock {
	return &DeterministicClock{clientID: clientID}
}

// Next increments and returns the next timestamp. Monotonic: always
// greater than every previously returned value from this clock.
func (c *DeterministicClock) Next() ir.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return ir.Timestamp(fmt.Sprintf("%020d.%s", c.seq, c.clientID))
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0. After Reset, the next call to Next returns
// seq 1 again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
