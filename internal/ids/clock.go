// Package ids generates node ids, client ids, and sortable operation
// timestamps.
package ids

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/thoughtspace/sync/internal/ir"
)

// Clock produces sortable ir.Timestamp values: a fixed-width, zero-padded
// wall-clock-plus-tiebreak encoding suffixed with the owning client id so
// that two clients writing in the same microsecond never collide and
// always sort deterministically by client id.
//
// Thread-safety: Clock is safe for concurrent use (atomic tiebreak
// counter). A replica's Sync Coordinator calls Next from its single
// writer goroutine; the relay calls Next from inside its push mutex, so
// contention is not expected in practice but correctness does not depend
// on that.
type Clock struct {
	clientID ir.ClientID
	tiebreak atomic.Int64
	now      func() time.Time // overridable for deterministic tests
}

// NewClock creates a Clock that stamps timestamps with clientID using the
// real wall clock.
func NewClock(clientID ir.ClientID) *Clock {
	return &Clock{clientID: clientID, now: time.Now}
}

// newClockWithNow is used by tests to pin the wall clock.
func newClockWithNow(clientID ir.ClientID, now func() time.Time) *Clock {
	return &Clock{clientID: clientID, now: now}
}

// Next returns the next timestamp for this client. Within one Clock, calls
// are strictly increasing even when now() does not advance between them.
func (c *Clock) Next() ir.Timestamp {
	now := c.now().UTC()
	tie := c.tiebreak.Add(1)
	// 20060102T150405.000000000 (UTC) is fixed-width and sorts identically
	// as a string and as an instant. The tiebreak counter is zero-padded
	// to 19 digits (max int64) so two timestamps from the same client at
	// the same instant still sort by call order.
	return ir.Timestamp(fmt.Sprintf("%s.%019d.%s", now.Format("20060102T150405.000000000"), tie, c.clientID))
}
