package mesh

import (
	"github.com/robjsp/meshcast/pkg/ack"
	"github.com/robjsp/meshcast/pkg/meshid"
)

// Target is the local receive state tracked for one remote sender: the
// synchronization point established by that peer's syn, and a reorder
// buffer of messages that arrived ahead of the contiguous stream.
type Target struct {
	synced       bool
	lastExecuted meshid.SequenceNumber
	acks         ack.AckSet

	pending map[meshid.SequenceNumber]*PendingMessage
}

// NewTarget creates receive state for a remote sender not yet synced.
func NewTarget() *Target {
	return &Target{pending: make(map[meshid.SequenceNumber]*PendingMessage)}
}

// Synced reports whether a syn from this sender has been processed.
func (t *Target) Synced() bool {
	return t.synced
}

// initSync establishes the base sequence number carried by a syn: the next
// expected reliable broadcast is sn, so last_executed is seeded one below
// it, relying on SequenceNumber's wraparound arithmetic when sn is zero.
func (t *Target) initSync(sn meshid.SequenceNumber) {
	t.synced = true
	t.lastExecuted = sn - 1
	t.acks = ack.New(ack.Broadcast, sn-1)
}
