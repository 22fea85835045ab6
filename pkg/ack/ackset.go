// Package ack implements the windowed acknowledgement bitmap (AckSet) and
// the outbound aggregator (OutboundAcks) that piggybacks acks onto outgoing
// frames.
package ack

import (
	"fmt"

	"github.com/robjsp/meshcast/pkg/meshid"
)

// WindowSize is the number of preceding slots an AckSet remembers below its
// high-water mark.
const WindowSize = 32

// Type tags whether an AckSet tracks reliable broadcast acks or the
// per-link syn/unicast ack, since the two share no sequence space.
type Type uint8

const (
	Broadcast Type = iota
	Unicast
)

func (t Type) String() string {
	if t == Unicast {
		return "unicast"
	}
	return "broadcast"
}

// AckSet is a compact sliding window over acknowledged sequence numbers:
// a high-water mark hi (always considered acked) plus a bitmask of up to
// WindowSize preceding slots. The zero value is not meaningful; always
// construct through New.
type AckSet struct {
	typ  Type
	hi   meshid.SequenceNumber
	mask uint32
}

// New creates an AckSet seeded with hi=seedSn; the seed itself counts as
// already acked.
func New(typ Type, seedSn meshid.SequenceNumber) AckSet {
	return AckSet{typ: typ, hi: seedSn}
}

func (a AckSet) Type() Type                { return a.typ }
func (a AckSet) Hi() meshid.SequenceNumber { return a.hi }
func (a AckSet) Mask() uint32              { return a.mask }
func (a AckSet) String() string            { return fmt.Sprintf("AckSet{%s,hi=%d,mask=%032b}", a.typ, a.hi, a.mask) }

// FromWindow reconstructs an AckSet from its wire-level components. Used by
// the wire decoder; application code should prefer New plus TryAdd.
func FromWindow(typ Type, hi meshid.SequenceNumber, mask uint32) AckSet {
	return AckSet{typ: typ, hi: hi, mask: mask}
}

// CanAdd reports whether sn is representable in the window: at or above hi,
// or within the WindowSize preceding slots. It performs no mutation.
func (a AckSet) CanAdd(sn meshid.SequenceNumber) bool {
	if sn == a.hi || a.hi.Less(sn) {
		return true
	}
	offset := uint32(a.hi - sn)
	return offset <= WindowSize
}

// TryAdd inserts sn into the window, shifting hi and the mask forward when
// sn is new and ahead of the current high-water mark. It returns false if
// sn falls below the window or is already recorded; TryAdd is otherwise
// idempotent.
func (a *AckSet) TryAdd(sn meshid.SequenceNumber) bool {
	switch {
	case sn == a.hi:
		return false

	case a.hi.Less(sn):
		shift := uint32(sn - a.hi)
		if shift > WindowSize {
			a.mask = 0
		} else {
			a.mask <<= shift
			a.mask |= 1 << (shift - 1)
		}
		a.hi = sn
		return true

	default:
		offset := uint32(a.hi - sn)
		if offset == 0 || offset > WindowSize {
			return false
		}
		bit := uint32(1) << (offset - 1)
		if a.mask&bit != 0 {
			return false
		}
		a.mask |= bit
		return true
	}
}

// Acked returns every sequence number currently marked acked, in ascending
// order.
func (a AckSet) Acked() []meshid.SequenceNumber {
	out := make([]meshid.SequenceNumber, 0, WindowSize+1)
	for i := uint32(WindowSize); i >= 1; i-- {
		if a.mask&(1<<(i-1)) != 0 {
			out = append(out, a.hi-meshid.SequenceNumber(i))
		}
	}
	return append(out, a.hi)
}
