// Package meshid defines the identifiers shared across the mesh transport
// core: the 128-bit NodeId, the per-sender SequenceNumber, and the tagged
// MessageId used to key retained outbound messages.
package meshid

import (
	"bytes"

	"github.com/google/uuid"
)

// NodeId is the opaque 128-bit identifier of a participant in the mesh,
// used as the key for targets, relays and outstanding acks.
type NodeId uuid.UUID

// Nil is the zero NodeId, used as a not-yet-assigned sentinel.
var Nil = NodeId{}

// NewNodeId allocates a random NodeId.
func NewNodeId() NodeId {
	return NodeId(uuid.New())
}

// ParseNodeId parses the canonical string form of a NodeId.
func ParseNodeId(s string) (NodeId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return NodeId(u), nil
}

func (n NodeId) String() string {
	return uuid.UUID(n).String()
}

// Compare gives the total order over NodeId required to sort targets and
// relays deterministically. It returns a negative number, zero, or a
// positive number as n is less than, equal to, or greater than other.
func (n NodeId) Compare(other NodeId) int {
	return bytes.Compare(n[:], other[:])
}

// Bytes returns the raw 16-byte encoding of the NodeId.
func (n NodeId) Bytes() []byte {
	return n[:]
}

// NodeIdFromBytes reconstructs a NodeId from its raw 16-byte encoding.
func NodeIdFromBytes(b []byte) (NodeId, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Nil, err
	}
	return NodeId(u), nil
}
