package mesh

import "github.com/robjsp/meshcast/pkg/meshid"

// OutMessage is the retained state of one outbound message: who sent it,
// whether it demands acknowledgement, and which recipients still owe one.
// Go has no weak references, so the retention registry and every relay
// queue that references a message share the same *OutMessage; refCount
// counts how many relay queues currently hold it, standing in for the
// reference-counted ownership model a systems language would use here.
type OutMessage struct {
	Source         meshid.NodeId
	Reliable       bool
	Type           meshid.MessageType
	SequenceNumber meshid.SequenceNumber
	OriginalSize   uint64

	Targets map[meshid.NodeId]struct{}
	Payload []byte

	refCount int
}

// NewOutMessage builds an OutMessage with a defensive copy of targets, so
// the caller's snapshot can't be mutated out from under the registry.
func NewOutMessage(source meshid.NodeId, reliable bool, typ meshid.MessageType, sn meshid.SequenceNumber, targets map[meshid.NodeId]struct{}, payload []byte) *OutMessage {
	t := make(map[meshid.NodeId]struct{}, len(targets))
	for k := range targets {
		t[k] = struct{}{}
	}
	return &OutMessage{
		Source:         source,
		Reliable:       reliable,
		Type:           typ,
		SequenceNumber: sn,
		OriginalSize:   uint64(len(payload)),
		Targets:        t,
		Payload:        payload,
	}
}

// HasTarget reports whether t still owes an ack for this message.
func (m *OutMessage) HasTarget(t meshid.NodeId) bool {
	_, ok := m.Targets[t]
	return ok
}

// RemoveTarget drops t from the set of recipients still owing an ack.
func (m *OutMessage) RemoveTarget(t meshid.NodeId) {
	delete(m.Targets, t)
}

// Exhausted reports whether every recipient has acknowledged the message.
func (m *OutMessage) Exhausted() bool {
	return len(m.Targets) == 0
}

// SetPayload replaces the payload in place, used to coalesce successive
// unreliable broadcasts sharing a deduplication key before the first is
// ever emitted.
func (m *OutMessage) SetPayload(payload []byte) {
	m.Payload = payload
	m.OriginalSize = uint64(len(payload))
}
