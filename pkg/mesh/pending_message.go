package mesh

import "github.com/robjsp/meshcast/pkg/meshid"

// PendingMessage reassembles one in-flight inbound message from its parts.
// Parts are assumed non-overlapping and collectively covering
// [0, originalSize); completeness is therefore just a byte count, not an
// interval union.
type PendingMessage struct {
	typ            meshid.MessageType
	sequenceNumber meshid.SequenceNumber
	buf            []byte
	received       uint64
}

func newPendingMessage(p InMessagePart) *PendingMessage {
	pm := &PendingMessage{
		typ:            p.Type,
		sequenceNumber: p.SequenceNumber,
		buf:            make([]byte, p.OriginalSize),
	}
	pm.merge(p)
	return pm
}

func (pm *PendingMessage) merge(p InMessagePart) {
	copy(pm.buf[p.ChunkStart:], p.Payload)
	pm.received += uint64(len(p.Payload))
}

// complete reports whether every byte of the original message has arrived.
func (pm *PendingMessage) complete() bool {
	return pm.received >= uint64(len(pm.buf))
}

// newCompletePendingMessage wraps an already-fully-assembled message so it
// can sit in a Target's pending map when it arrives out of order.
func newCompletePendingMessage(msg InMessageFull) *PendingMessage {
	return &PendingMessage{
		typ:            msg.Type,
		sequenceNumber: msg.SequenceNumber,
		buf:            msg.Payload,
		received:       uint64(len(msg.Payload)),
	}
}

func (pm *PendingMessage) full(source meshid.NodeId) InMessageFull {
	return InMessageFull{
		Source:         source,
		Type:           pm.typ,
		SequenceNumber: pm.sequenceNumber,
		Payload:        pm.buf,
	}
}
