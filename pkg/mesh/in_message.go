package mesh

import "github.com/robjsp/meshcast/pkg/meshid"

// InMessagePart is one piece of a message as handed to the core by a relay,
// already decoded off the wire. A part covering the entire original
// message (ChunkStart 0, full length) is immediately promotable to full.
type InMessagePart struct {
	Source         meshid.NodeId
	Type           meshid.MessageType
	SequenceNumber meshid.SequenceNumber
	OriginalSize   uint64
	ChunkStart     uint64
	Payload        []byte
}

// IsFull reports whether this single part already covers the whole message.
func (p InMessagePart) IsFull() bool {
	return p.ChunkStart == 0 && uint64(len(p.Payload)) == p.OriginalSize
}

func (p InMessagePart) full() InMessageFull {
	return InMessageFull{
		Source:         p.Source,
		Type:           p.Type,
		SequenceNumber: p.SequenceNumber,
		Payload:        p.Payload,
	}
}

// InMessageFull is a completely assembled inbound message, ready for the
// reliability state machine or direct delivery.
type InMessageFull struct {
	Source         meshid.NodeId
	Type           meshid.MessageType
	SequenceNumber meshid.SequenceNumber
	Payload        []byte
}
