package tcprelay

import (
	"github.com/robjsp/meshcast/pkg/ack"
	"github.com/robjsp/meshcast/pkg/mesh"
	"github.com/robjsp/meshcast/pkg/meshid"
	"github.com/robjsp/meshcast/pkg/wire"
)

// Event is one thing a relay's reader or writer goroutine observed that
// must be applied to mesh.Core. Core takes no locks and expects every entry
// point driven from a single sequential caller, so callers must drain a
// relay's Events channel from the one goroutine that owns Core, never from
// the relay's own internal goroutines.
type Event struct {
	Relay *TCPRelay

	Part     *wire.Part
	AckEntry *wire.AckEntry
	Released *ReleaseEvent

	// Disconnected is set on the final event a relay will ever emit.
	Disconnected bool
	Err          error
}

// ReleaseEvent reports that this relay is done holding msg, so its caller
// should invoke mesh.Core.Release to drop the reference count.
type ReleaseEvent struct {
	Id  meshid.MessageId
	Msg *mesh.OutMessage
}

// InPart converts a wire.Part into the shape mesh.Core.OnReceivePart wants.
func InPart(p wire.Part) mesh.InMessagePart {
	return mesh.InMessagePart{
		Source:         p.Source,
		Type:           p.Type,
		SequenceNumber: p.SequenceNumber,
		OriginalSize:   p.OriginalSize,
		ChunkStart:     p.ChunkStart,
		Payload:        p.Payload,
	}
}

// InAckEntry converts a wire.AckEntry into an ack.Entry, ready for
// mesh.Core.AddAckEntry. Its Source is the entry's Target, the original
// broadcaster or syn sender the acks concern, not the peer that delivered
// the frame.
func InAckEntry(e wire.AckEntry) ack.Entry {
	return ack.Entry{Source: e.Target, Set: e.Set}
}

// ackEncoder adapts a TCPRelay's outbox to ack.Encoder, so
// mesh.Core.EncodeAcks can enqueue ack entries for transmission the same
// way it enqueues message parts.
type ackEncoder struct {
	r *TCPRelay
}

func (e ackEncoder) EncodeAckEntry(target meshid.NodeId, typ ack.Type, set ack.AckSet) error {
	e.r.enqueueAck(wire.AckEntry{Target: target, Type: typ, Set: set})
	return nil
}
