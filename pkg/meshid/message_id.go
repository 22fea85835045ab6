package meshid

import "fmt"

// MessageType is the wire discriminator carried by every message part,
// distinguishing the three kinds of traffic the core understands on the
// wire. Forwarded traffic carries the inner message's own MessageType;
// Forward only exists as a MessageId.Kind sentinel for retention bookkeeping.
type MessageType uint8

const (
	ReliableBroadcast MessageType = iota
	UnreliableBroadcast
	Syn
)

func (t MessageType) String() string {
	switch t {
	case ReliableBroadcast:
		return "reliable-broadcast"
	case UnreliableBroadcast:
		return "unreliable-broadcast"
	case Syn:
		return "syn"
	default:
		return fmt.Sprintf("unknown-message-type(%d)", uint8(t))
	}
}

// Kind tags the variant of a MessageId: the outbound retention
// registry is keyed on MessageId, and each variant carries different fields.
type Kind uint8

const (
	// ReliableBroadcastKind identifies a per-sender reliable broadcast,
	// unique by its sequence number alone.
	ReliableBroadcastKind Kind = iota

	// ReliableUnicastKind identifies a syn message, unique by (destination, sn).
	ReliableUnicastKind

	// UnreliableBroadcastKind identifies an unreliable broadcast, unique by
	// its user-supplied deduplication key.
	UnreliableBroadcastKind

	// ForwardKind is the sentinel for forwarded foreign traffic; forwarded
	// messages are never retained, so all ForwardKind ids are identical.
	ForwardKind
)

func (k Kind) String() string {
	switch k {
	case ReliableBroadcastKind:
		return "reliable-broadcast-id"
	case ReliableUnicastKind:
		return "reliable-unicast-id"
	case UnreliableBroadcastKind:
		return "unreliable-broadcast-id"
	case ForwardKind:
		return "forward-id"
	default:
		return fmt.Sprintf("unknown-kind(%d)", uint8(k))
	}
}

// MessageId is a comparable value uniquely identifying an outbound message
// in the retention registry. It doubles as a Go map key: all fields are
// comparable, so equality alone gives the identity a total ordering needs
// in a language with weak references and ordered maps requires explicitly.
type MessageId struct {
	Kind    Kind
	Sn      SequenceNumber
	Dest    NodeId
	UserKey string
}

// NewReliableBroadcastId identifies a reliable broadcast by its sender-scoped
// sequence number.
func NewReliableBroadcastId(sn SequenceNumber) MessageId {
	return MessageId{Kind: ReliableBroadcastKind, Sn: sn}
}

// NewReliableUnicastId identifies the syn sent to a specific destination.
func NewReliableUnicastId(dest NodeId, sn SequenceNumber) MessageId {
	return MessageId{Kind: ReliableUnicastKind, Dest: dest, Sn: sn}
}

// NewUnreliableBroadcastId identifies an unreliable broadcast by its
// caller-supplied coalescing key.
func NewUnreliableBroadcastId(userKey string) MessageId {
	return MessageId{Kind: UnreliableBroadcastKind, UserKey: userKey}
}

// ForwardId is the shared sentinel identity for all forwarded, non-retained
// traffic.
var ForwardId = MessageId{Kind: ForwardKind}

func (id MessageId) String() string {
	switch id.Kind {
	case ReliableBroadcastKind:
		return fmt.Sprintf("reliable-broadcast(%d)", id.Sn)
	case ReliableUnicastKind:
		return fmt.Sprintf("syn(%s,%d)", id.Dest, id.Sn)
	case UnreliableBroadcastKind:
		return fmt.Sprintf("unreliable-broadcast(%q)", id.UserKey)
	default:
		return "forward"
	}
}

// Compare gives a total ordering over MessageIds: by Kind, then by the
// fields relevant to that Kind. Go's map type only needs equality for keys;
// Compare exists for deterministic logging and test output.
func (id MessageId) Compare(other MessageId) int {
	if id.Kind != other.Kind {
		if id.Kind < other.Kind {
			return -1
		}
		return 1
	}

	switch id.Kind {
	case ReliableBroadcastKind:
		return id.Sn.Compare(other.Sn)
	case ReliableUnicastKind:
		if c := id.Dest.Compare(other.Dest); c != 0 {
			return c
		}
		return id.Sn.Compare(other.Sn)
	case UnreliableBroadcastKind:
		switch {
		case id.UserKey < other.UserKey:
			return -1
		case id.UserKey > other.UserKey:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}
