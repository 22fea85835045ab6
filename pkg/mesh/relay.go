package mesh

import (
	"errors"

	"github.com/robjsp/meshcast/pkg/meshid"
)

// Relay is the contract the core requires of a link-layer carrier: identity,
// target adoption, and the outbound queue. Everything below this interface
// (serialization, sockets, sessions) is the relay's own concern.
type Relay interface {
	// AddTarget asks the relay to take responsibility for target, returning
	// whether it was newly added (false if the relay declines, or already
	// handles it).
	AddTarget(target meshid.NodeId) bool

	// InsertMessage enqueues msg for transmission under id.
	InsertMessage(id meshid.MessageId, msg *OutMessage)

	// IsSending reports whether the relay is currently serializing traffic.
	IsSending() bool

	// RelayId identifies the directly-connected peer this relay carries
	// traffic to.
	RelayId() meshid.NodeId

	// ClearTargets drops every destination the relay previously adopted,
	// called at the start of every topology recomputation.
	ClearTargets()
}

// The error taxonomy below names every condition the core absorbs locally.
// None of them ever reach the application; they exist so callers logging a
// dropped message can name the exact reason.
var (
	errUnknownSource    = errors.New("mesh: no target exists for this source")
	errNotSynced        = errors.New("mesh: no syn processed yet for this source")
	errOutsideWindow    = errors.New("mesh: sequence number not representable in the ack window")
	errDuplicateSn      = errors.New("mesh: sequence number already acknowledged")
	errUnknownType      = errors.New("mesh: protocol violation: unrecognized message type")
	errUnroutableTarget = errors.New("mesh: no relay matches the first hop for this destination")
)
