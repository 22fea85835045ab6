package udprelay

import (
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/robjsp/meshcast/pkg/ack"
	"github.com/robjsp/meshcast/pkg/mesh"
	"github.com/robjsp/meshcast/pkg/meshid"
	"github.com/robjsp/meshcast/pkg/wire"
)

// Relay carries best-effort traffic to one peer over a shared Socket. It
// implements mesh.Relay. Because UDP delivery is fire-and-forget, a message
// is released back to mesh.Core the instant it's handed to the kernel,
// whether or not the peer ever actually receives it. Core publishes every
// message type to every relay, so a UDP-backed relay carries syns and
// reliable broadcasts too; those stay in Core's retention registry until
// their targets ack them, independent of this release.
type Relay struct {
	socket  *Socket
	addr    *net.UDPAddr
	relayId meshid.NodeId

	mu      sync.Mutex
	adopted map[meshid.NodeId]struct{}

	// core is the same Core that calls InsertMessage in the first place
	// (via publish, on its own goroutine): since a UDP send is one
	// synchronous syscall with no queue, Release can be called back
	// immediately, inline, rather than reported asynchronously the way
	// tcprelay's queued writer must.
	core *mesh.Core
}

// New builds a relay addressing traffic to relayId at addr, sending through
// the shared socket. core must be the same Core this relay is registered
// with, so InsertMessage can call back into Release synchronously.
func New(socket *Socket, core *mesh.Core, relayId meshid.NodeId, addr *net.UDPAddr) *Relay {
	return &Relay{
		socket:  socket,
		core:    core,
		addr:    addr,
		relayId: relayId,
		adopted: make(map[meshid.NodeId]struct{}),
	}
}

func (r *Relay) RelayId() meshid.NodeId {
	return r.relayId
}

func (r *Relay) AddTarget(target meshid.NodeId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adopted[target]; ok {
		return false
	}
	r.adopted[target] = struct{}{}
	return true
}

func (r *Relay) ClearTargets() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adopted = make(map[meshid.NodeId]struct{})
}

func (r *Relay) hasAnyTarget(targets map[meshid.NodeId]struct{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for t := range targets {
		if _, ok := r.adopted[t]; ok {
			return true
		}
	}
	return false
}

// IsSending is always false: a UDP send is a single non-blocking syscall,
// there is no queue to drain.
func (r *Relay) IsSending() bool {
	return false
}

// InsertMessage sends msg as one datagram if it's addressed to an adopted
// target, then releases it back to Core regardless of outcome: UDP gives
// no delivery confirmation, so the retention registry can't wait on one.
func (r *Relay) InsertMessage(id meshid.MessageId, msg *mesh.OutMessage) {
	defer r.core.Release(id, msg)

	if !r.hasAnyTarget(msg.Targets) {
		return
	}

	part := wire.Part{
		Source:         msg.Source,
		Type:           msg.Type,
		SequenceNumber: msg.SequenceNumber,
		OriginalSize:   msg.OriginalSize,
		Payload:        msg.Payload,
	}
	env := &wire.Envelope{Kind: wire.PartFrame, Part: &part}

	if err := r.socket.send(r.addr, env); err != nil {
		log.WithFields(log.Fields{"relay": r, "error": err}).Debug("udprelay: send failed")
	}
}

func (r *Relay) sendAck(entry wire.AckEntry) {
	env := &wire.Envelope{Kind: wire.AckFrame, Ack: &entry}
	if err := r.socket.send(r.addr, env); err != nil {
		log.WithFields(log.Fields{"relay": r, "error": err}).Debug("udprelay: ack send failed")
	}
}

func (r *Relay) adoptedSnapshot() map[meshid.NodeId]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[meshid.NodeId]struct{}, len(r.adopted))
	for k := range r.adopted {
		out[k] = struct{}{}
	}
	return out
}

type ackEncoder struct {
	r *Relay
}

func (e ackEncoder) EncodeAckEntry(target meshid.NodeId, typ ack.Type, set ack.AckSet) error {
	e.r.sendAck(wire.AckEntry{Target: target, Type: typ, Set: set})
	return nil
}

// EncodeAcks piggybacks whatever this relay's peer is currently owed onto
// one or more outbound datagrams.
func (r *Relay) EncodeAcks() {
	if _, err := r.core.EncodeAcks(ackEncoder{r}, r.adoptedSnapshot()); err != nil {
		log.WithFields(log.Fields{"relay": r, "error": err}).Warn("udprelay: failed to encode acks")
	}
}

func (r *Relay) String() string {
	return fmt.Sprintf("udprelay://%s@%s", r.relayId, r.addr)
}
