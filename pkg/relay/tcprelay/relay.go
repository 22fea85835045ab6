// Package tcprelay adapts mesh.Core's Relay contract onto a single
// persistent TCP connection to one directly-reachable peer, framed with the
// same byte-string-length-then-CBOR convention dtn7-go's mtcp convergence
// layer uses for bundles.
package tcprelay

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/cboring"

	"github.com/robjsp/meshcast/pkg/mesh"
	"github.com/robjsp/meshcast/pkg/meshid"
	"github.com/robjsp/meshcast/pkg/wire"
)

// keepaliveInterval mirrors mtcp's zero-length-frame keepalive cadence.
const keepaliveInterval = 5 * time.Second

type outboxItem struct {
	id  meshid.MessageId
	msg *mesh.OutMessage
	ack *wire.AckEntry
}

// TCPRelay carries mesh traffic to exactly one directly-connected peer over
// one TCP connection, implementing mesh.Relay. Everything the mesh core
// mutates (retention, ack state, delivery) happens on the goroutine that
// drains Events; TCPRelay's own reader and writer goroutines never touch
// Core directly.
type TCPRelay struct {
	conn      net.Conn
	relayId   meshid.NodeId
	permanent bool

	mu      sync.Mutex
	adopted map[meshid.NodeId]struct{}

	outbox chan outboxItem
	events chan<- Event

	stopSyn chan struct{}
	stopAck chan struct{}
}

// newRelay wraps an already-identified connection and starts its reader and
// writer goroutines. events receives every inbound frame and every queue
// release, destined for the single goroutine that owns mesh.Core.
func newRelay(conn net.Conn, relayId meshid.NodeId, permanent bool, events chan<- Event) *TCPRelay {
	r := &TCPRelay{
		conn:      conn,
		relayId:   relayId,
		permanent: permanent,
		adopted:   make(map[meshid.NodeId]struct{}),
		outbox:    make(chan outboxItem, 64),
		events:    events,
		stopSyn:   make(chan struct{}),
		stopAck:   make(chan struct{}),
	}

	go r.readLoop()
	go r.writeLoop()

	return r
}

// Dial opens a new connection to address, exchanges identities with the
// peer, and returns a relay carrying traffic to whatever NodeId the peer
// announces.
func Dial(address string, self meshid.NodeId, permanent bool, events chan<- Event) (*TCPRelay, error) {
	conn, err := dial(address)
	if err != nil {
		return nil, err
	}

	if err := setKeepAlive(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	peer, err := handshake(conn, self)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tcprelay: handshake with %s failed: %w", address, err)
	}

	log.WithFields(log.Fields{"address": address, "peer": peer}).Debug("tcprelay: dialed and identified peer")

	return newRelay(conn, peer, permanent, events), nil
}

// RelayId identifies the directly-connected peer this relay carries
// traffic to.
func (r *TCPRelay) RelayId() meshid.NodeId {
	return r.relayId
}

// AddTarget adopts target as a destination this relay will forward traffic
// toward, returning whether it was newly adopted.
func (r *TCPRelay) AddTarget(target meshid.NodeId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adopted[target]; ok {
		return false
	}
	r.adopted[target] = struct{}{}
	return true
}

// ClearTargets drops every destination previously adopted.
func (r *TCPRelay) ClearTargets() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adopted = make(map[meshid.NodeId]struct{})
}

// adoptedSnapshot copies the adopted set for use outside the relay's own
// lock, e.g. by mesh.Core.EncodeAcks.
func (r *TCPRelay) adoptedSnapshot() map[meshid.NodeId]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[meshid.NodeId]struct{}, len(r.adopted))
	for k := range r.adopted {
		out[k] = struct{}{}
	}
	return out
}

func (r *TCPRelay) hasAnyTarget(targets map[meshid.NodeId]struct{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for t := range targets {
		if _, ok := r.adopted[t]; ok {
			return true
		}
	}
	return false
}

// InsertMessage enqueues msg for transmission if it's addressed to any
// target this relay has adopted; otherwise it reports the reference
// released immediately, since this relay will never transmit it.
func (r *TCPRelay) InsertMessage(id meshid.MessageId, msg *mesh.OutMessage) {
	if !r.hasAnyTarget(msg.Targets) {
		r.release(id, msg)
		return
	}

	select {
	case r.outbox <- outboxItem{id: id, msg: msg}:
	case <-r.stopSyn:
		r.release(id, msg)
	}
}

// EncodeAcks lets mesh.Core.EncodeAcks piggyback owed ack entries onto this
// relay's outgoing stream.
func (r *TCPRelay) EncodeAcks(core *mesh.Core) {
	if _, err := core.EncodeAcks(ackEncoder{r}, r.adoptedSnapshot()); err != nil {
		log.WithFields(log.Fields{"relay": r, "error": err}).Warn("tcprelay: failed to encode acks")
	}
}

func (r *TCPRelay) enqueueAck(entry wire.AckEntry) {
	select {
	case r.outbox <- outboxItem{ack: &entry}:
	case <-r.stopSyn:
	}
}

// IsSending reports whether this relay currently has unsent traffic queued.
// The count is read without synchronizing against the writer mid-frame, an
// approximation mesh.Core's flush barrier already tolerates.
func (r *TCPRelay) IsSending() bool {
	return len(r.outbox) > 0
}

func (r *TCPRelay) release(id meshid.MessageId, msg *mesh.OutMessage) {
	select {
	case r.events <- Event{Relay: r, Released: &ReleaseEvent{Id: id, Msg: msg}}:
	case <-r.stopSyn:
	}
}

// Close tears down both goroutines and the underlying connection.
func (r *TCPRelay) Close() error {
	select {
	case <-r.stopSyn:
		return nil
	default:
		close(r.stopSyn)
	}
	<-r.stopAck
	return r.conn.Close()
}

func (r *TCPRelay) String() string {
	return fmt.Sprintf("tcprelay://%s", r.relayId)
}

// IsPermanent reports whether this relay should survive a peer-disappeared
// event instead of being torn down, mirroring the convergence-layer
// permanence flag dtn7-go's CLAs carry.
func (r *TCPRelay) IsPermanent() bool {
	return r.permanent
}

// Address returns the remote address this relay is connected to.
func (r *TCPRelay) Address() string {
	return r.conn.RemoteAddr().String()
}

// --- framing -------------------------------------------------------------

func writeEnvelope(w *bufio.Writer, env *wire.Envelope) error {
	buf := new(bytes.Buffer)
	if err := cboring.Marshal(env, buf); err != nil {
		return err
	}
	if err := cboring.WriteByteStringLen(uint64(buf.Len()), w); err != nil {
		return err
	}
	if _, err := buf.WriteTo(w); err != nil {
		return err
	}
	return w.Flush()
}

func (r *TCPRelay) writeLoop() {
	defer close(r.stopAck)

	w := bufio.NewWriter(r.conn)
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopSyn:
			return

		case <-ticker.C:
			if err := cboring.WriteByteStringLen(0, w); err != nil || w.Flush() != nil {
				log.WithFields(log.Fields{"relay": r, "error": err}).Warn("tcprelay: keepalive write failed")
				return
			}

		case item := <-r.outbox:
			env := &wire.Envelope{}
			if item.ack != nil {
				env.Kind = wire.AckFrame
				env.Ack = item.ack
			} else {
				env.Kind = wire.PartFrame
				env.Part = &wire.Part{
					Source:         item.msg.Source,
					Type:           item.msg.Type,
					SequenceNumber: item.msg.SequenceNumber,
					OriginalSize:   item.msg.OriginalSize,
					Payload:        item.msg.Payload,
				}
			}

			if err := writeEnvelope(w, env); err != nil {
				log.WithFields(log.Fields{"relay": r, "error": err}).Warn("tcprelay: write failed")
				if item.msg != nil {
					r.release(item.id, item.msg)
				}
				return
			}
			if item.msg != nil {
				r.release(item.id, item.msg)
			}
		}
	}
}

func (r *TCPRelay) readLoop() {
	reader := bufio.NewReader(r.conn)

	for {
		n, err := cboring.ReadByteStringLen(reader)
		if err != nil {
			r.emitDisconnect(err)
			return
		}
		if n == 0 {
			continue // keepalive
		}

		var env wire.Envelope
		if err := cboring.Unmarshal(&env, reader); err != nil {
			r.emitDisconnect(err)
			return
		}

		ev := Event{Relay: r}
		switch env.Kind {
		case wire.PartFrame:
			ev.Part = env.Part
		case wire.AckFrame:
			ev.AckEntry = env.Ack
		default:
			continue
		}

		select {
		case r.events <- ev:
		case <-r.stopSyn:
			return
		}
	}
}

func (r *TCPRelay) emitDisconnect(err error) {
	select {
	case r.events <- Event{Relay: r, Disconnected: true, Err: err}:
	case <-r.stopSyn:
	}
}
