package main

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/robjsp/meshcast/pkg/mesh"
	"github.com/robjsp/meshcast/pkg/meshid"
	"github.com/robjsp/meshcast/pkg/relay/tcprelay"
	"github.com/robjsp/meshcast/pkg/relay/udprelay"
	"github.com/robjsp/meshcast/pkg/topology"
)

// ackFlushInterval bounds how long an owed ack can sit before it's
// piggybacked onto an outgoing frame, independent of whatever traffic that
// relay happens to be carrying anyway.
const ackFlushInterval = 500 * time.Millisecond

// Engine owns the one mesh.Core for this node and is the only goroutine
// permitted to call into it, per Core's own single-caller contract. Every
// relay's socket/connection goroutines only ever place events on a channel;
// Engine's run loop is what turns those into Core calls.
type Engine struct {
	self meshid.NodeId
	core *mesh.Core

	tcpEvents   chan tcprelay.Event
	udpEvents   chan udprelay.Event
	discovered  chan udprelay.Discovered
	statusReq   chan statusRequest
	dialRequest chan string

	reliableOut   chan []byte
	unreliableOut chan unreliablePayload
	flushRequest  chan mesh.OnFlush

	listener   *tcprelay.Listener
	discoverer *udprelay.Discoverer
	udpSocket  *udprelay.Socket

	tcpRelays map[meshid.NodeId]*tcprelay.TCPRelay
	udpRelays map[meshid.NodeId]*udprelay.Relay

	// udpPeerByAddr resolves an inbound datagram's source address back to the
	// NodeId of the peer that sent it. A wire.AckEntry carries only the
	// original broadcaster's id (its Target field), never the id of whoever
	// physically forwarded the frame, so this lookup is the only source of
	// truth for "who did this ack actually come from" on the UDP path.
	udpPeerByAddr map[string]meshid.NodeId

	graph *topology.Graph
}

// unreliablePayload pairs a coalescing key with the data to broadcast
// best-effort, the two arguments BroadcastUnreliable takes bundled so they
// fit through a single channel.
type unreliablePayload struct {
	userKey string
	data    []byte
}

// NewEngine creates an Engine for self. Relays and discovery are wired in
// separately (see main.go), since they need the Engine's event channels to
// exist first.
func NewEngine(self meshid.NodeId, onReceive mesh.OnReceive) *Engine {
	e := &Engine{
		self:          self,
		core:          mesh.NewCore(self, onReceive),
		tcpEvents:     make(chan tcprelay.Event, 256),
		udpEvents:     make(chan udprelay.Event, 256),
		discovered:    make(chan udprelay.Discovered, 16),
		statusReq:     make(chan statusRequest),
		dialRequest:   make(chan string, 16),
		reliableOut:   make(chan []byte, 64),
		unreliableOut: make(chan unreliablePayload, 64),
		flushRequest:  make(chan mesh.OnFlush, 1),
		tcpRelays:     make(map[meshid.NodeId]*tcprelay.TCPRelay),
		udpRelays:     make(map[meshid.NodeId]*udprelay.Relay),
		udpPeerByAddr: make(map[string]meshid.NodeId),
		graph:         topology.NewGraph(),
	}
	e.graph.AddNode(self)
	return e
}

// Run drains every event source until stop is closed. It must be started
// in its own goroutine and is the sole owner of e.core thereafter.
func (e *Engine) Run(stop <-chan struct{}) {
	ackTicker := time.NewTicker(ackFlushInterval)
	defer ackTicker.Stop()

	// e.listener is optional (a node may accept no inbound TCP connections
	// at all), so read from it only once it exists; a nil channel simply
	// never fires in a select.
	var accepted <-chan *tcprelay.TCPRelay
	if e.listener != nil {
		accepted = e.listener.Accepted
	}

	for {
		select {
		case <-stop:
			return

		case ev := <-e.tcpEvents:
			e.handleTCPEvent(ev)

		case ev := <-e.udpEvents:
			e.handleUDPEvent(ev)

		case d := <-e.discovered:
			e.handleDiscovered(d)

		case r, ok := <-accepted:
			if ok {
				e.adoptTCPRelay(r)
			}

		case <-ackTicker.C:
			e.flushAcks()

		case req := <-e.statusReq:
			req.reply <- e.buildStatus()

		case addr := <-e.dialRequest:
			e.dialPeer(addr)

		case data := <-e.reliableOut:
			e.core.BroadcastReliable(data)

		case p := <-e.unreliableOut:
			e.core.BroadcastUnreliable(p.userKey, p.data)

		case onFlush := <-e.flushRequest:
			e.core.Flush(onFlush)
		}
	}
}

func (e *Engine) handleTCPEvent(ev tcprelay.Event) {
	switch {
	case ev.Disconnected:
		log.WithFields(log.Fields{"relay": ev.Relay, "error": ev.Err}).Info("meshd: peer disconnected")
		e.core.UnregisterRelay(ev.Relay)
		delete(e.tcpRelays, ev.Relay.RelayId())
		e.graph.RemoveNode(ev.Relay.RelayId())
		e.core.ResetTopology(e.graph)

	case ev.Released != nil:
		e.core.Release(ev.Released.Id, ev.Released.Msg)

	case ev.Part != nil:
		e.core.OnReceivePart(tcprelay.InPart(*ev.Part))

	case ev.AckEntry != nil:
		// OnReceiveAcks must learn who physically delivered this ack frame,
		// not who it's about: ev.AckEntry.Target is the original
		// broadcaster/syn-sender the entry concerns (see wire.AckEntry and
		// tcprelay.InAckEntry), which for a direct link back to that very
		// broadcaster is indistinguishable from e.self and would make every
		// RemoveTarget/NewReliableUnicastId lookup in Core a no-op or a miss.
		// ev.Relay.RelayId() is the peer on the other end of this specific
		// connection, which is what Core actually needs here.
		e.core.OnReceiveAcks(ev.Relay.RelayId(), ev.AckEntry.Set)
		e.core.AddAckEntry(tcprelay.InAckEntry(*ev.AckEntry))
	}
}

func (e *Engine) handleUDPEvent(ev udprelay.Event) {
	switch {
	case ev.Part != nil:
		e.core.OnReceivePart(mesh.InMessagePart{
			Source:         ev.Part.Source,
			Type:           ev.Part.Type,
			SequenceNumber: ev.Part.SequenceNumber,
			OriginalSize:   ev.Part.OriginalSize,
			ChunkStart:     ev.Part.ChunkStart,
			Payload:        ev.Part.Payload,
		})

	case ev.AckEntry != nil:
		// Same identity pitfall as the TCP path (see handleTCPEvent), and
		// worse here: a UDP datagram carries no connection state at all, so
		// the only way to learn who sent it is the addr-to-NodeId mapping
		// recorded when its relay was adopted. An unrecognized sender (e.g.
		// a stale address after a peer re-adopted under a new port) can't be
		// safely attributed to anyone, so the ack is dropped rather than
		// risk corrupting another peer's retention state.
		if sender, ok := e.udpPeerByAddr[ev.From.String()]; ok {
			e.core.OnReceiveAcks(sender, ev.AckEntry.Set)
		} else {
			log.WithField("from", ev.From).Debug("meshd: ack from unrecognized udp sender dropped")
		}
	}
}

// adoptTCPRelay registers a newly dialed or accepted connection, folds its
// peer into the topology graph as a direct neighbor, and recomputes routes.
func (e *Engine) adoptTCPRelay(r *tcprelay.TCPRelay) {
	e.core.RegisterRelay(r)
	e.tcpRelays[r.RelayId()] = r

	e.graph.AddUnitEdge(e.self, r.RelayId())
	e.core.ResetTopology(e.graph)

	log.WithField("peer", r.RelayId()).Info("meshd: relay adopted")
}

// handleDiscovered upgrades a freshly discovered LAN peer to a reliable TCP
// relay when possible, falling back to the best-effort UDP relay already
// reachable through the discovery Socket when the peer accepts no inbound
// TCP connections of its own.
func (e *Engine) handleDiscovered(d udprelay.Discovered) {
	if _, known := e.tcpRelays[d.NodeId]; known {
		return
	}
	if _, known := e.udpRelays[d.NodeId]; known {
		return
	}

	if r, err := tcprelay.Dial(d.Addr.String(), e.self, false, e.tcpEvents); err == nil {
		e.adoptTCPRelay(r)
		return
	}

	if e.udpSocket == nil {
		log.WithFields(log.Fields{"peer": d.NodeId, "addr": d.Addr}).Debug("meshd: discovered peer has no reachable relay")
		return
	}

	r := udprelay.New(e.udpSocket, e.core, d.NodeId, d.Addr)
	e.core.RegisterRelay(r)
	e.udpRelays[d.NodeId] = r
	e.udpPeerByAddr[d.Addr.String()] = d.NodeId

	e.graph.AddUnitEdge(e.self, d.NodeId)
	e.core.ResetTopology(e.graph)

	log.WithField("peer", d.NodeId).Info("meshd: udp relay adopted")
}

func (e *Engine) flushAcks() {
	for _, r := range e.tcpRelays {
		r.EncodeAcks(e.core)
	}
	for _, r := range e.udpRelays {
		r.EncodeAcks()
	}
}

// BroadcastReliable hands data to the run loop for the core's ordered
// delivery guarantee to every current destination. Safe to call from any
// goroutine once Run is underway.
func (e *Engine) BroadcastReliable(data []byte) {
	e.reliableOut <- data
}

// BroadcastUnreliable hands data, coalesced under userKey, to the run loop
// for best-effort delivery to every current destination. Safe to call from
// any goroutine once Run is underway.
func (e *Engine) BroadcastUnreliable(userKey string, data []byte) {
	e.unreliableOut <- unreliablePayload{userKey: userKey, data: data}
}

// Shutdown closes every relay, listener and discovery collaborator. Call it
// only after Run's goroutine has returned, since it touches the same maps
// Run owns.
func (e *Engine) Shutdown() {
	if e.listener != nil {
		if err := e.listener.Close(); err != nil {
			log.WithError(err).Warn("meshd: closing tcp listener")
		}
	}
	if e.discoverer != nil {
		e.discoverer.Close()
	}
	if e.udpSocket != nil {
		if err := e.udpSocket.Close(); err != nil {
			log.WithError(err).Warn("meshd: closing udp socket")
		}
	}
	for _, r := range e.tcpRelays {
		if err := r.Close(); err != nil {
			log.WithError(err).WithField("peer", r.RelayId()).Warn("meshd: closing tcp relay")
		}
	}
}

// dialPeer connects to a statically configured or rediscovered peer at
// address over TCP. It touches e.tcpRelays and e.graph directly, so it must
// only run either before Run starts or from within Run's own goroutine.
func (e *Engine) dialPeer(address string) {
	r, err := tcprelay.Dial(address, e.self, true, e.tcpEvents)
	if err != nil {
		log.WithFields(log.Fields{"addr": address, "error": err}).Warn("meshd: failed to dial peer")
		return
	}
	e.adoptTCPRelay(r)
}

// DialPeer is called before Run starts for the initial static peer list. It
// dials inline, exactly like dialPeer, since no run loop goroutine exists
// yet to race with.
func (e *Engine) DialPeer(address string) {
	e.dialPeer(address)
}

// RequestDial asks the running engine to dial address, safe to call from any
// goroutine once Run is underway — e.g. a config-reload watcher picking up a
// newly added peer.
func (e *Engine) RequestDial(address string) {
	e.dialRequest <- address
}

// RequestFlush registers onFlush to fire the next time the core's retention
// registry drains and every relay finishes sending, i.e. when there's
// nothing reliable still in flight. Safe to call from any goroutine once
// Run is underway.
func (e *Engine) RequestFlush(onFlush mesh.OnFlush) {
	e.flushRequest <- onFlush
}
