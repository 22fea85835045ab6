// Package mesh implements the per-node transport core: the reliable and
// unreliable broadcast state machine, the outbound retention registry, and
// the topology-driven routing table, all running on a single cooperative
// call stack with no internal locking.
package mesh

import (
	log "github.com/sirupsen/logrus"

	"github.com/robjsp/meshcast/pkg/ack"
	"github.com/robjsp/meshcast/pkg/meshid"
	"github.com/robjsp/meshcast/pkg/topology"
)

// OnReceive is invoked once per payload delivered to the application, after
// every ordering/reassembly guarantee for its MessageType has been met.
type OnReceive func(source meshid.NodeId, payload []byte)

// OnFlush is the single-shot callback registered through Flush.
type OnFlush func()

// Core orchestrates everything: routers, targets, the outbound retention
// registry, relays, and the ack aggregator. All entry points — application
// broadcasts, relay callbacks, topology updates, flush — must be driven
// from the same sequential caller; Core takes no locks and suspends on
// nothing.
type Core struct {
	self      meshid.NodeId
	onReceive OnReceive

	nextReliableBroadcastNumber meshid.SequenceNumber
	nextMessageNumber           meshid.SequenceNumber

	relays   []Relay
	messages map[meshid.MessageId]*OutMessage

	// targets doubles as the set of destinations this node has adopted
	// (the "known destination" membership test in AddTargetToTransport)
	// and as the per-remote-sender receive/replay state for each of them.
	targets map[meshid.NodeId]*Target

	outboundAcks *ack.OutboundAcks
	router       *topology.Router

	pendingFlush OnFlush

	// destroyed is the liveness sentinel: checked after every call out to
	// onReceive or pendingFlush, since either may reenter Core (including
	// to call Destroy) before returning to us.
	destroyed bool
}

// NewCore creates a transport core for self, delivering payloads through
// onReceive.
func NewCore(self meshid.NodeId, onReceive OnReceive) *Core {
	return &Core{
		self:         self,
		onReceive:    onReceive,
		messages:     make(map[meshid.MessageId]*OutMessage),
		targets:      make(map[meshid.NodeId]*Target),
		outboundAcks: ack.NewOutboundAcks(),
		router:       topology.NewRouter(self),
	}
}

// Id returns this node's identifier.
func (c *Core) Id() meshid.NodeId {
	return c.self
}

// Destroy flips the liveness sentinel. Any reentrant call still in flight
// on the stack, upon unwinding to Core, must stop touching Core state.
func (c *Core) Destroy() {
	c.destroyed = true
}

// RegisterRelay adds a relay collaborator. Registration is synchronous and
// expected to happen before any topology reset references it.
func (c *Core) RegisterRelay(r Relay) {
	c.relays = append(c.relays, r)
}

// UnregisterRelay removes a previously registered relay.
func (c *Core) UnregisterRelay(r Relay) {
	for i, existing := range c.relays {
		if existing == r {
			c.relays = append(c.relays[:i], c.relays[i+1:]...)
			return
		}
	}
}

// deliver invokes the application callback and reports whether Core is
// still alive afterward; callers must stop all further mutation the moment
// this returns false.
func (c *Core) deliver(source meshid.NodeId, payload []byte) bool {
	c.onReceive(source, payload)
	return !c.destroyed
}

func (c *Core) snapshotTargets() map[meshid.NodeId]struct{} {
	out := make(map[meshid.NodeId]struct{}, len(c.targets))
	for k := range c.targets {
		out[k] = struct{}{}
	}
	return out
}

// publish hands msg to every registered relay unconditionally; each relay
// filters against its own adopted target set when it actually serializes.
func (c *Core) publish(id meshid.MessageId, msg *OutMessage) {
	for _, r := range c.relays {
		msg.refCount++
		r.InsertMessage(id, msg)
	}
}

// --- outbound path -----------------------------------------------------

// BroadcastReliable allocates the next reliable-broadcast sequence number,
// registers the message for retention, and publishes it to every relay.
func (c *Core) BroadcastReliable(data []byte) {
	sn := c.nextReliableBroadcastNumber
	c.nextReliableBroadcastNumber = c.nextReliableBroadcastNumber.Next()

	id := meshid.NewReliableBroadcastId(sn)
	msg := NewOutMessage(c.self, true, meshid.ReliableBroadcast, sn, c.snapshotTargets(), data)
	c.messages[id] = msg
	c.publish(id, msg)

	log.WithFields(log.Fields{"sn": sn, "targets": len(msg.Targets)}).Debug("mesh: broadcast reliable")
}

// BroadcastUnreliable publishes data under userKey to every current
// destination, coalescing with any same-keyed message still queued.
func (c *Core) BroadcastUnreliable(userKey string, data []byte) {
	c.broadcastUnreliable(userKey, data, nil)
}

// BroadcastUnreliableTo is the explicit-targets form of BroadcastUnreliable.
func (c *Core) BroadcastUnreliableTo(userKey string, data []byte, targets map[meshid.NodeId]struct{}) {
	c.broadcastUnreliable(userKey, data, targets)
}

func (c *Core) broadcastUnreliable(userKey string, data []byte, explicitTargets map[meshid.NodeId]struct{}) {
	id := meshid.NewUnreliableBroadcastId(userKey)

	if msg, ok := c.messages[id]; ok {
		msg.SetPayload(data)
		log.WithField("user_key", userKey).Debug("mesh: coalesced unreliable broadcast still queued")
		return
	}

	sn := c.nextMessageNumber
	c.nextMessageNumber = c.nextMessageNumber.Next()

	targets := explicitTargets
	if targets == nil {
		targets = c.snapshotTargets()
	}

	msg := NewOutMessage(c.self, false, meshid.UnreliableBroadcast, sn, targets, data)
	c.messages[id] = msg
	c.publish(id, msg)
}

// AddTargetToTransport asks relay to adopt newTarget. If newTarget is new
// to this node entirely, a syn is minted and published to every relay so
// the peer learns our base sequence number. If it was already known but
// routed through a different relay, every live message still addressed to
// it is also enqueued on relay, so delivery survives the old relay
// dropping the target.
func (c *Core) AddTargetToTransport(relay Relay, newTarget meshid.NodeId) {
	if !relay.AddTarget(newTarget) {
		return
	}

	if _, known := c.targets[newTarget]; known {
		for id, msg := range c.messages {
			if msg.HasTarget(newTarget) {
				msg.refCount++
				relay.InsertMessage(id, msg)
			}
		}
		return
	}

	c.targets[newTarget] = NewTarget()

	// Deliberately not incremented: a subsequent BroadcastReliable shares
	// this sequence number with the syn, and the receiver seeds its sync one
	// below it, so that broadcast is the first one it delivers.
	sn := c.nextReliableBroadcastNumber

	id := meshid.NewReliableUnicastId(newTarget, sn)
	msg := NewOutMessage(c.self, true, meshid.Syn, sn, map[meshid.NodeId]struct{}{newTarget: {}}, nil)
	c.messages[id] = msg
	c.publish(id, msg)

	log.WithFields(log.Fields{"target": newTarget, "sn": sn}).Debug("mesh: syn published to new target")
}

// Release is invoked by a relay when it is done holding msg — either it
// finished transmitting, or it dropped the target. refCount tracks how
// many relay queues still reference the message, standing in for the
// shared_ptr use-count this design was ported from. Once no relay holds
// it, an unreliable message leaves the registry; a reliable message stays
// until every target has acked it, and OnReceiveAcks removes it then.
func (c *Core) Release(id meshid.MessageId, msg *OutMessage) {
	if msg.Source != c.self {
		return
	}
	if _, ok := c.messages[id]; !ok {
		return
	}

	msg.refCount--
	if msg.refCount > 0 {
		return
	}
	if msg.Reliable && !msg.Exhausted() {
		return
	}

	delete(c.messages, id)
}

// --- topology ------------------------------------------------------------

// ResetTopology clears every relay's adopted targets, recomputes shortest
// paths from self over graph, and re-adopts every reachable destination on
// whichever relay connects to its first hop.
func (c *Core) ResetTopology(graph *topology.Graph) {
	for _, r := range c.relays {
		r.ClearTargets()
	}

	firstHops, err := c.router.FirstHops(graph)
	if err != nil {
		log.WithError(err).Warn("mesh: shortest-path computation failed")
		return
	}

	for _, dest := range graph.Nodes() {
		if dest == c.self {
			continue
		}

		hop, reachable := firstHops[dest]
		if !reachable {
			continue
		}

		relay := c.relayFor(hop)
		if relay == nil {
			log.WithField("target", dest).Debug(errUnroutableTarget)
			continue
		}

		c.AddTargetToTransport(relay, dest)
	}
}

func (c *Core) relayFor(relayId meshid.NodeId) Relay {
	for _, r := range c.relays {
		if r.RelayId() == relayId {
			return r
		}
	}
	return nil
}

// --- inbound path ----------------------------------------------------

// OnReceivePart handles one piece of a possibly-split message. A part that
// already covers the whole message is lifted straight to OnReceiveFull.
func (c *Core) OnReceivePart(p InMessagePart) {
	if p.IsFull() {
		c.OnReceiveFull(p.full())
		return
	}

	switch p.Type {
	case meshid.ReliableBroadcast, meshid.UnreliableBroadcast:
	default:
		return
	}

	target, ok := c.targets[p.Source]
	if !ok {
		log.WithField("source", p.Source).Debug(errUnknownSource)
		return
	}
	if !target.Synced() {
		log.WithField("source", p.Source).Debug(errNotSynced)
		return
	}
	if !target.acks.CanAdd(p.SequenceNumber) {
		log.WithField("source", p.Source).Debug(errOutsideWindow)
		return
	}

	pm, ok := target.pending[p.SequenceNumber]
	if !ok {
		pm = newPendingMessage(p)
		target.pending[p.SequenceNumber] = pm
	} else {
		pm.merge(p)
	}

	if pm.complete() {
		delete(target.pending, p.SequenceNumber)
		c.OnReceiveFull(pm.full(p.Source))
	}
}

// OnReceiveFull handles one fully assembled inbound message.
func (c *Core) OnReceiveFull(msg InMessageFull) {
	target, ok := c.targets[msg.Source]
	if !ok {
		log.WithField("source", msg.Source).Debug(errUnknownSource)
		return
	}

	switch msg.Type {
	case meshid.ReliableBroadcast:
		c.onReceiveReliableBroadcast(target, msg)
	case meshid.UnreliableBroadcast:
		c.onReceiveUnreliableBroadcast(target, msg)
	case meshid.Syn:
		c.onReceiveSyn(target, msg)
	default:
		log.WithField("type", msg.Type).Error(errUnknownType)
	}
}

func (c *Core) onReceiveReliableBroadcast(target *Target, msg InMessageFull) {
	if !target.Synced() {
		log.WithField("source", msg.Source).Debug(errNotSynced)
		return
	}

	if !target.acks.TryAdd(msg.SequenceNumber) {
		log.WithFields(log.Fields{"source": msg.Source, "sn": msg.SequenceNumber}).Debug(errDuplicateSn)
		return
	}
	c.outboundAcks.Acknowledge(msg.Source, ack.Broadcast, msg.SequenceNumber)

	next := target.lastExecuted.Next()
	switch {
	case msg.SequenceNumber == next:
		target.lastExecuted = next
		if !c.deliver(msg.Source, msg.Payload) {
			return
		}
		c.replayPendingMessages(msg.Source, target)

	case next.Less(msg.SequenceNumber):
		target.pending[msg.SequenceNumber] = newCompletePendingMessage(msg)

	default:
		// <= last_executed: already delivered.
	}
}

func (c *Core) onReceiveUnreliableBroadcast(target *Target, msg InMessageFull) {
	if !target.Synced() {
		log.WithField("source", msg.Source).Debug(errNotSynced)
		return
	}
	c.deliver(msg.Source, msg.Payload)
}

func (c *Core) onReceiveSyn(target *Target, msg InMessageFull) {
	c.outboundAcks.Acknowledge(msg.Source, ack.Unicast, msg.SequenceNumber)

	if target.Synced() {
		return
	}
	target.initSync(msg.SequenceNumber)

	log.WithFields(log.Fields{"source": msg.Source, "sn": msg.SequenceNumber}).Debug("mesh: target synced")
}

// replayPendingMessages delivers every contiguous, fully-assembled entry
// following last_executed, stopping at the first gap or partial-only
// entry. It must abandon immediately if deliver reports Core was
// destroyed mid-replay.
func (c *Core) replayPendingMessages(source meshid.NodeId, target *Target) {
	for {
		next := target.lastExecuted.Next()

		pm, ok := target.pending[next]
		if !ok || !pm.complete() {
			return
		}

		delete(target.pending, next)
		target.lastExecuted = next

		if !c.deliver(source, pm.buf) {
			return
		}
	}
}

// --- acks and forwarding ----------------------------------------------

// OnReceiveAcks clears source from the targets of every message the set
// acknowledges, removing the retention entry once its targets are empty.
func (c *Core) OnReceiveAcks(source meshid.NodeId, set ack.AckSet) {
	ackedSome := false

	for _, sn := range set.Acked() {
		var id meshid.MessageId
		switch set.Type() {
		case ack.Broadcast:
			id = meshid.NewReliableBroadcastId(sn)
		case ack.Unicast:
			id = meshid.NewReliableUnicastId(source, sn)
		}

		msg, ok := c.messages[id]
		if !ok {
			continue
		}

		msg.RemoveTarget(source)
		if msg.Exhausted() {
			delete(c.messages, id)
		}
		ackedSome = true
	}

	if ackedSome {
		c.tryFlush()
	}
}

// ForwardMessage re-publishes a foreign part as a best-effort, unretained
// message. Forwards are never registered in the retention registry and
// always share the ForwardId sentinel identity.
func (c *Core) ForwardMessage(part InMessagePart) {
	msg := NewOutMessage(part.Source, false, part.Type, part.SequenceNumber, nil, part.Payload)
	c.publish(meshid.ForwardId, msg)
}

// AddAckEntry merges a fully-formed foreign ack set into what's owed back
// to its source, used while forwarding acks along.
func (c *Core) AddAckEntry(entry ack.Entry) {
	c.outboundAcks.AddAckEntry(entry)
}

// EncodeAcks drains up to the outbound aggregator's budget of pending ack
// entries addressed to targets through enc.
func (c *Core) EncodeAcks(enc ack.Encoder, targets map[meshid.NodeId]struct{}) (int, error) {
	return c.outboundAcks.EncodeFew(enc, targets)
}

// --- flush barrier -----------------------------------------------------

// Flush registers a single-shot callback fired the next time try_flush
// observes the registry empty and no relay sending. It does not itself
// check that condition; quiescence must already hold or be reached by a
// later ack.
func (c *Core) Flush(onFlush OnFlush) {
	c.pendingFlush = onFlush
}

func (c *Core) tryFlush() {
	if c.pendingFlush == nil {
		return
	}
	if len(c.messages) != 0 {
		return
	}
	for _, r := range c.relays {
		if r.IsSending() {
			return
		}
	}

	cb := c.pendingFlush
	c.pendingFlush = nil
	cb()
}
