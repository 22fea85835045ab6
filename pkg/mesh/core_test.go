package mesh

import (
	"testing"

	"github.com/robjsp/meshcast/pkg/ack"
	"github.com/robjsp/meshcast/pkg/meshid"
	"github.com/robjsp/meshcast/pkg/topology"
)

func TestScenarioSynThenInOrderBroadcast(t *testing.T) {
	a, b := meshid.NewNodeId(), meshid.NewNodeId()

	coreA := NewCore(a, func(meshid.NodeId, []byte) {})
	relayAToB := newMockRelay(b)
	coreA.RegisterRelay(relayAToB)
	coreA.AddTargetToTransport(relayAToB, b)

	if len(relayAToB.inserted) != 1 {
		t.Fatalf("expected exactly the syn published to the new target, got %d", len(relayAToB.inserted))
	}
	synMsg := relayAToB.inserted[0].msg

	coreA.BroadcastReliable([]byte("hello"))
	if len(relayAToB.inserted) != 2 {
		t.Fatalf("expected the broadcast published too, got %d", len(relayAToB.inserted))
	}
	broadcastMsg := relayAToB.inserted[1].msg

	var delivered []string
	coreB := NewCore(b, func(source meshid.NodeId, payload []byte) {
		delivered = append(delivered, string(payload))
	})
	relayBToA := newMockRelay(a)
	coreB.AddTargetToTransport(relayBToA, a)

	coreB.OnReceiveFull(InMessageFull{Source: a, Type: meshid.Syn, SequenceNumber: synMsg.SequenceNumber})

	target := coreB.targets[a]
	if !target.Synced() {
		t.Fatal("expected B to be synced with A after processing its syn")
	}

	coreB.OnReceiveFull(InMessageFull{
		Source:         a,
		Type:           meshid.ReliableBroadcast,
		SequenceNumber: broadcastMsg.SequenceNumber,
		Payload:        broadcastMsg.Payload,
	})

	if len(delivered) != 1 || delivered[0] != "hello" {
		t.Fatalf("expected hello delivered exactly once, got %v", delivered)
	}
}

func TestScenarioOutOfOrderThenReplay(t *testing.T) {
	a, b := meshid.NewNodeId(), meshid.NewNodeId()

	var delivered []meshid.SequenceNumber
	coreB := NewCore(b, func(_ meshid.NodeId, payload []byte) {
		delivered = append(delivered, meshid.SequenceNumber(payload[0]))
	})
	coreB.AddTargetToTransport(newMockRelay(a), a)

	// syn sn=1 establishes last_executed=0, so the next expected broadcast is 1.
	coreB.OnReceiveFull(InMessageFull{Source: a, Type: meshid.Syn, SequenceNumber: 1})

	full := func(sn meshid.SequenceNumber) InMessageFull {
		return InMessageFull{Source: a, Type: meshid.ReliableBroadcast, SequenceNumber: sn, Payload: []byte{byte(sn)}}
	}

	coreB.OnReceiveFull(full(3))
	if len(delivered) != 0 {
		t.Fatalf("sn=3 arriving first must not deliver anything yet, got %v", delivered)
	}

	coreB.OnReceiveFull(full(1))
	if got := []meshid.SequenceNumber{1}; !equalSns(delivered, got) {
		t.Fatalf("expected only sn=1 delivered, got %v", delivered)
	}

	coreB.OnReceiveFull(full(2))
	want := []meshid.SequenceNumber{1, 2, 3}
	if !equalSns(delivered, want) {
		t.Fatalf("expected replay to deliver 2 then 3, got %v, want %v", delivered, want)
	}

	target := coreB.targets[a]
	if len(target.pending) != 0 {
		t.Fatalf("expected the pending buffer drained after replay, got %d entries", len(target.pending))
	}
}

func equalSns(got, want []meshid.SequenceNumber) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestScenarioDuplicateSuppression(t *testing.T) {
	a, b := meshid.NewNodeId(), meshid.NewNodeId()

	deliveries := 0
	coreB := NewCore(b, func(meshid.NodeId, []byte) { deliveries++ })
	coreB.AddTargetToTransport(newMockRelay(a), a)
	coreB.OnReceiveFull(InMessageFull{Source: a, Type: meshid.Syn, SequenceNumber: 1})

	msg := InMessageFull{Source: a, Type: meshid.ReliableBroadcast, SequenceNumber: 1, Payload: []byte("x")}
	coreB.OnReceiveFull(msg)
	coreB.OnReceiveFull(msg)

	if deliveries != 1 {
		t.Fatalf("expected exactly one delivery for a duplicate sn, got %d", deliveries)
	}
}

func TestScenarioRetentionAndRelease(t *testing.T) {
	a, b, c := meshid.NewNodeId(), meshid.NewNodeId(), meshid.NewNodeId()

	core := NewCore(a, func(meshid.NodeId, []byte) {})
	relayB := newMockRelay(b)
	relayC := newMockRelay(c)
	core.RegisterRelay(relayB)
	core.RegisterRelay(relayC)
	core.AddTargetToTransport(relayB, b)
	core.AddTargetToTransport(relayC, c)

	// Each new target was sent a syn (sn 0), which stays registered until
	// that target acks it; ack both so only the broadcast is outstanding.
	core.OnReceiveAcks(b, ack.New(ack.Unicast, 0))
	core.OnReceiveAcks(c, ack.New(ack.Unicast, 0))

	core.BroadcastReliable([]byte("data"))
	id := meshid.NewReliableBroadcastId(0)

	flushed := false
	core.Flush(func() { flushed = true })

	bSet := ack.New(ack.Broadcast, 0)
	core.OnReceiveAcks(b, bSet)

	if _, ok := core.messages[id]; !ok {
		t.Fatal("expected the message still retained: C has not acked yet")
	}
	if flushed {
		t.Fatal("flush must not fire while the registry is non-empty")
	}

	cSet := ack.New(ack.Broadcast, 0)
	core.OnReceiveAcks(c, cSet)

	if _, ok := core.messages[id]; ok {
		t.Fatal("expected the message removed from the registry once every target acked")
	}
	if !flushed {
		t.Fatal("expected flush to fire once the registry emptied and no relay is sending")
	}
}

func TestScenarioTopologySwap(t *testing.T) {
	a, b := meshid.NewNodeId(), meshid.NewNodeId()

	core := NewCore(a, func(meshid.NodeId, []byte) {})
	r1 := newMockRelay(meshid.NewNodeId())
	r2 := newMockRelay(meshid.NewNodeId())
	core.RegisterRelay(r1)
	core.RegisterRelay(r2)

	core.AddTargetToTransport(r1, b)
	core.BroadcastReliable([]byte("still in flight"))

	beforeSwap := len(r2.inserted)
	core.AddTargetToTransport(r2, b)

	if len(r2.inserted) <= beforeSwap {
		t.Fatal("expected every live message addressed to b to be re-enqueued on the new relay")
	}

	found := false
	for _, im := range r2.inserted {
		if im.msg.HasTarget(b) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the re-enqueued message to still list b as a target")
	}
}

func TestScenarioCoalescingUnreliable(t *testing.T) {
	a := meshid.NewNodeId()

	core := NewCore(a, func(meshid.NodeId, []byte) {})
	relay := newMockRelay(meshid.NewNodeId())
	core.RegisterRelay(relay)

	core.BroadcastUnreliable("pos", []byte("v1"))
	core.BroadcastUnreliable("pos", []byte("v2"))

	if len(relay.inserted) != 1 {
		t.Fatalf("expected exactly one message ever enqueued, got %d", len(relay.inserted))
	}
	if string(relay.inserted[0].msg.Payload) != "v2" {
		t.Fatalf("expected the coalesced payload to read v2, got %q", relay.inserted[0].msg.Payload)
	}
}

func TestResetTopologyRoutesReachableNodes(t *testing.T) {
	self, mid, far := meshid.NewNodeId(), meshid.NewNodeId(), meshid.NewNodeId()

	core := NewCore(self, func(meshid.NodeId, []byte) {})
	relayToMid := newMockRelay(mid)
	core.RegisterRelay(relayToMid)

	g := topology.NewGraph()
	g.AddUnitEdge(self, mid)
	g.AddUnitEdge(mid, far)

	core.ResetTopology(g)

	if _, ok := relayToMid.adopted[mid]; !ok {
		t.Fatal("expected the directly-connected node adopted on its relay")
	}
	if _, ok := relayToMid.adopted[far]; !ok {
		t.Fatal("expected the far node routed through the relay reaching its first hop")
	}
}

func TestOnReceivePartReassemblesSplitMessage(t *testing.T) {
	a, b := meshid.NewNodeId(), meshid.NewNodeId()

	var delivered []byte
	coreB := NewCore(b, func(_ meshid.NodeId, payload []byte) { delivered = payload })
	coreB.AddTargetToTransport(newMockRelay(a), a)
	coreB.OnReceiveFull(InMessageFull{Source: a, Type: meshid.Syn, SequenceNumber: 1})

	full := []byte("hello world")
	coreB.OnReceivePart(InMessagePart{
		Source: a, Type: meshid.ReliableBroadcast, SequenceNumber: 1,
		OriginalSize: uint64(len(full)), ChunkStart: 6, Payload: full[6:],
	})
	if delivered != nil {
		t.Fatal("expected no delivery until every chunk has arrived")
	}

	coreB.OnReceivePart(InMessagePart{
		Source: a, Type: meshid.ReliableBroadcast, SequenceNumber: 1,
		OriginalSize: uint64(len(full)), ChunkStart: 0, Payload: full[:6],
	})
	if string(delivered) != string(full) {
		t.Fatalf("delivered = %q, want %q", delivered, full)
	}
}
