package udprelay

import (
	"testing"
	"time"

	"github.com/robjsp/meshcast/pkg/mesh"
	"github.com/robjsp/meshcast/pkg/meshid"
)

func TestInsertMessageDeliversDatagram(t *testing.T) {
	aEvents := make(chan Event, 8)
	bEvents := make(chan Event, 8)

	socketA, err := NewSocket("localhost:0", aEvents)
	if err != nil {
		t.Fatalf("NewSocket A: %v", err)
	}
	defer func() { _ = socketA.Close() }()

	socketB, err := NewSocket("localhost:0", bEvents)
	if err != nil {
		t.Fatalf("NewSocket B: %v", err)
	}
	defer func() { _ = socketB.Close() }()

	self := meshid.NewNodeId()
	core := mesh.NewCore(self, func(meshid.NodeId, []byte) {})

	dest := meshid.NewNodeId()
	relay := New(socketA, core, meshid.NewNodeId(), socketB.LocalAddr())
	relay.AddTarget(dest)

	msg := mesh.NewOutMessage(self, false, meshid.UnreliableBroadcast, 3,
		map[meshid.NodeId]struct{}{dest: {}}, []byte("pos"))
	relay.InsertMessage(meshid.NewUnreliableBroadcastId("pos"), msg)

	select {
	case ev := <-bEvents:
		if ev.Part == nil || string(ev.Part.Payload) != "pos" {
			t.Fatalf("expected a Part event carrying the payload, got %+v", ev)
		}
		if ev.Part.Source != self {
			t.Fatalf("expected the source preserved on the wire, got %v", ev.Part.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("peer socket never observed the datagram")
	}
}

func TestInsertMessageWithNoAdoptedTargetSendsNothing(t *testing.T) {
	aEvents := make(chan Event, 8)
	bEvents := make(chan Event, 8)

	socketA, err := NewSocket("localhost:0", aEvents)
	if err != nil {
		t.Fatalf("NewSocket A: %v", err)
	}
	defer func() { _ = socketA.Close() }()

	socketB, err := NewSocket("localhost:0", bEvents)
	if err != nil {
		t.Fatalf("NewSocket B: %v", err)
	}
	defer func() { _ = socketB.Close() }()

	self := meshid.NewNodeId()
	core := mesh.NewCore(self, func(meshid.NodeId, []byte) {})

	relay := New(socketA, core, meshid.NewNodeId(), socketB.LocalAddr())
	// Deliberately not adopting any target.

	msg := mesh.NewOutMessage(self, false, meshid.UnreliableBroadcast, 1,
		map[meshid.NodeId]struct{}{meshid.NewNodeId(): {}}, []byte("unsolicited"))
	relay.InsertMessage(meshid.NewUnreliableBroadcastId("unsolicited"), msg)

	select {
	case ev := <-bEvents:
		t.Fatalf("expected no datagram for an unadopted target, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
