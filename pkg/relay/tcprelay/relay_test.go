package tcprelay

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/robjsp/meshcast/pkg/mesh"
	"github.com/robjsp/meshcast/pkg/meshid"
)

func getRandomPort(t *testing.T) int {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Close() }()

	return l.Addr().(*net.TCPAddr).Port
}

func TestDialListenHandshakeIdentifiesPeer(t *testing.T) {
	port := getRandomPort(t)
	self, dialer := meshid.NewNodeId(), meshid.NewNodeId()

	servEvents := make(chan Event, 8)
	listener, err := Listen(fmt.Sprintf("localhost:%d", port), self, servEvents)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer func() { _ = listener.Close() }()

	clientEvents := make(chan Event, 8)
	client, err := Dial(fmt.Sprintf("localhost:%d", port), dialer, false, clientEvents)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	if client.RelayId() != self {
		t.Fatalf("client learned relay id %v, want %v", client.RelayId(), self)
	}

	select {
	case serverSide := <-listener.Accepted:
		if serverSide.RelayId() != dialer {
			t.Fatalf("server learned relay id %v, want %v", serverSide.RelayId(), dialer)
		}
	case <-time.After(time.Second):
		t.Fatal("server never accepted the connection")
	}
}

func TestInsertMessageDeliversAsPart(t *testing.T) {
	port := getRandomPort(t)
	self, dialer := meshid.NewNodeId(), meshid.NewNodeId()

	servEvents := make(chan Event, 8)
	listener, err := Listen(fmt.Sprintf("localhost:%d", port), self, servEvents)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer func() { _ = listener.Close() }()

	clientEvents := make(chan Event, 8)
	client, err := Dial(fmt.Sprintf("localhost:%d", port), dialer, false, clientEvents)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	serverSide := <-listener.Accepted
	defer func() { _ = serverSide.Close() }()

	dest := meshid.NewNodeId()
	client.AddTarget(dest)

	msg := mesh.NewOutMessage(dialer, true, meshid.ReliableBroadcast, 0,
		map[meshid.NodeId]struct{}{dest: {}}, []byte("hello"))
	client.InsertMessage(meshid.NewReliableBroadcastId(0), msg)

	select {
	case ev := <-servEvents:
		if ev.Part == nil || string(ev.Part.Payload) != "hello" {
			t.Fatalf("expected a Part event carrying the payload, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("server never observed the part")
	}

	select {
	case ev := <-clientEvents:
		if ev.Released == nil || ev.Released.Msg != msg {
			t.Fatalf("expected a release event for the sent message, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("client never released the message after sending")
	}
}

func TestInsertMessageWithNoAdoptedTargetReleasesImmediately(t *testing.T) {
	port := getRandomPort(t)
	self, dialer := meshid.NewNodeId(), meshid.NewNodeId()

	servEvents := make(chan Event, 8)
	listener, err := Listen(fmt.Sprintf("localhost:%d", port), self, servEvents)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer func() { _ = listener.Close() }()

	clientEvents := make(chan Event, 8)
	client, err := Dial(fmt.Sprintf("localhost:%d", port), dialer, false, clientEvents)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	<-listener.Accepted

	msg := mesh.NewOutMessage(dialer, true, meshid.ReliableBroadcast, 0,
		map[meshid.NodeId]struct{}{meshid.NewNodeId(): {}}, []byte("never adopted"))
	client.InsertMessage(meshid.NewReliableBroadcastId(0), msg)

	select {
	case ev := <-clientEvents:
		if ev.Released == nil {
			t.Fatalf("expected an immediate release event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no release event for an unadopted target")
	}
}
