package ack

import (
	"testing"

	"github.com/robjsp/meshcast/pkg/meshid"
)

type fakeEncoder struct {
	entries []Entry
}

func (f *fakeEncoder) EncodeAckEntry(target meshid.NodeId, typ Type, set AckSet) error {
	f.entries = append(f.entries, Entry{Source: target, Set: set})
	return nil
}

func TestOutboundAcksEncodeFewConsumesSelectedTargets(t *testing.T) {
	a, b := meshid.NewNodeId(), meshid.NewNodeId()

	o := NewOutboundAcks()
	o.Acknowledge(a, Broadcast, 1)
	o.Acknowledge(b, Broadcast, 1)

	enc := &fakeEncoder{}
	targets := map[meshid.NodeId]struct{}{a: {}}

	n, err := o.EncodeFew(enc, targets)
	if err != nil {
		t.Fatalf("EncodeFew: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one entry selected for target a, got %d", n)
	}
	if enc.entries[0].Source != a {
		t.Fatalf("expected encoded entry to belong to a, got %v", enc.entries[0].Source)
	}

	// b's ack is still owed, since it wasn't in the target subset.
	n, err = o.EncodeFew(enc, map[meshid.NodeId]struct{}{b: {}})
	if err != nil {
		t.Fatalf("EncodeFew: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected b's pending ack to still be owed, got %d entries", n)
	}
}

func TestOutboundAcksEntryConsumedNotResentWithoutProgress(t *testing.T) {
	a := meshid.NewNodeId()

	o := NewOutboundAcks()
	o.Acknowledge(a, Unicast, 5)

	enc := &fakeEncoder{}
	targets := map[meshid.NodeId]struct{}{a: {}}

	if n, _ := o.EncodeFew(enc, targets); n != 1 {
		t.Fatalf("expected the first EncodeFew to drain the entry, got %d", n)
	}
	if n, _ := o.EncodeFew(enc, targets); n != 0 {
		t.Fatalf("expected nothing owed until the ack advances, got %d", n)
	}

	o.Acknowledge(a, Unicast, 6)
	if n, _ := o.EncodeFew(enc, targets); n != 1 {
		t.Fatalf("expected the advanced ack to be owed again, got %d", n)
	}
}

func TestOutboundAcksAddAckEntryMerges(t *testing.T) {
	a := meshid.NewNodeId()

	o := NewOutboundAcks()
	o.Acknowledge(a, Broadcast, 1)

	foreign := New(Broadcast, 3)
	foreign.TryAdd(2)
	o.AddAckEntry(Entry{Source: a, Set: foreign})

	enc := &fakeEncoder{}
	o.EncodeFew(enc, map[meshid.NodeId]struct{}{a: {}})

	got := enc.entries[0].Set.Acked()
	if len(got) != 3 {
		t.Fatalf("expected the merged set to carry sns 1,2,3, got %v", got)
	}
}
