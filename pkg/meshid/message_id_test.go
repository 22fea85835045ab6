package meshid

import "testing"

func TestMessageIdEquality(t *testing.T) {
	a := NewNodeId()
	b := NewNodeId()

	if NewReliableBroadcastId(1) != NewReliableBroadcastId(1) {
		t.Fatal("identical reliable broadcast ids must compare equal")
	}
	if NewReliableBroadcastId(1) == NewReliableBroadcastId(2) {
		t.Fatal("differing sequence numbers must not compare equal")
	}
	if NewReliableUnicastId(a, 3) != NewReliableUnicastId(a, 3) {
		t.Fatal("identical syn ids must compare equal")
	}
	if NewReliableUnicastId(a, 3) == NewReliableUnicastId(b, 3) {
		t.Fatal("differing destinations must not compare equal")
	}
	if NewUnreliableBroadcastId("pos") != NewUnreliableBroadcastId("pos") {
		t.Fatal("identical user keys must compare equal")
	}
	if ForwardId != ForwardId {
		t.Fatal("ForwardId must be a stable sentinel")
	}
}

func TestMessageIdAsMapKey(t *testing.T) {
	m := map[MessageId]int{}
	m[NewReliableBroadcastId(1)] = 1
	m[NewReliableUnicastId(NewNodeId(), 1)] = 2

	if len(m) != 2 {
		t.Fatalf("expected 2 distinct keys, got %d", len(m))
	}
}

func TestMessageIdCompareOrdersByKindThenFields(t *testing.T) {
	if NewReliableBroadcastId(1).Compare(NewReliableBroadcastId(2)) >= 0 {
		t.Fatal("expected sn 1 to sort before sn 2")
	}
	if NewReliableBroadcastId(1).Compare(NewReliableUnicastId(NewNodeId(), 0)) >= 0 {
		t.Fatal("expected ReliableBroadcastKind to sort before ReliableUnicastKind")
	}
}
