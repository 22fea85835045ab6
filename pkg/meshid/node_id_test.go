package meshid

import "testing"

func TestNodeIdRoundTrip(t *testing.T) {
	n := NewNodeId()

	parsed, err := ParseNodeId(n.String())
	if err != nil {
		t.Fatalf("ParseNodeId: %v", err)
	}
	if parsed != n {
		t.Fatalf("round trip mismatch: %v != %v", parsed, n)
	}

	fromBytes, err := NodeIdFromBytes(n.Bytes())
	if err != nil {
		t.Fatalf("NodeIdFromBytes: %v", err)
	}
	if fromBytes != n {
		t.Fatalf("byte round trip mismatch: %v != %v", fromBytes, n)
	}
}

func TestNodeIdCompareTotalOrder(t *testing.T) {
	a, b := NewNodeId(), NewNodeId()
	if a == b {
		t.Skip("collided, vanishingly unlikely")
	}

	if a.Compare(a) != 0 {
		t.Fatal("a node must compare equal to itself")
	}
	if a.Compare(b) == b.Compare(a) {
		t.Fatal("Compare must be antisymmetric for distinct ids")
	}
}
