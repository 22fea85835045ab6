package meshid

import "testing"

func TestSequenceNumberLess(t *testing.T) {
	tests := []struct {
		a, b SequenceNumber
		less bool
	}{
		{0, 1, true},
		{1, 0, false},
		{0, 0, false},
		{^SequenceNumber(0), 0, true},  // wrap-around: max value precedes 0
		{0, ^SequenceNumber(0), false}, // and 0 does not precede max
	}

	for _, test := range tests {
		if got := test.a.Less(test.b); got != test.less {
			t.Errorf("(%d).Less(%d) = %t, want %t", test.a, test.b, got, test.less)
		}
	}
}

func TestSequenceNumberCompare(t *testing.T) {
	if SequenceNumber(5).Compare(5) != 0 {
		t.Fatal("expected equal sequence numbers to compare 0")
	}
	if SequenceNumber(4).Compare(5) >= 0 {
		t.Fatal("expected 4 to compare less than 5")
	}
	if SequenceNumber(5).Compare(4) <= 0 {
		t.Fatal("expected 5 to compare greater than 4")
	}
}
