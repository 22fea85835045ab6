package wire

import (
	"bytes"
	"testing"

	"github.com/dtn7/cboring"

	"github.com/robjsp/meshcast/pkg/ack"
	"github.com/robjsp/meshcast/pkg/meshid"
)

func TestEnvelopeRoundTripPart(t *testing.T) {
	env := &Envelope{
		Kind: PartFrame,
		Part: &Part{
			Source:         meshid.NewNodeId(),
			Type:           meshid.ReliableBroadcast,
			SequenceNumber: 7,
			OriginalSize:   3,
			Payload:        []byte("abc"),
		},
	}

	buf := new(bytes.Buffer)
	if err := cboring.Marshal(env, buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out Envelope
	if err := cboring.Unmarshal(&out, buf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if out.Kind != PartFrame || out.Part == nil || out.Ack != nil {
		t.Fatalf("unexpected envelope shape: %+v", out)
	}
	if out.Part.Source != env.Part.Source || string(out.Part.Payload) != "abc" {
		t.Fatalf("Part round-trip mismatch: %+v", out.Part)
	}
}

func TestEnvelopeRoundTripAck(t *testing.T) {
	target := meshid.NewNodeId()
	set := ack.New(ack.Unicast, 4)

	env := &Envelope{Kind: AckFrame, Ack: &AckEntry{Target: target, Type: ack.Unicast, Set: set}}

	buf := new(bytes.Buffer)
	if err := cboring.Marshal(env, buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out Envelope
	if err := cboring.Unmarshal(&out, buf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if out.Kind != AckFrame || out.Ack == nil || out.Part != nil {
		t.Fatalf("unexpected envelope shape: %+v", out)
	}
	if out.Ack.Target != target || out.Ack.Set.Hi() != 4 {
		t.Fatalf("Ack round-trip mismatch: %+v", out.Ack)
	}
}
