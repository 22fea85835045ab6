package udprelay

import (
	"bytes"
	"testing"

	"github.com/dtn7/cboring"

	"github.com/robjsp/meshcast/pkg/meshid"
)

func TestAnnouncementCbor(t *testing.T) {
	tests := []Announcement{
		{NodeId: meshid.NewNodeId(), Port: 8000},
		{NodeId: meshid.NewNodeId(), Port: 65535},
		{NodeId: meshid.Nil, Port: 0},
	}

	for _, in := range tests {
		buf := new(bytes.Buffer)
		if err := cboring.Marshal(&in, buf); err != nil {
			t.Fatalf("Marshal: %v", err)
		}

		var out Announcement
		if err := cboring.Unmarshal(&out, bytes.NewReader(buf.Bytes())); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}

		if out.NodeId != in.NodeId || out.Port != in.Port {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", out, in)
		}
	}
}
