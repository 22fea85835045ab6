package udprelay

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"

	"github.com/robjsp/meshcast/pkg/meshid"
)

// Announcement is what a node broadcasts over LAN multicast so other nodes
// can discover it without static configuration: its identity and the UDP
// port its Socket listens on.
type Announcement struct {
	NodeId meshid.NodeId
	Port   uint16
}

// MarshalCbor writes an Announcement as a 2-element CBOR array.
func (a *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteByteString(a.NodeId.Bytes(), w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(a.Port), w)
}

// UnmarshalCbor reads an Announcement back from its CBOR array form.
func (a *Announcement) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("udprelay: Announcement expected array of length 2, got %d", n)
	}

	idBytes, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}
	id, err := meshid.NodeIdFromBytes(idBytes)
	if err != nil {
		return err
	}

	port, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	a.NodeId = id
	a.Port = uint16(port)
	return nil
}

func (a Announcement) String() string {
	return fmt.Sprintf("Announcement(%s,%d)", a.NodeId, a.Port)
}
