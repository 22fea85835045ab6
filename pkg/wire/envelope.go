package wire

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Kind discriminates the two frame payloads a relay connection multiplexes
// onto one byte stream.
type Kind uint8

const (
	PartFrame Kind = iota
	AckFrame
)

// Envelope is the outermost wire unit a relay connection exchanges: exactly
// one of Part or Ack is populated, selected by Kind.
type Envelope struct {
	Kind Kind
	Part *Part
	Ack  *AckEntry
}

// MarshalCbor writes an Envelope as a 2-element CBOR array: the kind tag,
// then the tagged payload's own array encoding.
func (e *Envelope) MarshalCbor(w io.Writer) (err error) {
	if err = cboring.WriteArrayLength(2, w); err != nil {
		return
	}
	if err = cboring.WriteUInt(uint64(e.Kind), w); err != nil {
		return
	}

	switch e.Kind {
	case PartFrame:
		return e.Part.MarshalCbor(w)
	case AckFrame:
		return e.Ack.MarshalCbor(w)
	default:
		return fmt.Errorf("wire: unknown envelope kind %d", e.Kind)
	}
}

// UnmarshalCbor reads an Envelope back, allocating whichever of Part or Ack
// the kind tag names.
func (e *Envelope) UnmarshalCbor(r io.Reader) (err error) {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("wire: Envelope expected array of length 2, got %d", n)
	}

	kind, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	e.Kind = Kind(kind)

	switch e.Kind {
	case PartFrame:
		e.Part = new(Part)
		return e.Part.UnmarshalCbor(r)
	case AckFrame:
		e.Ack = new(AckEntry)
		return e.Ack.UnmarshalCbor(r)
	default:
		return fmt.Errorf("wire: unknown envelope kind %d", e.Kind)
	}
}
