// Package wire provides the CBOR encoding of ack entries and message
// parts the mesh core delegates to, grounded in the cboring-based framing
// dtn7-go's pkg/cla/soclp uses for its own tagged wire messages.
package wire

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"

	"github.com/robjsp/meshcast/pkg/ack"
	"github.com/robjsp/meshcast/pkg/meshid"
)

// AckEntry is the wire representation of one (target, ack_type, AckSet)
// tuple.
type AckEntry struct {
	Target meshid.NodeId
	Type   ack.Type
	Set    ack.AckSet
}

// MarshalCbor writes an AckEntry as a 4-element CBOR array: target bytes,
// ack type, high-water sequence number, bitmask.
func (e *AckEntry) MarshalCbor(w io.Writer) (err error) {
	if err = cboring.WriteArrayLength(4, w); err != nil {
		return
	}
	if err = cboring.WriteByteString(e.Target.Bytes(), w); err != nil {
		return
	}
	if err = cboring.WriteUInt(uint64(e.Type), w); err != nil {
		return
	}
	if err = cboring.WriteUInt(uint64(e.Set.Hi()), w); err != nil {
		return
	}
	return cboring.WriteUInt(uint64(e.Set.Mask()), w)
}

// UnmarshalCbor reads an AckEntry back from its CBOR array form.
func (e *AckEntry) UnmarshalCbor(r io.Reader) (err error) {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	if n != 4 {
		return fmt.Errorf("wire: AckEntry expected array of length 4, got %d", n)
	}

	targetBytes, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}
	target, err := meshid.NodeIdFromBytes(targetBytes)
	if err != nil {
		return err
	}

	typ, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	hi, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	mask, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	e.Target = target
	e.Type = ack.Type(typ)
	e.Set = ack.FromWindow(ack.Type(typ), meshid.SequenceNumber(hi), uint32(mask))
	return nil
}

// Part is the wire representation of one piece of a (possibly split)
// message: enough to reassemble the whole (source, type, sequence number,
// original size) plus the bytes covering [ChunkStart, ChunkStart+len(Payload)).
type Part struct {
	Source         meshid.NodeId
	Type           meshid.MessageType
	SequenceNumber meshid.SequenceNumber
	OriginalSize   uint64
	ChunkStart     uint64
	Payload        []byte
}

// IsFull reports whether this part covers the entire original message.
func (p *Part) IsFull() bool {
	return p.ChunkStart == 0 && uint64(len(p.Payload)) == p.OriginalSize
}

// MarshalCbor writes a Part as a 6-element CBOR array.
func (p *Part) MarshalCbor(w io.Writer) (err error) {
	if err = cboring.WriteArrayLength(6, w); err != nil {
		return
	}
	if err = cboring.WriteByteString(p.Source.Bytes(), w); err != nil {
		return
	}
	if err = cboring.WriteUInt(uint64(p.Type), w); err != nil {
		return
	}
	if err = cboring.WriteUInt(uint64(p.SequenceNumber), w); err != nil {
		return
	}
	if err = cboring.WriteUInt(p.OriginalSize, w); err != nil {
		return
	}
	if err = cboring.WriteUInt(p.ChunkStart, w); err != nil {
		return
	}
	return cboring.WriteByteString(p.Payload, w)
}

// UnmarshalCbor reads a Part back from its CBOR array form.
func (p *Part) UnmarshalCbor(r io.Reader) (err error) {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	if n != 6 {
		return fmt.Errorf("wire: Part expected array of length 6, got %d", n)
	}

	sourceBytes, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}
	source, err := meshid.NodeIdFromBytes(sourceBytes)
	if err != nil {
		return err
	}

	typ, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	sn, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	originalSize, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	chunkStart, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	payload, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}

	p.Source = source
	p.Type = meshid.MessageType(typ)
	p.SequenceNumber = meshid.SequenceNumber(sn)
	p.OriginalSize = originalSize
	p.ChunkStart = chunkStart
	p.Payload = payload
	return nil
}

// FrameEncoder adapts an io.Writer to ack.Encoder, so OutboundAcks.EncodeFew
// can piggyback ack entries directly onto a relay's outgoing stream.
type FrameEncoder struct {
	W io.Writer
}

func (f FrameEncoder) EncodeAckEntry(target meshid.NodeId, typ ack.Type, set ack.AckSet) error {
	entry := AckEntry{Target: target, Type: typ, Set: set}
	return cboring.Marshal(&entry, f.W)
}
