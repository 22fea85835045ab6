package ack

import (
	"github.com/robjsp/meshcast/pkg/meshid"
)

// Entry pairs a fully-formed AckSet with the remote peer it concerns; used
// when forwarding a foreign ack set along.
type Entry struct {
	Source meshid.NodeId
	Set    AckSet
}

// DefaultEncodeBudget bounds how many pending ack entries a single
// EncodeFew call will drain, so one outgoing frame cannot be swollen by an
// unbounded backlog of owed acks.
const DefaultEncodeBudget = 16

type owedKey struct {
	source meshid.NodeId
	typ    Type
}

// OutboundAcks aggregates the acks this node owes to remote peers, keyed by
// (source, Type), and hands them out in bounded batches for piggybacking
// onto outgoing frames.
type OutboundAcks struct {
	owed map[owedKey]AckSet
}

// NewOutboundAcks creates an empty aggregator.
func NewOutboundAcks() *OutboundAcks {
	return &OutboundAcks{owed: make(map[owedKey]AckSet)}
}

// Acknowledge merges sn into the AckSet owed back to source for typ,
// creating the entry if this is the first ack owed to that (source, typ).
func (o *OutboundAcks) Acknowledge(source meshid.NodeId, typ Type, sn meshid.SequenceNumber) {
	k := owedKey{source, typ}

	set, ok := o.owed[k]
	if !ok {
		o.owed[k] = New(typ, sn)
		return
	}

	set.TryAdd(sn)
	o.owed[k] = set
}

// AddAckEntry merges a fully-formed foreign AckSet into what's owed to its
// source, used when a forwarded ack set needs to keep propagating.
func (o *OutboundAcks) AddAckEntry(entry Entry) {
	k := owedKey{entry.Source, entry.Set.Type()}

	cur, ok := o.owed[k]
	if !ok {
		o.owed[k] = entry.Set
		return
	}

	for _, sn := range entry.Set.Acked() {
		cur.TryAdd(sn)
	}
	o.owed[k] = cur
}

// Encoder is the narrow contract EncodeFew needs from the wire module: emit
// one ack entry: a (target, ack_type, AckSet) tuple.
type Encoder interface {
	EncodeAckEntry(target meshid.NodeId, typ Type, set AckSet) error
}

// EncodeFew selects up to DefaultEncodeBudget pending entries whose
// destination lies in targets, encodes each through enc, and removes it
// from the owed set so it is not re-sent unless the ack advances further.
// It returns the number of entries encoded.
func (o *OutboundAcks) EncodeFew(enc Encoder, targets map[meshid.NodeId]struct{}) (int, error) {
	encoded := 0

	for k, set := range o.owed {
		if encoded >= DefaultEncodeBudget {
			break
		}
		if _, wanted := targets[k.source]; !wanted {
			continue
		}

		if err := enc.EncodeAckEntry(k.source, k.typ, set); err != nil {
			return encoded, err
		}

		delete(o.owed, k)
		encoded++
	}

	return encoded, nil
}
