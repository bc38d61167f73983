/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/wire"
)

type deltaMessage struct {
	seq  uint64
	kind deltaKind
	n    int64
}

type deltaKind int

const (
	deltaIncrement deltaKind = iota
	deltaInputAction
)

// Deltas batches numbered messages from a set of senders between ticks,
// and combines them into a single folded increment on demand. It
// implements spec.md §4.2: add_message requires strictly sequential
// sequence numbers per sender; pop_deltas folds every buffered message
// (optionally capped per-sender by a `before` watermark) into one delta.
type Deltas struct {
	bySender      map[string][]deltaMessage
	firstUnpopped map[string]uint64
}

func NewDeltas() *Deltas {
	return &Deltas{
		bySender:      make(map[string][]deltaMessage),
		firstUnpopped: make(map[string]uint64),
	}
}

// AddSender starts tracking deltas for a new sender id.
func (d *Deltas) AddSender(senderID string) error {
	if _, ok := d.bySender[senderID]; ok {
		return cos.NewErrInternal("sender %s was already added to this delta set", senderID)
	}
	d.bySender[senderID] = nil
	d.firstUnpopped[senderID] = 0
	return nil
}

func (d *Deltas) RemoveSender(senderID string) {
	delete(d.bySender, senderID)
	delete(d.firstUnpopped, senderID)
}

// FirstUnseenRSN is the next remote sequence number this delta set expects
// from senderID.
func (d *Deltas) FirstUnseenRSN(senderID string) uint64 {
	pairs := d.bySender[senderID]
	if len(pairs) > 0 {
		return pairs[len(pairs)-1].seq + 1
	}
	return d.firstUnpopped[senderID]
}

func (d *Deltas) addIncrement(senderID string, seq uint64, amount int64) error {
	return d.add(senderID, deltaMessage{seq: seq, kind: deltaIncrement, n: amount})
}

func (d *Deltas) addInputAction(senderID string, seq uint64, number int64) error {
	return d.add(senderID, deltaMessage{seq: seq, kind: deltaInputAction, n: number})
}

func (d *Deltas) add(senderID string, m deltaMessage) error {
	if d.FirstUnseenRSN(senderID) != m.seq {
		return cos.NewErrInternal("add_message was not called on the next sequential sequence number for %s", senderID)
	}
	d.bySender[senderID] = append(d.bySender[senderID], m)
	return nil
}

// AddEnvelope decodes an incoming increment/input_action message and
// records it. It is an internal error to call this with any other kind.
func (d *Deltas) AddEnvelope(senderID string, seq uint64, env wire.Envelope) error {
	switch env.Kind {
	case wire.KindIncrement:
		var body struct {
			Amount int64 `json:"amount"`
		}
		if err := env.Decode(&body); err != nil {
			return err
		}
		return d.addIncrement(senderID, seq, body.Amount)
	case wire.KindInputAction:
		var body struct {
			Number int64 `json:"number"`
		}
		if err := env.Decode(&body); err != nil {
			return err
		}
		return d.addInputAction(senderID, seq, body.Number)
	default:
		return cos.NewErrInternal("unrecognized delta message kind %q", env.Kind)
	}
}

func (d *Deltas) HasData() bool {
	for _, pairs := range d.bySender {
		if len(pairs) > 0 {
			return true
		}
	}
	return false
}

// Covers reports whether, for every (senderID, sn) in before, this delta
// set has received every message strictly before sn from that sender.
func (d *Deltas) Covers(before map[string]uint64) bool {
	for senderID, sn := range before {
		if d.FirstUnseenRSN(senderID) < sn {
			return false
		}
	}
	return true
}

// PopDeltas removes every buffered message (or, if before is supplied,
// every message older than before[senderID]) from self, combines them into
// a single folded increment, and reports whether anything changed.
func (d *Deltas) PopDeltas(state int64, before map[string]uint64) (newState, increment int64, updated bool) {
	for senderID, pairs := range d.bySender {
		var capNumber *uint64
		if before != nil {
			if n, ok := before[senderID]; ok {
				capNumber = &n
			}
		}
		kept := pairs[:0:0]
		for _, m := range pairs {
			if capNumber == nil || m.seq < *capNumber {
				updated = true
				increment += m.n
				if m.seq+1 > d.firstUnpopped[senderID] {
					d.firstUnpopped[senderID] = m.seq + 1
				}
			} else {
				kept = append(kept, m)
			}
		}
		d.bySender[senderID] = kept
	}
	if updated {
		return state + increment, increment, true
	}
	return state, increment, false
}
