/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

// Deliver is invoked, in sequence-number order, once for every message an
// Importer accepts (immediately on arrival, or later once a gap it was
// buffered behind closes).
type Deliver func(body wire.Envelope, seq uint64)

// Importer represents a source of input messages into a node: it buffers
// out-of-order arrivals, tolerates duplicates, and delivers contiguous
// runs in order starting from the least sequence number it has not yet
// seen.
type Importer struct {
	sender      node.Handle
	firstUnseen uint64
	buffered    map[uint64]wire.Envelope
	deliver     Deliver

	// onBuffer/onDrain bracket a message's in-flight window: received
	// out of order and held until the gap before it closes. A migration
	// drain barrier pins on these.
	onBuffer, onDrain func()

	NReorders   int
	NDuplicates int
}

func newImporter(sender node.Handle, firstSequenceNumber uint64, deliver Deliver) *Importer {
	return &Importer{
		sender:      sender,
		firstUnseen: firstSequenceNumber,
		buffered:    make(map[uint64]wire.Envelope),
		deliver:     deliver,
	}
}

func (i *Importer) SenderID() string { return i.sender.NodeID }

// FirstUnseenSequenceNumber is the sequence number this importer will
// acknowledge: the least one it has not yet delivered.
func (i *Importer) FirstUnseenSequenceNumber() uint64 { return i.firstUnseen }

// Import accepts an arriving (sequence-numbered) message body, delivering
// it immediately if it closes the gap at firstUnseen, or buffering it.
// Messages older than firstUnseen are duplicates and are dropped.
func (i *Importer) Import(body wire.Envelope, seq uint64) {
	switch {
	case seq < i.firstUnseen:
		i.NDuplicates++
	case seq > i.firstUnseen:
		i.NReorders++
		if _, ok := i.buffered[seq]; !ok && i.onBuffer != nil {
			i.onBuffer()
		}
		i.buffered[seq] = body
	default:
		i.deliver(body, seq)
		i.firstUnseen++
		for {
			msg, ok := i.buffered[i.firstUnseen]
			if !ok {
				break
			}
			delete(i.buffered, i.firstUnseen)
			i.deliver(msg, i.firstUnseen)
			i.firstUnseen++
			if i.onDrain != nil {
				i.onDrain()
			}
		}
	}
}

// SetInFlightHooks installs (or clears, with nils) the buffer/drain
// callbacks. onBuffer is invoked immediately once per message already
// held, so a barrier installed mid-stream starts with the right count.
func (i *Importer) SetInFlightHooks(onBuffer, onDrain func()) {
	i.onBuffer, i.onDrain = onBuffer, onDrain
	if onBuffer != nil {
		for range i.buffered {
			onBuffer()
		}
	}
}
