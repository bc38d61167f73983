// Package transport implements the reliable sequenced delivery layer
// described in spec.md §4.1: matched Exporter/Importer pairs driven by a
// per-node Linker on a fixed acknowledgement/retransmission cadence.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"time"

	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

type pendingMessage struct {
	seq    uint64
	body   wire.Envelope
	sentAt time.Duration
}

// Exporter represents a destination for messages leaving a node. During a
// migration it can duplicate every exported message to a set of mirror
// exporters until FinishDuplicating cuts back to the single receiver.
type Exporter struct {
	linker   *Linker
	receiver node.Handle

	leastUnacked uint64
	pending      []pendingMessage
	duplicating  []*Exporter

	NRetransmissions int
}

func newExporter(l *Linker, receiver node.Handle) *Exporter {
	return &Exporter{linker: l, receiver: receiver}
}

func (e *Exporter) ReceiverID() string { return e.receiver.NodeID }

func (e *Exporter) LeastUnacknowledgedSequenceNumber() uint64 { return e.leastUnacked }

func (e *Exporter) HasPendingMessages() bool { return len(e.pending) > 0 }

// Export assigns the linker's next sequence number to body, records it as
// pending, and sends it immediately. If the exporter is currently
// duplicating, every mirror also exports the same body.
func (e *Exporter) Export(body wire.Envelope) {
	seq := e.linker.advanceSequenceNumber()
	e.pending = append(e.pending, pendingMessage{seq: seq, body: body, sentAt: e.linker.nowMs})
	e.linker.sendSequenced(e.receiver, seq, body)
	for _, mirror := range e.duplicating {
		mirror.Export(body)
	}
}

// Acknowledge advances the least-unacknowledged sequence number and drops
// every pending message older than it.
func (e *Exporter) Acknowledge(n uint64) {
	if n > e.leastUnacked {
		e.leastUnacked = n
	}
	kept := e.pending[:0]
	for _, p := range e.pending {
		if p.seq >= e.leastUnacked {
			kept = append(kept, p)
		}
	}
	e.pending = kept
}

func (e *Exporter) retransmitExpired(thresholdMs time.Duration) {
	for i := range e.pending {
		if e.linker.nowMs-e.pending[i].sentAt > thresholdMs {
			e.linker.sendSequenced(e.receiver, e.pending[i].seq, e.pending[i].body)
			e.pending[i].sentAt = e.linker.nowMs
			e.NRetransmissions++
		}
	}
}

// Duplicate installs mirrors is the prerequisite for a migration: every
// Export call after this point also fans to each of mirrors. It is an
// internal invariant violation to call this while already duplicating.
func (e *Exporter) Duplicate(mirrors []*Exporter) error {
	if e.duplicating != nil {
		return cos.NewErrInternal("exporter for receiver %s is already duplicating", e.receiver.NodeID)
	}
	e.duplicating = mirrors
	return nil
}

// FinishDuplicating tears down the mirror set and returns it, so the
// caller can finish adopting the mirrors as independent exporters.
func (e *Exporter) FinishDuplicating() []*Exporter {
	mirrors := e.duplicating
	e.duplicating = nil
	return mirrors
}
