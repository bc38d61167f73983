/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"time"

	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/cmn/nlog"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

// Sender is the subset of node.MachineController a Linker needs in order
// to actually put a message on the wire.
type Sender interface {
	Send(receiver node.Handle, msg wire.Envelope, sender node.Handle)
}

type branchEntry struct {
	sentSeq    uint64
	sender     *Importer
	leastUnseen uint64
}

type branchGroup struct {
	sentSeq uint64
	entries []branchEntry
}

// Linker owns every Importer/Exporter pair for one node and drives their
// acknowledgement and retransmission cadence. It also owns the "branching"
// log: a record of, at the moment this node emitted local sequence number
// N, what each importer's least-unseen-remote-sequence-number was. This
// ties outgoing acknowledgements to inputs this node has actually finished
// propagating downstream, rather than just received.
type Linker struct {
	self   node.Handle
	sender Sender

	nowMs time.Duration

	importers map[string]*Importer
	exporters map[string]*Exporter

	nextSeq  uint64
	branching []branchGroup

	timeBetweenAcks        time.Duration
	timeBetweenRetransmits time.Duration
	retransmitThreshold    time.Duration

	timeSinceAcks        time.Duration
	timeSinceRetransmits time.Duration

	onBuffer, onDrain func()
}

func NewLinker(self node.Handle, sender Sender, ackEvery, retransmitCheckEvery, retransmitThreshold time.Duration) *Linker {
	return &Linker{
		self:                   self,
		sender:                 sender,
		importers:              make(map[string]*Importer),
		exporters:              make(map[string]*Exporter),
		timeBetweenAcks:        ackEvery,
		timeBetweenRetransmits: retransmitCheckEvery,
		retransmitThreshold:    retransmitThreshold,
	}
}

// NewImporter registers and returns a new Importer for messages arriving
// from sender, starting at firstSequenceNumber.
func (l *Linker) NewImporter(sender node.Handle, firstSequenceNumber uint64, deliver Deliver) *Importer {
	imp := newImporter(sender, firstSequenceNumber, deliver)
	imp.SetInFlightHooks(l.onBuffer, l.onDrain)
	l.importers[sender.NodeID] = imp
	return imp
}

// SetInFlightHooks installs buffer/drain callbacks on every importer,
// current and future, so a caller can track how many received messages
// are stuck behind a sequence gap.
func (l *Linker) SetInFlightHooks(onBuffer, onDrain func()) {
	l.onBuffer, l.onDrain = onBuffer, onDrain
	for _, imp := range l.importers {
		imp.SetInFlightHooks(onBuffer, onDrain)
	}
}

// NextSequenceNumber is the sequence number the next export will carry;
// across a migration cut it is the source's first-live sequence number.
func (l *Linker) NextSequenceNumber() uint64 { return l.nextSeq }

// NewExporter registers and returns a new Exporter sending to receiver.
func (l *Linker) NewExporter(receiver node.Handle) *Exporter {
	exp := newExporter(l, receiver)
	l.exporters[receiver.NodeID] = exp
	return exp
}

func (l *Linker) Exporter(receiverID string) (*Exporter, bool) {
	e, ok := l.exporters[receiverID]
	return e, ok
}

func (l *Linker) Importer(senderID string) (*Importer, bool) {
	i, ok := l.importers[senderID]
	return i, ok
}

func (l *Linker) RemoveExporter(receiverID string) { delete(l.exporters, receiverID) }

func (l *Linker) RemoveImporter(senderID string) {
	delete(l.importers, senderID)
	for gi := range l.branching {
		kept := l.branching[gi].entries[:0]
		for _, e := range l.branching[gi].entries {
			if e.sender.SenderID() != senderID {
				kept = append(kept, e)
			}
		}
		l.branching[gi].entries = kept
	}
}

// sequencedReceive is the wire shape of a message sent through an
// Exporter: the original body plus the sequence number the receiving
// Importer needs to place it in order. Wrapping rather than threading a
// separate out-of-band sequence number keeps exactly one Envelope per
// send, matching the single NetworkMessage sum-type design.
type sequencedReceive struct {
	SequenceNumber uint64       `json:"sequence_number"`
	Inner          wire.Envelope `json:"inner"`
}

func (l *Linker) sendSequenced(receiver node.Handle, seq uint64, body wire.Envelope) {
	env, err := wire.Encode(wire.KindReceive, sequencedReceive{SequenceNumber: seq, Inner: body})
	if err != nil {
		panic(cos.NewErrInternal("encoding sequenced receive: %v", err))
	}
	l.sender.Send(receiver, env, l.self)
}

func (l *Linker) send(receiver node.Handle, body wire.Envelope) {
	l.sender.Send(receiver, body, l.self)
}

// Dispatch is the single entry point a node's Receive method should
// forward every incoming Envelope through before interpreting anything
// else: it intercepts the two transport-owned kinds (sequenced receives
// and acknowledgements) and reports whether it consumed the message.
func (l *Linker) Dispatch(senderID string, msg wire.Envelope) (consumed bool) {
	switch msg.Kind {
	case wire.KindReceive:
		var sr sequencedReceive
		if err := msg.Decode(&sr); err != nil {
			panic(cos.NewErrInternal("decoding sequenced receive: %v", err))
		}
		l.ReceiveMessage(senderID, sr.SequenceNumber, sr.Inner)
		return true
	case wire.KindAcknowledge:
		var ack struct {
			SequenceNumber uint64 `json:"sequence_number"`
		}
		if err := msg.Decode(&ack); err != nil {
			panic(cos.NewErrInternal("decoding acknowledge: %v", err))
		}
		l.ReceiveAcknowledge(senderID, ack.SequenceNumber)
		return true
	default:
		return false
	}
}

// advanceSequenceNumber reserves the next local sequence number for an
// outgoing Export and records a branching-log entry snapshotting every
// importer's current least-unseen-remote-sequence-number, tagged with
// that new sequence number.
func (l *Linker) advanceSequenceNumber() uint64 {
	seq := l.nextSeq
	l.nextSeq++

	group := branchGroup{sentSeq: seq}
	for _, imp := range l.importers {
		group.entries = append(group.entries, branchEntry{sentSeq: seq, sender: imp, leastUnseen: imp.FirstUnseenSequenceNumber()})
	}
	l.branching = append(l.branching, group)
	return seq
}

// Broadcast exports body once, under a single sequence number, to every
// registered exporter, so all receivers observe the same numbering —
// the send primitive of a node whose downstream set was assigned by a
// connect_node.
func (l *Linker) Broadcast(body wire.Envelope) {
	if len(l.exporters) == 0 {
		return
	}
	seq := l.advanceSequenceNumber()
	for _, e := range l.exporters {
		e.pending = append(e.pending, pendingMessage{seq: seq, body: body, sentAt: l.nowMs})
		l.sendSequenced(e.receiver, seq, body)
		for _, mirror := range e.duplicating {
			mirror.Export(body)
		}
	}
}

// LeastUnacknowledgedSequenceNumber is the least sequence number this node
// has emitted that some exporter with pending messages is still waiting
// on an acknowledgement for.
func (l *Linker) LeastUnacknowledgedSequenceNumber() uint64 {
	result := l.nextSeq
	for _, e := range l.exporters {
		if e.HasPendingMessages() && e.LeastUnacknowledgedSequenceNumber() < result {
			result = e.LeastUnacknowledgedSequenceNumber()
		}
	}
	return result
}

// ReceiveAcknowledge handles an incoming acknowledge(n) from receiverID.
func (l *Linker) ReceiveAcknowledge(receiverID string, n uint64) {
	if e, ok := l.exporters[receiverID]; ok {
		e.Acknowledge(n)
		return
	}
	nlog.Warningf("linker: ignoring acknowledgement from unknown exporter %s", receiverID)
}

// ReceiveMessage handles an incoming sequence-numbered message from
// senderID.
func (l *Linker) ReceiveMessage(senderID string, seq uint64, body wire.Envelope) {
	if i, ok := l.importers[senderID]; ok {
		i.Import(body, seq)
		return
	}
	nlog.Warningf("linker: ignoring message from unknown importer %s", senderID)
}

// Elapse advances the linker's clock, sending acknowledgements and
// retransmitting expired pending messages on their respective cadences.
func (l *Linker) Elapse(d time.Duration) {
	l.nowMs += d
	l.timeSinceAcks += d
	l.timeSinceRetransmits += d

	if l.timeSinceAcks > l.timeBetweenAcks {
		l.sendAcknowledgements()
		l.timeSinceAcks = 0
	}
	if l.timeSinceRetransmits > l.timeBetweenRetransmits {
		for _, e := range l.exporters {
			e.retransmitExpired(l.retransmitThreshold)
		}
		l.timeSinceRetransmits = 0
	}
}

func (l *Linker) sendAcknowledgements() {
	// A terminal node (one that never exports) has no branching log to
	// tie acknowledgements to; it acknowledges everything its importers
	// have delivered.
	if len(l.branching) == 0 {
		for _, imp := range l.importers {
			if n := imp.FirstUnseenSequenceNumber(); n > 0 {
				l.sendAckTo(imp, n)
			}
		}
		return
	}

	least := l.LeastUnacknowledgedSequenceNumber()

	idx := 0
	for idx < len(l.branching) && l.branching[idx].sentSeq < least {
		idx++
	}
	if idx == 0 {
		return
	}

	for _, e := range l.branching[idx-1].entries {
		if e.leastUnseen == 0 {
			continue
		}
		l.sendAckTo(e.sender, e.leastUnseen)
	}
	l.branching = l.branching[idx:]
}

func (l *Linker) sendAckTo(imp *Importer, n uint64) {
	body, err := wire.Encode(wire.KindAcknowledge, struct {
		SequenceNumber uint64 `json:"sequence_number"`
	}{n})
	if err != nil {
		panic(cos.NewErrInternal("encoding acknowledge: %v", err))
	}
	l.send(imp.sender, body)
}

func (l *Linker) Stats() (retransmissions, reorders, duplicates int) {
	r, d := 0, 0
	for _, i := range l.importers {
		r += i.NReorders
		d += i.NDuplicates
	}
	t := 0
	for _, e := range l.exporters {
		t += e.NRetransmissions
	}
	return t, r, d
}
