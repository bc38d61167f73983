/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport_test

import (
	"testing"
	"time"

	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/transport"
	"github.com/koreiklein/distzero/wire"
)

// fakeFabric records every Send call so a test can inspect what the
// sending side's Linker put on the wire and feed it back to the other
// side's Linker, simulating two nodes exchanging messages in-process.
type fakeFabric struct {
	sent []sentMsg
}

type sentMsg struct {
	receiver node.Handle
	sender   node.Handle
	env      wire.Envelope
}

func (f *fakeFabric) Send(receiver node.Handle, msg wire.Envelope, sender node.Handle) {
	f.sent = append(f.sent, sentMsg{receiver: receiver, sender: sender, env: msg})
}

func (f *fakeFabric) drain() []sentMsg {
	out := f.sent
	f.sent = nil
	return out
}

func TestImporterDeliversOutOfOrderOnceGapCloses(t *testing.T) {
	var delivered []uint64
	imp := transport.NewLinker(node.Handle{NodeID: "receiver"}, &fakeFabric{}, time.Millisecond, time.Millisecond, time.Second)
	i := imp.NewImporter(node.Handle{NodeID: "sender"}, 0, func(body wire.Envelope, seq uint64) {
		delivered = append(delivered, seq)
	})

	i.Import(incrementEnvelope(1), 1) // arrives before 0: buffered
	if len(delivered) != 0 {
		t.Fatalf("expected nothing delivered yet, got %v", delivered)
	}
	i.Import(incrementEnvelope(0), 0) // closes the gap: both 0 and 1 deliver
	if len(delivered) != 2 || delivered[0] != 0 || delivered[1] != 1 {
		t.Fatalf("expected [0 1] delivered in order, got %v", delivered)
	}
	if i.NReorders != 1 {
		t.Fatalf("expected 1 reorder, got %d", i.NReorders)
	}

	i.Import(incrementEnvelope(0), 0) // duplicate
	if i.NDuplicates != 1 {
		t.Fatalf("expected 1 duplicate, got %d", i.NDuplicates)
	}
}

func TestLinkerRetransmitsUnacknowledgedExports(t *testing.T) {
	fabric := &fakeFabric{}
	l := transport.NewLinker(node.Handle{NodeID: "sender"}, fabric, 30*time.Millisecond, 20*time.Millisecond, 50*time.Millisecond)
	receiver := node.Handle{NodeID: "receiver"}
	exp := l.NewExporter(receiver)

	exp.Export(incrementEnvelope(1))
	if len(fabric.drain()) != 1 {
		t.Fatal("expected the initial export to send once")
	}

	// Not yet past the retransmit threshold.
	l.Elapse(21 * time.Millisecond)
	if len(fabric.drain()) != 0 {
		t.Fatal("expected no retransmission before the threshold elapses")
	}

	l.Elapse(60 * time.Millisecond)
	if len(fabric.drain()) == 0 {
		t.Fatal("expected a retransmission once the threshold elapses with no ack")
	}
	if exp.NRetransmissions != 1 {
		t.Fatalf("expected 1 retransmission recorded, got %d", exp.NRetransmissions)
	}

	exp.Acknowledge(1)
	if exp.HasPendingMessages() {
		t.Fatal("expected no pending messages once acknowledged past sn 0")
	}
}
