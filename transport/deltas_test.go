/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport_test

import (
	"testing"

	"github.com/koreiklein/distzero/transport"
)

func TestPopDeltasFoldsIncrements(t *testing.T) {
	d := transport.NewDeltas()
	if err := d.AddSender("a"); err != nil {
		t.Fatal(err)
	}
	if err := d.AddSender("b"); err != nil {
		t.Fatal(err)
	}

	mustAddIncrement(t, d, "a", 0, 3)
	mustAddIncrement(t, d, "a", 1, 4)
	mustAddIncrement(t, d, "b", 0, 10)

	newState, increment, updated := d.PopDeltas(100, nil)
	if !updated {
		t.Fatal("expected updated == true")
	}
	if increment != 17 {
		t.Fatalf("expected increment 17, got %d", increment)
	}
	if newState != 117 {
		t.Fatalf("expected new state 117, got %d", newState)
	}

	_, _, updated = d.PopDeltas(117, nil)
	if updated {
		t.Fatal("expected no-op pop after everything was already popped")
	}
}

func TestAddMessageRejectsOutOfOrder(t *testing.T) {
	d := transport.NewDeltas()
	if err := d.AddSender("a"); err != nil {
		t.Fatal(err)
	}
	mustAddIncrement(t, d, "a", 0, 1)
	if err := addIncrement(d, "a", 2, 1); err == nil {
		t.Fatal("expected an error adding a non-sequential sequence number")
	}
}

func TestDoubleAddSenderFails(t *testing.T) {
	d := transport.NewDeltas()
	if err := d.AddSender("a"); err != nil {
		t.Fatal(err)
	}
	if err := d.AddSender("a"); err == nil {
		t.Fatal("expected an error re-adding the same sender")
	}
}

func TestCovers(t *testing.T) {
	d := transport.NewDeltas()
	if err := d.AddSender("a"); err != nil {
		t.Fatal(err)
	}
	mustAddIncrement(t, d, "a", 0, 1)
	mustAddIncrement(t, d, "a", 1, 1)

	if !d.Covers(map[string]uint64{"a": 2}) {
		t.Fatal("expected covers({a: 2}) after seeing sequence numbers 0 and 1")
	}
	if d.Covers(map[string]uint64{"a": 3}) {
		t.Fatal("expected covers({a: 3}) to be false; sn 2 has not arrived")
	}
}

func addIncrement(d *transport.Deltas, sender string, seq uint64, amount int64) error {
	env := incrementEnvelope(amount)
	return d.AddEnvelope(sender, seq, env)
}

func mustAddIncrement(t *testing.T, d *transport.Deltas, sender string, seq uint64, amount int64) {
	t.Helper()
	if err := addIncrement(d, sender, seq, amount); err != nil {
		t.Fatalf("AddEnvelope(%s, %d, %d): %v", sender, seq, amount, err)
	}
}
