/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package sim_test

import (
	"testing"
	"time"

	"github.com/koreiklein/distzero/cmn"
	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/dataset"
	"github.com/koreiklein/distzero/link"
	"github.com/koreiklein/distzero/migration"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/sim"
	"github.com/koreiklein/distzero/wire"
)

func init() {
	cos.InitIDGen(7)
}

func inputAction(n int64) wire.Envelope {
	env, _ := wire.Encode(wire.KindInputAction, struct {
		Number int64 `json:"number"`
	}{n})
	return env
}

func hello(kind wire.Kind, id string, availability int64) wire.Envelope {
	env, _ := wire.Encode(kind, struct {
		Handle       node.Handle `json:"handle"`
		Availability int64       `json:"availability"`
	}{node.Handle{NodeID: id}, availability})
	return env
}

// buildSumPipeline wires the single-leaf sum scenario: one input leaf
// feeding one output leaf through a link node, with the hello messages
// the bootstrap glue would normally deliver.
func buildSumPipeline(t *testing.T, s *sim.Simulation, m *sim.Machine) (in, out *dataset.DataNode) {
	t.Helper()
	in = dataset.New(dataset.Config{NodeID: "in", Variant: dataset.VariantInput, Height: -1}, m, m)
	out = dataset.New(dataset.Config{NodeID: "out", Variant: dataset.VariantOutput, Height: -1}, m, m)
	ln := link.New(link.Config{
		NodeID:        "ln",
		Variant:       link.VariantAllToOneAvailable,
		ExpectedLeft:  []string{"in"},
		ExpectedRight: []string{"out"},
	}, m)
	m.Add(in)
	m.Add(out)
	m.Add(ln)
	in.Initialize()
	out.Initialize()
	ln.Initialize()

	linkHandle := node.Handle{NodeID: "ln"}
	m.Send(linkHandle, hello(wire.KindHelloLeft, "in", 1), node.Handle{NodeID: "in"})
	m.Send(linkHandle, hello(wire.KindHelloRight, "out", 1), node.Handle{NodeID: "out"})
	return in, out
}

func settle(s *sim.Simulation, d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += cmn.Conf.StepLength {
		s.Elapse(cmn.Conf.StepLength)
	}
}

func TestSingleLeafSumFlowsThroughTheLink(t *testing.T) {
	s := sim.New()
	m := s.NewMachine("m0")
	_, out := buildSumPipeline(t, s, m)

	outside := node.Handle{NodeID: "outside"}
	input := sim.NewRecordedInput([]sim.Event{
		{At: 10 * time.Millisecond, Target: node.Handle{NodeID: "in"}, Sender: outside, Message: inputAction(3)},
		{At: 20 * time.Millisecond, Target: node.Handle{NodeID: "in"}, Sender: outside, Message: inputAction(-1)},
		{At: 30 * time.Millisecond, Target: node.Handle{NodeID: "in"}, Sender: outside, Message: inputAction(7)},
	})
	s.Run(input)
	settle(s, 200*time.Millisecond)

	if got := out.State(); got != 9 {
		t.Fatalf("expected output state 9 after flush, got %d", got)
	}
}

func TestMigrationSwapPreservesSum(t *testing.T) {
	s := sim.New()
	m := s.NewMachine("m0")
	in, out := buildSumPipeline(t, s, m)
	_ = in

	outside := node.Handle{NodeID: "outside"}
	inHandle := node.Handle{NodeID: "in"}

	// Accumulate a sum before the migration starts.
	m.Send(inHandle, inputAction(5), outside)
	m.Send(inHandle, inputAction(6), outside)
	settle(s, 100*time.Millisecond)
	if got := out.State(); got != 11 {
		t.Fatalf("expected pre-migration state 11, got %d", got)
	}

	mn := migration.New(migration.Config{
		MigrationID: cos.NewID("Migration"),
		Kind:        migration.KindDataChange,
		Source:      node.Handle{NodeID: "in"},
		Sink:        node.Handle{NodeID: "out"},
	}, m)
	m.Add(mn)
	mn.Initialize()

	// More input arrives while the migration is in flight; every
	// increment must be delivered exactly once across the swap.
	m.Send(inHandle, inputAction(4), outside)
	settle(s, 200*time.Millisecond)

	if mn.Phase() != migration.PhaseDone {
		t.Fatalf("expected the migration to finish, stuck in %s", mn.Phase())
	}
	if got := out.State(); got != 15 {
		t.Fatalf("expected post-migration state 15, got %d", got)
	}
}
