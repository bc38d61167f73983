/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package sim_test

import (
	"testing"
	"time"

	"github.com/koreiklein/distzero/dataset"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/sim"
	"github.com/koreiklein/distzero/wire"
)

func TestSimulationDeliversRecordedInputToALeaf(t *testing.T) {
	s := sim.New()
	m := s.NewMachine("m0")

	leaf := m.SpawnNode(dataset.Config{NodeID: "leaf", Variant: dataset.VariantInput, Height: -1}, node.Handle{})

	env1, _ := wire.Encode(wire.KindInputAction, struct {
		Number int64 `json:"number"`
	}{Number: 3})
	env2, _ := wire.Encode(wire.KindInputAction, struct {
		Number int64 `json:"number"`
	}{Number: 4})

	input := sim.NewRecordedInput([]sim.Event{
		{At: 10 * time.Millisecond, Target: leaf, Sender: node.Handle{NodeID: "outside"}, Message: env1},
		{At: 20 * time.Millisecond, Target: leaf, Sender: node.Handle{NodeID: "outside"}, Message: env2},
	})

	s.Run(input)

	if !input.Done() {
		t.Fatalf("expected every recorded event to be delivered, %d remaining", input.Remaining())
	}
}
