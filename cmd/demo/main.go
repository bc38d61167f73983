// Command demo runs the single-leaf sum pipeline end to end inside the
// in-process simulation: one input leaf feeding one output leaf through
// a link node, with a recorded input stream in place of live traffic.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/koreiklein/distzero/cmn"
	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/cmn/nlog"
	"github.com/koreiklein/distzero/dataset"
	"github.com/koreiklein/distzero/link"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/program"
	"github.com/koreiklein/distzero/sim"
	"github.com/koreiklein/distzero/wire"
)

func main() {
	var (
		programPath = flag.String("program", "", "optional YAML program descriptor; default is the built-in single-leaf sum")
		settleFor   = flag.Duration("settle", 500*time.Millisecond, "simulated time to run after the last input event")
		quiet       = flag.Bool("quiet", false, "suppress info-level logs")
	)
	flag.Parse()
	nlog.SetQuiet(*quiet)
	cos.InitIDGen(uint64(time.Now().UnixNano()))

	p, err := loadProgram(*programPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "demo: %v\n", err)
		os.Exit(1)
	}

	s := sim.New()
	m := s.NewMachine("demo-machine")

	roots := make(map[string]node.Handle, len(p.Datasets))
	for _, d := range p.Datasets {
		roots[d.Name] = m.SpawnNode(d.ToConfig(), node.Handle{})
	}
	for _, l := range p.Links {
		linkHandle := m.SpawnNode(l.ToConfig([]string{l.Source.ID}, []string{l.Target.ID}), node.Handle{})
		m.Send(linkHandle, hello(wire.KindHelloLeft, l.Source.ID), node.Handle{NodeID: l.Source.ID})
		m.Send(linkHandle, hello(wire.KindHelloRight, l.Target.ID), node.Handle{NodeID: l.Target.ID})
	}

	inID, outID := endpointIDs(p)
	outside := node.Handle{NodeID: "outside"}
	input := sim.NewRecordedInput([]sim.Event{
		{At: 10 * time.Millisecond, Target: node.Handle{NodeID: inID}, Sender: outside, Message: inputAction(3)},
		{At: 20 * time.Millisecond, Target: node.Handle{NodeID: inID}, Sender: outside, Message: inputAction(-1)},
		{At: 30 * time.Millisecond, Target: node.Handle{NodeID: inID}, Sender: outside, Message: inputAction(7)},
	})
	s.Run(input)
	for elapsed := time.Duration(0); elapsed < *settleFor; elapsed += cmn.Conf.StepLength {
		s.Elapse(cmn.Conf.StepLength)
	}

	out, ok := m.Node(outID).(*dataset.DataNode)
	if !ok {
		fmt.Fprintf(os.Stderr, "demo: output node %s is not a data node\n", outID)
		os.Exit(1)
	}
	fmt.Printf("output state after %s simulated: %d\n", s.Now(), out.State())
}

// loadProgram reads the descriptor at path, or builds the default
// single-leaf sum pipeline when no path was given.
func loadProgram(path string) (*program.Program, error) {
	if path != "" {
		return program.Load(path)
	}
	p := program.New("sum")
	in := p.NewDataset("in", dataset.VariantInput, -1)
	out := p.NewDataset("out", dataset.VariantOutput, -1)
	p.NewLink("sum", in, out, link.VariantAllToOneAvailable)
	return p, nil
}

// endpointIDs picks the program's input and output dataset ids; the
// built-in program has exactly one of each.
func endpointIDs(p *program.Program) (in, out string) {
	for _, d := range p.Datasets {
		if d.Variant == dataset.VariantInput {
			in = d.ID
		} else {
			out = d.ID
		}
	}
	return in, out
}

func inputAction(n int64) wire.Envelope {
	env, _ := wire.Encode(wire.KindInputAction, struct {
		Number int64 `json:"number"`
	}{n})
	return env
}

func hello(kind wire.Kind, id string) wire.Envelope {
	env, _ := wire.Encode(kind, struct {
		Handle       node.Handle `json:"handle"`
		Availability int64       `json:"availability"`
	}{node.Handle{NodeID: id}, 1})
	return env
}
