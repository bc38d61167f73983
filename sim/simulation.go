// Package sim provides an in-process, single-binary stand-in for a cluster
// of machines: every node from dataset, link, and migration lives in the
// same process, ticked by one caller-driven clock instead of real TCP/UDP
// sockets and wall-clock timers. It is the harness cmd/demo and every
// multi-node test in this repository drive directly, the counterpart of
// original_source/dist_zero/spawners/simulator.py's in-process Spawner.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package sim

import (
	"time"

	"github.com/koreiklein/distzero/cmn"
	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/cmn/nlog"
	"github.com/koreiklein/distzero/dataset"
	"github.com/koreiklein/distzero/link"
	"github.com/koreiklein/distzero/migration"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

// Simulation hosts every Machine in one run and is the thing a test or
// cmd/demo actually ticks. It owns the global node-id-to-machine directory
// a real deployment would instead resolve through a handle's
// ControllerID plus the control API; here it is simply a map, since every
// machine lives in the same process.
type Simulation struct {
	now      time.Duration
	machines map[string]*Machine
	owner    map[string]string // node id -> controller id
}

func New() *Simulation {
	return &Simulation{
		machines: make(map[string]*Machine),
		owner:    make(map[string]string),
	}
}

// NewMachine adds a machine named id to the simulation and returns it. A
// caller spawns root nodes onto it directly with SpawnNode, or lets other
// nodes grow new kids onto it via their own SpawnNode calls.
func (s *Simulation) NewMachine(id string) *Machine {
	m := &Machine{id: id, sim: s, nodes: make(map[string]node.Node)}
	s.machines[id] = m
	return m
}

// Elapse advances every machine's clock by d and delivers no messages of
// its own; messages are delivered synchronously, the instant Send is
// called, mirroring how every other node.MachineController in this
// repository treats Send as a direct, non-deferred dispatch.
func (s *Simulation) Elapse(d time.Duration) {
	s.now += d
	for _, m := range s.machines {
		m.elapse(d)
	}
}

func (s *Simulation) Now() time.Duration { return s.now }

// Run ticks the simulation forward by cmn.Conf.StepLength increments,
// delivering any due input's events after each tick, until input is
// exhausted. It is the loop cmd/demo and RecordedInput-driven tests use in
// place of a real machine's goroutine-and-wall-clock run loop.
func (s *Simulation) Run(input *RecordedInput) {
	step := cmn.Conf.StepLength
	for !input.Done() {
		s.Elapse(step)
		input.Drain(s.now, func(e Event) {
			target := s.route(e.Target)
			if target == nil {
				nlog.Warningf("sim: recorded event for unknown node %s dropped", e.Target.NodeID)
				return
			}
			target.Send(e.Target, e.Message, e.Sender)
		})
	}
}

func (s *Simulation) route(receiver node.Handle) *Machine {
	controllerID := receiver.ControllerID
	if controllerID == "" {
		controllerID = s.owner[receiver.NodeID]
	}
	return s.machines[controllerID]
}

// Machine is one simulated host: a set of nodes plus the
// node.MachineController capability they use to reach each other and
// spawn new kids, grounded in original_source/dist_zero/machine.py's
// MachineController/NodeManager split, collapsed here into a single type
// since this harness has no real process boundary to keep separate.
type Machine struct {
	id    string
	sim   *Simulation
	nodes map[string]node.Node
}

func (m *Machine) ID() string { return m.id }

// SpawnNode constructs the concrete node named by cfg's dynamic type and
// starts tracking it on this machine. onMachine is accepted to satisfy
// node.MachineController's signature; every node in this harness spawns
// onto the machine that received the SpawnNode call, since there is no
// placement/scheduling concern in scope here (spec.md's Non-goal on
// spawner/placement logic).
func (m *Machine) SpawnNode(cfg any, onMachine node.Handle) node.Handle {
	var n node.Node
	switch c := cfg.(type) {
	case dataset.Config:
		n = dataset.New(c, m, m)
	case link.Config:
		n = link.New(c, m)
	case migration.Config:
		n = migration.New(c, m)
	default:
		panic(cos.NewErrInternal("sim: unrecognized node config type %T", cfg))
	}
	m.Add(n)
	n.Initialize()
	return n.Handle()
}

// Add registers a node that was constructed outside of SpawnNode (for
// instance a root a test builds by hand before the simulation starts) so
// the simulation's routing table and tick loop pick it up.
func (m *Machine) Add(n node.Node) {
	id := n.Handle().NodeID
	m.nodes[id] = n
	m.sim.owner[id] = m.id
}

func (m *Machine) Send(receiver node.Handle, msg wire.Envelope, sender node.Handle) {
	target := m.sim.route(receiver)
	if target == nil {
		nlog.Warningf("sim: message %q to unknown node %s dropped", msg.Kind, receiver.NodeID)
		return
	}
	n, ok := target.nodes[receiver.NodeID]
	if !ok {
		nlog.Warningf("sim: message %q to node %s not present on machine %s dropped", msg.Kind, receiver.NodeID, target.id)
		return
	}
	n.Receive(msg, sender)
}

// Node returns the node with id hosted on this machine, or nil.
func (m *Machine) Node(id string) node.Node { return m.nodes[id] }

func (m *Machine) NewHandleFor(localNodeID, remoteNodeID string) node.Handle {
	return node.Handle{NodeID: localNodeID, ControllerID: m.id}
}

func (m *Machine) Now() time.Duration { return m.sim.now }

func (m *Machine) elapse(d time.Duration) {
	for _, n := range m.nodes {
		n.Elapse(d)
	}
}
