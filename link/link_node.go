// Package link implements the bipartite link node described in spec.md
// §4.4/§4.5: a node sitting between a left and right configuration set,
// choosing via a Connector which intermediate nodes exist between them.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package link

import (
	"time"

	"github.com/koreiklein/distzero/cmn"
	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/cmn/nlog"
	"github.com/koreiklein/distzero/migration"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

type Variant string

const (
	VariantAllToAll          Variant = "all_to_all"
	VariantAllToOneAvailable Variant = "all_to_one_available"
)

// Config is the node_config message that spawns a LinkNode. ExpectedLeft
// and ExpectedRight name the kids it must hear a hello from before it can
// compute a routing assignment; a deployment wires them in statically
// rather than discovering them by growing an intermediate tree, per the
// simplification recorded in DESIGN.md.
type Config struct {
	NodeID        string   `json:"id"`
	Variant       Variant  `json:"variant"`
	ExpectedLeft  []string `json:"expected_left"`
	ExpectedRight []string `json:"expected_right"`
}

// LinkNode is the routing fabric placed between two datasets (or between a
// dataset and the outside world): it learns the handles of its left and
// right neighbors, computes an assignment with a Connector once both sides
// have reported in, and tells every left neighbor who to send to. It never
// sits in the data path itself.
type LinkNode struct {
	id         string
	self       node.Handle
	variant    Variant
	connector  Connector
	controller node.MachineController

	expectedLeft  map[string]struct{}
	expectedRight map[string]struct{}

	leftHandles       map[string]node.Handle
	rightHandles      map[string]node.Handle
	rightAvailability map[string]int64

	migrators map[string]migration.Migrator

	// plan is the interior topology picked for an all-to-all link whose
	// direct product would blow the per-node connection budget; the
	// spawner materializes its layers as intermediate nodes.
	plan *Topology

	connected  bool
	terminated bool
}

func New(cfg Config, controller node.MachineController) *LinkNode {
	expectedLeft := make(map[string]struct{}, len(cfg.ExpectedLeft))
	for _, id := range cfg.ExpectedLeft {
		expectedLeft[id] = struct{}{}
	}
	expectedRight := make(map[string]struct{}, len(cfg.ExpectedRight))
	for _, id := range cfg.ExpectedRight {
		expectedRight[id] = struct{}{}
	}

	var connector Connector
	switch cfg.Variant {
	case VariantAllToAll:
		connector = AllToAllConnector{}
	default:
		connector = AllToOneAvailableConnector{}
	}

	return &LinkNode{
		id:                cfg.NodeID,
		self:              node.Handle{NodeID: cfg.NodeID},
		variant:           cfg.Variant,
		connector:         connector,
		controller:        controller,
		expectedLeft:      expectedLeft,
		expectedRight:     expectedRight,
		leftHandles:       make(map[string]node.Handle),
		rightHandles:      make(map[string]node.Handle),
		rightAvailability: make(map[string]int64),
		migrators:         make(map[string]migration.Migrator),
	}
}

func (l *LinkNode) Handle() node.Handle { return l.self }

func (l *LinkNode) Initialize() {}

func (l *LinkNode) Elapse(d time.Duration) {
	if l.terminated {
		return
	}
	for _, m := range l.migrators {
		m.Elapse(d)
	}
}

func (l *LinkNode) Receive(msg wire.Envelope, sender node.Handle) {
	if wire.MigrationKinds[msg.Kind] {
		l.receiveMigration(msg, sender)
		return
	}
	switch msg.Kind {
	case wire.KindHelloLeft:
		var body helloLeftMsg
		_ = msg.Decode(&body)
		l.leftHandles[sender.NodeID] = body.Handle
		l.maybeConnect()
	case wire.KindHelloRight:
		var body helloRightMsg
		_ = msg.Decode(&body)
		l.rightHandles[sender.NodeID] = body.Handle
		l.rightAvailability[sender.NodeID] = body.Availability
		l.maybeConnect()
	case wire.KindKillNode, wire.KindTerminateNode:
		nlog.Infof("link node %s terminating", l.id)
		l.terminated = true
	default:
		nlog.Warningf("link node %s: unrecognized message kind %q from %s", l.id, msg.Kind, sender.NodeID)
	}
}

// receiveMigration routes a migration-protocol message to the Migrator
// matching its migration id. A link node carries no accumulated state of
// its own, so its NodeHost exposes no sync or deltas-only hooks; an
// insertion or removal role on a link node is pure routing bookkeeping.
func (l *LinkNode) receiveMigration(msg wire.Envelope, sender node.Handle) {
	if msg.Kind == wire.KindAttachMigrator {
		migrationID, role, peer, willSync, err := migration.DecodeAttach(msg)
		if err != nil {
			nlog.Warningf("link node %s: malformed attach_migrator: %v", l.id, err)
			return
		}
		if _, ok := l.migrators[migrationID]; ok {
			nlog.Warningf("link node %s: migrator for %s already attached", l.id, migrationID)
			return
		}
		m := migration.Attach(role, migrationID, sender, peer, migration.NodeHost{
			Controller: l.controller,
			Owner:      l.self,
		}, willSync)
		l.migrators[migrationID] = m
		m.Initialize()
		return
	}

	migrationID := migration.PeekMigrationID(msg)
	m, ok := l.migrators[migrationID]
	if !ok {
		nlog.Warningf("link node %s: message %q for unknown migration %s", l.id, msg.Kind, migrationID)
		return
	}
	m.Receive(sender.NodeID, msg)
	if msg.Kind == wire.KindTerminateMigrator {
		delete(l.migrators, migrationID)
	}
}

func (l *LinkNode) maybeConnect() {
	if l.connected {
		return
	}
	if len(l.leftHandles) < len(l.expectedLeft) || len(l.rightHandles) < len(l.expectedRight) {
		return
	}

	lefts := make([]string, 0, len(l.leftHandles))
	for id := range l.expectedLeft {
		if _, ok := l.leftHandles[id]; !ok {
			return
		}
		lefts = append(lefts, id)
	}
	rights := make([]string, 0, len(l.rightHandles))
	for id := range l.expectedRight {
		if _, ok := l.rightHandles[id]; !ok {
			return
		}
		rights = append(rights, id)
	}

	if l.variant == VariantAllToAll && len(lefts)*len(rights) > cmn.Conf.SumNodeReceiverLimit {
		plan, err := NewTopologyPicker(lefts, rights,
			cmn.Conf.SumNodeSenderLimit, cmn.Conf.SumNodeReceiverLimit,
			func(kind string) string { return cos.NewID("LinkNode_" + kind) })
		if err != nil {
			nlog.Warningf("link node %s: failed to pick a topology: %v", l.id, err)
			return
		}
		l.plan = plan
		nlog.Infof("link node %s picked a %d-layer interior for %d x %d kids",
			l.id, plan.Height(), len(lefts), len(rights))
	}

	assignment, err := l.connector.Connect(lefts, rights, l.rightAvailability)
	if err != nil {
		nlog.Warningf("link node %s: failed to connect: %v", l.id, err)
		return
	}
	l.connected = true

	for leftID, rightIDs := range assignment {
		targets := make([]node.Handle, len(rightIDs))
		for i, rid := range rightIDs {
			targets[i] = l.rightHandles[rid]
		}
		env, _ := wire.Encode(wire.KindConnectNode, connectNodeMsg{Targets: targets})
		l.controller.Send(l.leftHandles[leftID], env, l.self)
	}
	nlog.Infof("link node %s connected %d lefts to %d rights", l.id, len(lefts), len(rights))
}

// Plan is the picked interior topology, when the link's fan required
// one; nil for links small enough to route directly.
func (l *LinkNode) Plan() *Topology { return l.plan }
