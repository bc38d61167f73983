/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package migration

import (
	"time"

	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/cmn/nlog"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

// MigrationNode is the coordinator spec.md §4.6 describes: it drives a
// Source role and a Sink role through Attach, StartNewFlow, FlowStarted,
// Sync (when the sink is stateful), PrepareForSwitch, Switch, and
// Terminate, without ever placing itself in the data path. Grounded in
// the phase sequencing source_migrator.py/sink_migrator.py drive
// cooperatively, collapsed here into a single explicit phase machine
// since this repository's migrations always connect exactly one source
// node to one sink node rather than a recursive tree of each (documented
// alongside the rest of the `link` package's single-layer
// simplification).
type MigrationNode struct {
	id       string
	self     node.Handle
	kind     Kind
	source   node.Handle
	sink     node.Handle
	willSync bool

	controller node.MachineController

	phase Phase

	attachedSource, attachedSink       bool
	flowStartedSource, flowStartedSink bool
	preparedSource, preparedSink       bool
	switchedSource, switchedSink       bool
	terminatedSource, terminatedSink   bool

	sinkFirstNewSN uint64
}

func New(cfg Config, controller node.MachineController) *MigrationNode {
	return &MigrationNode{
		id:         cfg.MigrationID,
		self:       node.Handle{NodeID: cfg.MigrationID},
		kind:       cfg.Kind,
		source:     cfg.Source,
		sink:       cfg.Sink,
		willSync:   cfg.WillSync,
		controller: controller,
		phase:      PhaseNew,
	}
}

func (m *MigrationNode) Handle() node.Handle { return m.self }

func (m *MigrationNode) Initialize() {
	m.phase = PhaseAttaching
	m.send(m.source, wire.KindAttachMigrator, attachMigratorMsg{
		MigrationID: m.id, Role: RoleSource, Peer: m.sink,
	})
	m.send(m.sink, wire.KindAttachMigrator, attachMigratorMsg{
		MigrationID: m.id, Role: sinkRoleFor(m.kind), Peer: m.source, WillSync: m.willSync,
	})
}

// sinkRoleFor picks the role of the receiving end: a removal migration's
// receiving end is the node being excised and plays the removal role;
// every other kind, insertion included, uses a plain sink.
func sinkRoleFor(kind Kind) Role {
	switch kind {
	case KindRemoval:
		return RoleRemoval
	default:
		return RoleSink
	}
}

func (m *MigrationNode) send(to node.Handle, kind wire.Kind, body any) {
	env, err := wire.Encode(kind, body)
	if err != nil {
		panic(cos.NewErrInternal("encoding migration message: %v", err))
	}
	m.controller.Send(to, env, m.self)
}

func (m *MigrationNode) Elapse(_ time.Duration) {}

func (m *MigrationNode) Receive(msg wire.Envelope, sender node.Handle) {
	switch msg.Kind {
	case wire.KindAttachedMigrator:
		m.markAttached(sender)
	case wire.KindCompletedFlow:
		var body completedFlowMsg
		_ = msg.Decode(&body)
		m.sinkFirstNewSN = body.FirstNewSN
	case wire.KindFlowStarted:
		m.markFlowStarted(sender)
	case wire.KindSyncerIsSynced:
		m.markSynced(sender)
	case wire.KindPreparedForSwitch:
		m.markPrepared(sender)
	case wire.KindSwitchedFlows:
		m.markSwitched(sender)
	case wire.KindMigratorTerminated:
		m.markTerminated(sender)
	default:
		nlog.Warningf("migration node %s: unrecognized message kind %q from %s", m.id, msg.Kind, sender.NodeID)
	}
}

func (m *MigrationNode) markAttached(sender node.Handle) {
	m.mark(sender, &m.attachedSource, &m.attachedSink)
	if m.phase == PhaseAttaching && m.attachedSource && m.attachedSink {
		m.phase = PhaseFlowStarting
		nlog.Infof("migration %s: both roles attached, starting flow", m.id)
		m.send(m.source, wire.KindStartFlow, startFlowMsg{MigrationID: m.id})
		m.send(m.sink, wire.KindStartFlow, startFlowMsg{MigrationID: m.id})
	}
}

func (m *MigrationNode) markFlowStarted(sender node.Handle) {
	m.mark(sender, &m.flowStartedSource, &m.flowStartedSink)
	if m.phase == PhaseFlowStarting && m.flowStartedSource && m.flowStartedSink {
		if m.willSync {
			m.phase = PhaseSyncing
			nlog.Infof("migration %s: flow started, syncing state to the new flow", m.id)
			m.send(m.source, wire.KindStartSyncing, startSyncingMsg{MigrationID: m.id})
			return
		}
		m.prepareForSwitch()
	}
}

func (m *MigrationNode) markSynced(sender node.Handle) {
	if m.phase == PhaseSyncing && sender.NodeID == m.source.NodeID {
		m.prepareForSwitch()
	}
}

func (m *MigrationNode) prepareForSwitch() {
	m.phase = PhasePreparingSwitch
	nlog.Infof("migration %s: preparing for switch", m.id)
	m.send(m.source, wire.KindPrepareForSwitch, prepareForSwitchMsg{MigrationID: m.id})
	m.send(m.sink, wire.KindPrepareForSwitch, prepareForSwitchMsg{MigrationID: m.id})
}

func (m *MigrationNode) markPrepared(sender node.Handle) {
	m.mark(sender, &m.preparedSource, &m.preparedSink)
	if m.phase == PhasePreparingSwitch && m.preparedSource && m.preparedSink {
		m.phase = PhaseSwitching
		nlog.Infof("migration %s: every participant prepared, switching flows", m.id)
		m.send(m.source, wire.KindSwitchFlows, switchFlowsMsg{MigrationID: m.id})
	}
}

func (m *MigrationNode) markSwitched(sender node.Handle) {
	m.mark(sender, &m.switchedSource, &m.switchedSink)
	if m.phase == PhaseSwitching && m.switchedSource && m.switchedSink {
		m.phase = PhaseTerminating
		nlog.Infof("migration %s: flows switched, terminating migrators", m.id)
		m.send(m.source, wire.KindTerminateMigrator, terminateMigratorMsg{MigrationID: m.id})
		m.send(m.sink, wire.KindTerminateMigrator, terminateMigratorMsg{MigrationID: m.id})
	}
}

func (m *MigrationNode) markTerminated(sender node.Handle) {
	m.mark(sender, &m.terminatedSource, &m.terminatedSink)
	if m.phase == PhaseTerminating && m.terminatedSource && m.terminatedSink {
		m.phase = PhaseDone
		nlog.Infof("migration %s: complete", m.id)
	}
}

func (m *MigrationNode) mark(sender node.Handle, src, snk *bool) {
	switch sender.NodeID {
	case m.source.NodeID:
		*src = true
	case m.sink.NodeID:
		*snk = true
	}
}

func (m *MigrationNode) Phase() Phase { return m.phase }

// SinkFirstNewSN is the first new-flow sequence number the sink reported
// in its completed_flow, the cut point the ordering guarantee across the
// swap is stated in terms of.
func (m *MigrationNode) SinkFirstNewSN() uint64 { return m.sinkFirstNewSN }
