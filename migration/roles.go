/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package migration

import (
	"time"

	"github.com/koreiklein/distzero/cmn"
	"github.com/koreiklein/distzero/cmn/nlog"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
	"github.com/koreiklein/distzero/xact"
)

// quiTimeout bounds how long a sink waits for its in-flight deltas to
// drain during prepare-for-switch before warning and proceeding anyway.
// Migrations carry no wall-clock deadline of their own; this exists only
// so a wedged upstream cannot silently stall a switch forever.
const quiTimeout = time.Hour

// roleMigrator is the engine shared by every concrete Migrator role.
// This repository's link and dataset nodes never grow the recursive
// kid-fanout (one attached_migrator per kid, one flow_started per kid)
// the reference migrators coordinate through — each node plays its role
// directly against exactly one peer on the other end of the migrating
// flow. What differs by role is which protocol messages it originates:
// sources answer start_flow/start_syncing/switch_flows; everyone else
// answers the configure/prepare/swap messages a source emits.
type roleMigrator struct {
	role        Role
	migrationID string
	parent      node.Handle // the coordinating MigrationNode
	peer        node.Handle // the node on the other end of the migrating flow
	self        node.Handle
	h           host
	willSync    bool

	startFlowSeen   bool
	flowConfigured  bool
	flowStartedSent bool
	firstNewSN      uint64

	deltasOnly bool
	qui        *xact.Quiescence
	prepared   bool

	// A pending swap: the swapped_to_duplicate marker arrived but the
	// owner's buffered deltas do not yet cover the cut point.
	swapPending     bool
	swapSenderID    string
	swapFirstLiveSN uint64

	swapped bool
}

func newRoleMigrator(role Role, migrationID string, parent, peer node.Handle, h host, willSync bool) *roleMigrator {
	return &roleMigrator{
		role:        role,
		migrationID: migrationID,
		parent:      parent,
		peer:        peer,
		self:        h.Self(),
		h:           h,
		willSync:    willSync,
	}
}

func (m *roleMigrator) MigrationID() string { return m.migrationID }

func (m *roleMigrator) isSource() bool { return m.role == RoleSource || m.role == RoleInsertion }

// Initialize sends attached_migrator immediately: the single-peer
// simplification means there are no kids whose own attached_migrator
// must be collected first.
func (m *roleMigrator) Initialize() {
	m.reply(wire.KindAttachedMigrator, attachedMigratorMsg{MigrationID: m.migrationID})
}

func (m *roleMigrator) reply(kind wire.Kind, body any) {
	env, _ := wire.Encode(kind, body)
	m.h.Send(m.parent, env, m.self)
}

func (m *roleMigrator) tellPeer(kind wire.Kind, body any) {
	env, _ := wire.Encode(kind, body)
	m.h.Send(m.peer, env, m.self)
}

func (m *roleMigrator) Receive(senderID string, msg wire.Envelope) {
	switch msg.Kind {
	case wire.KindStartFlow:
		m.startFlowSeen = true
		if m.isSource() {
			m.tellPeer(wire.KindConfigureNewFlowRight, configureNewFlowRightMsg{MigrationID: m.migrationID})
			m.reply(wire.KindFlowStarted, flowStartedMsg{MigrationID: m.migrationID})
			m.flowStartedSent = true
		} else {
			m.maybeFlowStarted()
		}

	case wire.KindConfigureNewFlowRight:
		var body configureNewFlowRightMsg
		_ = msg.Decode(&body)
		m.flowConfigured = true
		m.firstNewSN = body.FirstSN
		m.maybeFlowStarted()

	case wire.KindStartSyncing:
		// A syncing source divides its current state across its new-flow
		// receivers; with one peer the whole total goes to it.
		m.tellPeer(wire.KindSetSumTotal, setSumTotalMsg{MigrationID: m.migrationID, Total: m.h.StateTotal()})

	case wire.KindSetSumTotal:
		var body setSumTotalMsg
		_ = msg.Decode(&body)
		m.h.InstallTotal(body.Total)
		m.tellPeer(wire.KindSumTotalSet, sumTotalSetMsg{MigrationID: m.migrationID})

	case wire.KindSumTotalSet:
		m.reply(wire.KindSyncerIsSynced, syncerIsSyncedMsg{MigrationID: m.migrationID})

	case wire.KindPrepareForSwitch:
		if m.role == RoleSource {
			// Sources never stop sending; they have nothing to drain.
			m.prepared = true
			m.reply(wire.KindPreparedForSwitch, preparedForSwitchMsg{MigrationID: m.migrationID})
			return
		}
		m.deltasOnly = true
		m.h.SetDeltasOnly(true)
		m.qui = xact.NewQuiescence(cmn.Conf.StepLength, quiTimeout)

	case wire.KindSwitchFlows:
		m.swapped = true
		firstLive := m.h.FirstLiveSN()
		m.tellPeer(wire.KindSwappedFromDuplicate, swappedFromDuplicateMsg{MigrationID: m.migrationID, FirstLiveSN: firstLive})
		m.tellPeer(wire.KindSwappedToDuplicate, swappedToDuplicateMsg{MigrationID: m.migrationID, FirstLiveSN: firstLive})
		m.reply(wire.KindSwitchedFlows, switchedFlowsMsg{MigrationID: m.migrationID})

	case wire.KindSwappedFromDuplicate:
		// The old flow's final marker; with a single old sender there is
		// nothing left to wait for beyond the new-flow marker below.

	case wire.KindSwappedToDuplicate:
		var body swappedToDuplicateMsg
		_ = msg.Decode(&body)
		m.swapPending = true
		m.swapSenderID = senderID
		m.swapFirstLiveSN = body.FirstLiveSN
		m.tryFinishSwap()

	case wire.KindTerminateMigrator:
		m.reply(wire.KindMigratorTerminated, migratorTerminatedMsg{MigrationID: m.migrationID})
		if m.role == RoleRemoval {
			env, _ := wire.Encode(wire.KindTerminateNode, migrationIDOf{MigrationID: m.migrationID})
			m.h.Send(m.self, env, m.self)
		}

	default:
		nlog.Warningf("migrator %s (%s): unrecognized message kind %q from %s", m.migrationID, m.role, msg.Kind, senderID)
	}
}

func (m *roleMigrator) maybeFlowStarted() {
	if m.flowStartedSent || !m.startFlowSeen || !m.flowConfigured {
		return
	}
	m.flowStartedSent = true
	m.reply(wire.KindCompletedFlow, completedFlowMsg{MigrationID: m.migrationID, FirstNewSN: m.firstNewSN})
	m.reply(wire.KindFlowStarted, flowStartedMsg{MigrationID: m.migrationID})
}

// PinInFlight/UnpinInFlight bracket one in-flight message the owning
// node has received but cannot yet buffer in order (stuck behind a
// sequence gap); the prepare-for-switch barrier will not complete
// while any remain.
func (m *roleMigrator) PinInFlight() {
	if m.qui != nil {
		m.qui.Pin()
	}
}

func (m *roleMigrator) UnpinInFlight() {
	if m.qui != nil {
		m.qui.Unpin()
	}
}

// tryFinishSwap commits a pending swap once the owner's buffered deltas
// cover everything the old flow sent before the cut: pop deltas up
// through the swap point, leave deltas-only, and report switched_flows.
func (m *roleMigrator) tryFinishSwap() {
	if !m.swapPending || !m.h.CoversUpTo(m.swapSenderID, m.swapFirstLiveSN) {
		return
	}
	m.swapPending = false
	m.h.PopDeltasThrough(m.swapSenderID, m.swapFirstLiveSN)
	m.swapped = true
	if m.deltasOnly {
		m.deltasOnly = false
		m.h.SetDeltasOnly(false)
	}
	m.reply(wire.KindSwitchedFlows, switchedFlowsMsg{MigrationID: m.migrationID})
}

// Elapse drives the prepare-for-switch drain barrier — once every
// pinned in-flight delta has drained and stayed drained for a settle
// tick, the migrator reports prepared_for_switch upward — and retries
// any swap still waiting on delta coverage.
func (m *roleMigrator) Elapse(d time.Duration) {
	if m.qui != nil && !m.prepared {
		switch m.qui.Check(d) {
		case xact.QuiDone:
			m.prepared = true
			m.reply(wire.KindPreparedForSwitch, preparedForSwitchMsg{MigrationID: m.migrationID})
		case xact.QuiTimeout:
			nlog.Warningf("migrator %s (%s): drain barrier timed out, proceeding to switch", m.migrationID, m.role)
			m.prepared = true
			m.reply(wire.KindPreparedForSwitch, preparedForSwitchMsg{MigrationID: m.migrationID})
		}
	}
	m.tryFinishSwap()
}

// SourceMigrator runs on the node a migration is retiring data away
// from. Grounded in migration/source_migrator.py.
type SourceMigrator struct{ *roleMigrator }

func NewSourceMigrator(migrationID string, parent, peer node.Handle, h host) *SourceMigrator {
	return &SourceMigrator{newRoleMigrator(RoleSource, migrationID, parent, peer, h, false)}
}

// SinkMigrator runs on the node a migration is sending data to.
// Grounded in migration/sink_migrator.py; its will_sync flag governs
// whether the coordinator schedules a sync phase before the switch.
type SinkMigrator struct{ *roleMigrator }

func NewSinkMigrator(migrationID string, parent, peer node.Handle, h host, willSync bool) *SinkMigrator {
	return &SinkMigrator{newRoleMigrator(RoleSink, migrationID, parent, peer, h, willSync)}
}

// InsertionMigrator runs on a brand new node being spliced into an
// existing flow: a sink for its left configurations and a source for its
// right ones. Grounded in migration/insertion_migrator.py.
type InsertionMigrator struct{ *roleMigrator }

func NewInsertionMigrator(migrationID string, parent, peer node.Handle, h host) *InsertionMigrator {
	return &InsertionMigrator{newRoleMigrator(RoleInsertion, migrationID, parent, peer, h, false)}
}

// RemovalMigrator runs on an existing node being spliced out of a flow;
// after its migrator terminates it also terminates the node itself.
// Grounded in migration/removal_migrator.py.
type RemovalMigrator struct{ *roleMigrator }

func NewRemovalMigrator(migrationID string, parent, peer node.Handle, h host) *RemovalMigrator {
	return &RemovalMigrator{newRoleMigrator(RoleRemoval, migrationID, parent, peer, h, false)}
}

// Attach constructs the Migrator for role, the node-side half of an
// attach_migrator message. The returned migrator has not yet greeted its
// coordinator; the caller invokes Initialize once it is registered.
func Attach(role Role, migrationID string, coordinator, peer node.Handle, h NodeHost, willSync bool) Migrator {
	switch role {
	case RoleSource:
		return NewSourceMigrator(migrationID, coordinator, peer, h)
	case RoleSink:
		return NewSinkMigrator(migrationID, coordinator, peer, h, willSync)
	case RoleInsertion:
		return NewInsertionMigrator(migrationID, coordinator, peer, h)
	default:
		return NewRemovalMigrator(migrationID, coordinator, peer, h)
	}
}
