// Package migration implements the dataflow migration protocol of
// spec.md §4.6: a MigrationNode coordinating a Source and Sink role
// through the phases Attach, StartNewFlow, FlowStarted, an optional
// Sync, PrepareForSwitch, Switch, and Terminate, changing which nodes
// a flow of data passes through without ever losing or duplicating a
// message.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package migration

import (
	"time"

	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

// Role names the part a node-local Migrator plays in a migration.
// Grounded in migrator.py's four concrete subclasses: SourceMigrator (the
// sending end of the migrating flow, which keeps sending across the
// switch), SinkMigrator (the
// new destination picking up the flow), InsertionMigrator (a brand new
// node being spliced into the middle of a flow), and RemovalMigrator (an
// existing node being spliced out).
type Role string

const (
	RoleSource    Role = "source"
	RoleSink      Role = "sink"
	RoleInsertion Role = "insertion"
	RoleRemoval   Role = "removal"
)

// Kind names which of the three migration shapes spec.md §4.6 describes a
// MigrationNode is running.
type Kind string

const (
	KindDataChange Kind = "data_change" // spawn a replacement subtree and retire the old one
	KindInsertion  Kind = "insertion"   // splice a new node into an existing flow
	KindRemoval    Kind = "removal"     // splice a node out of an existing flow
)

// Phase is this migration's position in the 7-phase lifecycle.
type Phase string

const (
	PhaseNew             Phase = "new"
	PhaseAttaching       Phase = "attaching"
	PhaseFlowStarting    Phase = "flow_starting"
	PhaseSyncing         Phase = "syncing"
	PhasePreparingSwitch Phase = "preparing_switch"
	PhaseSwitching       Phase = "switching"
	PhaseTerminating     Phase = "terminating"
	PhaseDone            Phase = "done"
)

// Migrator is the node-local participant in a migration: every dataset
// or link node that plays a role in one owns exactly one per migration
// id, and forwards every migration-kind message it receives to it.
// Grounded in migrator.py's abstract base class.
type Migrator interface {
	MigrationID() string
	Initialize()
	Receive(senderID string, msg wire.Envelope)
	Elapse(d time.Duration)

	// PinInFlight/UnpinInFlight bracket one message the owning node has
	// received but not yet safely buffered in order (stuck behind a
	// sequence gap); the prepare-for-switch barrier will not complete
	// while any remain.
	PinInFlight()
	UnpinInFlight()
}

// host is the subset of a node's capabilities a Migrator needs: sending
// migration-protocol messages, the owning node's identity, and hooks
// into the owner's state (deltas-only gating, the accumulated total a
// syncing source divides across its receivers, and the delta-set
// coverage the sink consults before committing a swap).
type host interface {
	Send(receiver node.Handle, msg wire.Envelope, sender node.Handle)
	Self() node.Handle
	SetDeltasOnly(on bool)
	StateTotal() int64
	InstallTotal(total int64)

	// CoversUpTo reports whether the owner has received every message
	// from senderID strictly before sn.
	CoversUpTo(senderID string, sn uint64) bool
	// PopDeltasThrough applies the owner's buffered deltas up through
	// the swap point (sn, exclusive) for senderID.
	PopDeltasThrough(senderID string, sn uint64)
	// FirstLiveSN is the owner's next outgoing sequence number, the
	// first one after a switch's cut.
	FirstLiveSN() uint64
}
