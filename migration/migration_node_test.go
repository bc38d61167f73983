/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package migration_test

import (
	"testing"
	"time"

	"github.com/koreiklein/distzero/cmn"
	"github.com/koreiklein/distzero/migration"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

// routingController wires a coordinator and its two role migrators
// together directly, standing in for the machines that would normally
// carry their messages. attach_migrator is swallowed: the test plays the
// node side itself by constructing the migrators by hand.
type routingController struct {
	migrationNode *migration.MigrationNode
	source        *migration.SourceMigrator
	sink          *migration.SinkMigrator
}

func (c *routingController) Send(receiver node.Handle, msg wire.Envelope, sender node.Handle) {
	if msg.Kind == wire.KindAttachMigrator {
		return
	}
	switch receiver.NodeID {
	case "migration-1":
		c.migrationNode.Receive(msg, sender)
	case "source":
		c.source.Receive(sender.NodeID, msg)
	case "sink":
		c.sink.Receive(sender.NodeID, msg)
	}
}

func (c *routingController) SpawnNode(cfg any, onMachine node.Handle) node.Handle { return node.Handle{} }
func (c *routingController) NewHandleFor(localNodeID, remoteNodeID string) node.Handle {
	return node.Handle{NodeID: localNodeID}
}
func (c *routingController) Now() time.Duration { return 0 }

func setup(t *testing.T, willSync bool, sourceHost, sinkHost *migration.NodeHost) (*routingController, *migration.MigrationNode) {
	t.Helper()
	ctrl := &routingController{}
	migrationHandle := node.Handle{NodeID: "migration-1"}
	sourceHandle := node.Handle{NodeID: "source"}
	sinkHandle := node.Handle{NodeID: "sink"}

	mn := migration.New(migration.Config{
		MigrationID: "migration-1",
		Kind:        migration.KindDataChange,
		Source:      sourceHandle,
		Sink:        sinkHandle,
		WillSync:    willSync,
	}, ctrl)
	ctrl.migrationNode = mn

	sourceHost.Controller, sourceHost.Owner = ctrl, sourceHandle
	sinkHost.Controller, sinkHost.Owner = ctrl, sinkHandle

	ctrl.source = migration.NewSourceMigrator("migration-1", migrationHandle, sinkHandle, *sourceHost)
	ctrl.sink = migration.NewSinkMigrator("migration-1", migrationHandle, sourceHandle, *sinkHost, willSync)
	return ctrl, mn
}

func TestMigrationRunsAttachThroughTerminate(t *testing.T) {
	ctrl, mn := setup(t, false, &migration.NodeHost{}, &migration.NodeHost{})

	mn.Initialize()
	if mn.Phase() != migration.PhaseAttaching {
		t.Fatalf("expected attaching phase immediately after Initialize, got %s", mn.Phase())
	}

	ctrl.source.Initialize()
	ctrl.sink.Initialize()

	// The sink holds the migration in preparing-switch until its drain
	// barrier settles, which requires simulated time to pass.
	if mn.Phase() != migration.PhasePreparingSwitch {
		t.Fatalf("expected preparing_switch while the sink drains, got %s", mn.Phase())
	}

	for i := 0; i < 4 && mn.Phase() != migration.PhaseDone; i++ {
		ctrl.sink.Elapse(cmn.Conf.StepLength)
	}
	if mn.Phase() != migration.PhaseDone {
		t.Fatalf("expected migration to reach done after the sink's barrier settles, got %s", mn.Phase())
	}
}

func TestMigrationSyncPhaseCarriesStateToTheSink(t *testing.T) {
	var installed int64
	var deltasOnlyLog []bool

	sourceHost := &migration.NodeHost{Total: func() int64 { return 42 }}
	sinkHost := &migration.NodeHost{
		SetTotal:   func(v int64) { installed = v },
		DeltasOnly: func(on bool) { deltasOnlyLog = append(deltasOnlyLog, on) },
	}
	ctrl, mn := setup(t, true, sourceHost, sinkHost)

	mn.Initialize()
	ctrl.source.Initialize()
	ctrl.sink.Initialize()

	if installed != 42 {
		t.Fatalf("expected the sink to receive the source's total 42 during sync, got %d", installed)
	}
	if mn.Phase() != migration.PhasePreparingSwitch {
		t.Fatalf("expected preparing_switch after sync, got %s", mn.Phase())
	}

	for i := 0; i < 4 && mn.Phase() != migration.PhaseDone; i++ {
		ctrl.sink.Elapse(cmn.Conf.StepLength)
	}
	if mn.Phase() != migration.PhaseDone {
		t.Fatalf("expected done, got %s", mn.Phase())
	}

	// deltas_only was entered exactly once on prepare and exited exactly
	// once on swap.
	if len(deltasOnlyLog) != 2 || !deltasOnlyLog[0] || deltasOnlyLog[1] {
		t.Fatalf("expected deltas-only toggles [true false], got %v", deltasOnlyLog)
	}
}

func TestSinkWaitsForSwapCoverage(t *testing.T) {
	covered := false
	var popped []uint64
	sinkHost := &migration.NodeHost{
		Covers:     func(sender string, sn uint64) bool { return covered },
		PopThrough: func(sender string, sn uint64) { popped = append(popped, sn) },
	}
	ctrl, mn := setup(t, false, &migration.NodeHost{}, sinkHost)

	mn.Initialize()
	ctrl.source.Initialize()
	ctrl.sink.Initialize()
	for i := 0; i < 4 && mn.Phase() == migration.PhasePreparingSwitch; i++ {
		ctrl.sink.Elapse(cmn.Conf.StepLength)
	}

	// The swap marker arrived but the sink's deltas do not yet cover
	// the cut: the migration must hold in switching.
	if mn.Phase() != migration.PhaseSwitching {
		t.Fatalf("expected the migration to hold in switching until coverage, got %s", mn.Phase())
	}
	if len(popped) != 0 {
		t.Fatalf("expected no deltas popped before coverage, got %v", popped)
	}

	covered = true
	for i := 0; i < 4 && mn.Phase() != migration.PhaseDone; i++ {
		ctrl.sink.Elapse(cmn.Conf.StepLength)
	}
	if mn.Phase() != migration.PhaseDone {
		t.Fatalf("expected done once the buffered deltas cover the cut, got %s", mn.Phase())
	}
	if len(popped) != 1 {
		t.Fatalf("expected exactly one pop through the swap point, got %v", popped)
	}
}

func TestSinkBarrierWaitsForInFlightDeltas(t *testing.T) {
	ctrl, mn := setup(t, false, &migration.NodeHost{}, &migration.NodeHost{})

	mn.Initialize()
	ctrl.source.Initialize()
	ctrl.sink.Initialize()

	// Pin an in-flight delta: the barrier must not settle while it
	// remains outstanding.
	ctrl.sink.PinInFlight()
	for i := 0; i < 4; i++ {
		ctrl.sink.Elapse(cmn.Conf.StepLength)
	}
	if mn.Phase() != migration.PhasePreparingSwitch {
		t.Fatalf("expected the switch to wait on the pinned delta, got %s", mn.Phase())
	}

	ctrl.sink.UnpinInFlight()
	for i := 0; i < 4 && mn.Phase() != migration.PhaseDone; i++ {
		ctrl.sink.Elapse(cmn.Conf.StepLength)
	}
	if mn.Phase() != migration.PhaseDone {
		t.Fatalf("expected done after the pinned delta drained, got %s", mn.Phase())
	}
}
