/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package migration

import (
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

// migrationIDOf is the one field every migration-protocol message
// carries; a node peels it off to route the message to the right
// Migrator before the migrator decodes the rest.
type migrationIDOf struct {
	MigrationID string `json:"migration_id"`
}

type attachMigratorMsg struct {
	MigrationID string      `json:"migration_id"`
	Role        Role        `json:"role"`
	Peer        node.Handle `json:"peer"` // the node on the other end of the migrating flow
	WillSync    bool        `json:"will_sync"`
}

type attachedMigratorMsg struct {
	MigrationID string `json:"migration_id"`
}

type startFlowMsg struct {
	MigrationID string `json:"migration_id"`
}

type configureNewFlowRightMsg struct {
	MigrationID string `json:"migration_id"`
	FirstSN     uint64 `json:"first_sequence_number"`
}

type flowStartedMsg struct {
	MigrationID string `json:"migration_id"`
}

type completedFlowMsg struct {
	MigrationID string `json:"migration_id"`
	FirstNewSN  uint64 `json:"first_new_sequence_number"`
}

type startSyncingMsg struct {
	MigrationID string `json:"migration_id"`
}

type setSumTotalMsg struct {
	MigrationID string `json:"migration_id"`
	Total       int64  `json:"total"`
}

type sumTotalSetMsg struct {
	MigrationID string `json:"migration_id"`
}

type syncerIsSyncedMsg struct {
	MigrationID string `json:"migration_id"`
}

type prepareForSwitchMsg struct {
	MigrationID string `json:"migration_id"`
}

type preparedForSwitchMsg struct {
	MigrationID string `json:"migration_id"`
}

type switchFlowsMsg struct {
	MigrationID string `json:"migration_id"`
}

type swappedToDuplicateMsg struct {
	MigrationID string `json:"migration_id"`
	FirstLiveSN uint64 `json:"first_live_sequence_number"`
}

type swappedFromDuplicateMsg struct {
	MigrationID string `json:"migration_id"`
	FirstLiveSN uint64 `json:"first_live_sequence_number"`
}

type switchedFlowsMsg struct {
	MigrationID string `json:"migration_id"`
}

type terminateMigratorMsg struct {
	MigrationID string `json:"migration_id"`
}

type migratorTerminatedMsg struct {
	MigrationID string `json:"migration_id"`
}

// PeekMigrationID extracts the migration id every migration-protocol
// message carries, so a node can route the message to the right Migrator
// without knowing its full shape.
func PeekMigrationID(env wire.Envelope) string {
	var id migrationIDOf
	_ = env.Decode(&id)
	return id.MigrationID
}

// DecodeAttach unpacks an attach_migrator message for the node that must
// construct the role it names.
func DecodeAttach(env wire.Envelope) (migrationID string, role Role, peer node.Handle, willSync bool, err error) {
	var body attachMigratorMsg
	if err = env.Decode(&body); err != nil {
		return "", "", node.Handle{}, false, err
	}
	return body.MigrationID, body.Role, body.Peer, body.WillSync, nil
}

// Config is the node_config message that spawns a MigrationNode.
type Config struct {
	MigrationID string      `json:"id"`
	Kind        Kind        `json:"kind"`
	Source      node.Handle `json:"source"`
	Sink        node.Handle `json:"sink"`
	WillSync    bool        `json:"will_sync"`
}
