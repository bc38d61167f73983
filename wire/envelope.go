// Package wire defines the single on-the-wire message shape every node,
// link, and machine in this repository sends: a small tagged envelope
// encoded with json-iterator, plus the data-plane NetworkMessage that
// carries one between two machines.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind discriminates the payload carried by an Envelope. Keeping one sum
// type for every message a node can receive (rather than one Go channel or
// method per message kind) mirrors the design note in spec.md §9 that
// collapses dynamic dispatch into a single tagged NetworkMessage type.
type Kind string

const (
	KindIncrement   Kind = "increment"
	KindInputAction Kind = "input_action"

	KindHelloParent   Kind = "hello_parent"
	KindGoodbyeParent Kind = "goodbye_parent"
	KindKidSummary    Kind = "kid_summary"
	KindSpawnKid      Kind = "spawn_kid"
	KindKillNode      Kind = "kill_node"
	KindMergeWith     Kind = "merge_with"
	KindAdopt         Kind = "adopt"
	KindBumpedHeight  Kind = "bumped_height"

	KindHelloLeft  Kind = "hello_left"
	KindHelloRight Kind = "hello_right"

	KindConnectNode         Kind = "connect_node"
	KindReceive             Kind = "receive"
	KindAcknowledge         Kind = "acknowledge"
	KindStartDuplicating    Kind = "start_duplicating"
	KindFinishDuplicating   Kind = "finish_duplicating"
	KindFinishedDuplicating Kind = "finished_duplicating"

	KindConfigureNewFlowLeft  Kind = "configure_new_flow_left"
	KindConfigureNewFlowRight Kind = "configure_new_flow_right"
	KindSetupFlow             Kind = "setup_flow"

	KindAttachMigrator       Kind = "attach_migrator"
	KindAttachedMigrator     Kind = "attached_migrator"
	KindStartFlow            Kind = "start_flow"
	KindFlowStarted          Kind = "flow_started"
	KindCompletedFlow        Kind = "completed_flow"
	KindStartSyncing         Kind = "start_syncing"
	KindSetSumTotal          Kind = "set_sum_total"
	KindSumTotalSet          Kind = "sum_total_set"
	KindSyncerIsSynced       Kind = "syncer_is_synced"
	KindPrepareForSwitch     Kind = "prepare_for_switch"
	KindPreparedForSwitch    Kind = "prepared_for_switch"
	KindSwitchFlows          Kind = "switch_flows"
	KindSwappedFromDuplicate Kind = "swapped_from_duplicate"
	KindSwappedToDuplicate   Kind = "swapped_to_duplicate"
	KindSwitchedFlows        Kind = "switched_flows"
	KindTerminateMigrator    Kind = "terminate_migrator"
	KindMigratorTerminated   Kind = "migrator_terminated"
	KindTerminateNode        Kind = "terminate_node"
)

// MigrationKinds is the set of kinds a node forwards to the Migrator
// matching the message's migration id rather than interpreting itself.
var MigrationKinds = map[Kind]bool{
	KindAttachMigrator:       true,
	KindAttachedMigrator:     true,
	KindStartFlow:            true,
	KindFlowStarted:          true,
	KindCompletedFlow:        true,
	KindStartSyncing:         true,
	KindSetSumTotal:          true,
	KindSumTotalSet:          true,
	KindSyncerIsSynced:       true,
	KindPrepareForSwitch:     true,
	KindPreparedForSwitch:    true,
	KindSwitchFlows:          true,
	KindSwappedFromDuplicate: true,
	KindSwappedToDuplicate:   true,
	KindSwitchedFlows:        true,
	KindTerminateMigrator:    true,
	KindMigratorTerminated:   true,
	KindConfigureNewFlowLeft:  true,
	KindConfigureNewFlowRight: true,
}

// Envelope is the payload every Exporter/Importer pair transports and every
// control-API request/response wraps.
type Envelope struct {
	Kind Kind                `json:"kind"`
	Body jsoniter.RawMessage `json:"body,omitempty"`
}

func Encode(kind Kind, body any) (Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, Body: raw}, nil
}

func (e Envelope) Decode(out any) error {
	if len(e.Body) == 0 {
		return nil
	}
	return json.Unmarshal(e.Body, out)
}

// NetworkMessage is what actually crosses the UDP data-plane socket between
// two machines: an Envelope addressed to a specific node, optionally
// sequence-numbered by the sender's Linker.
type NetworkMessage struct {
	SenderID       string   `json:"sender_id"`
	ReceiverID     string   `json:"receiver_id"`
	SequenceNumber *uint64  `json:"sequence_number,omitempty"`
	MigrationID    *string  `json:"migration_id,omitempty"`
	Envelope       Envelope `json:"envelope"`
}

func MarshalNetworkMessage(m NetworkMessage) ([]byte, error) { return json.Marshal(m) }

func UnmarshalNetworkMessage(data []byte) (NetworkMessage, error) {
	var m NetworkMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
