// Package node defines the identity and capability types shared by every
// node kind in the system: a stable Handle (the right to send to a node
// from a given origin) and the MachineController interface a Node uses to
// reach its host machine.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package node

import (
	"time"

	"github.com/koreiklein/distzero/wire"
)

// Handle is the capability to send to a node. It dissolves what would
// otherwise be a direct object reference (and, across nodes on different
// machines, a reference cycle) into a plain comparable value: the id of
// the target node and the id of the controller managing it.
type Handle struct {
	NodeID       string `json:"id"`
	ControllerID string `json:"controller_id"`
}

func (h Handle) IsZero() bool { return h.NodeID == "" }

// MachineController is the interface every Node uses to interact with the
// machine hosting it: sending messages, spawning kids, and minting
// transports (handles) for other nodes to reach it.
type MachineController interface {
	// Send delivers msg to receiver, on behalf of sender. The caller must
	// already hold a Handle for receiver (having received one, or having
	// been handed one by receiver's controller).
	Send(receiver Handle, msg wire.Envelope, sender Handle)

	// SpawnNode asks onMachine to start a new node per cfg, and returns a
	// handle the caller can use to reach it.
	SpawnNode(cfg any, onMachine Handle) Handle

	// NewHandleFor mints a handle that remoteNodeID can use to reach
	// localNodeID, a node managed by this controller.
	NewHandleFor(localNodeID, remoteNodeID string) Handle

	// Now returns the controller's current simulated clock.
	Now() time.Duration
}

// Node is the interface every dataset, link, and migration-role node
// implements so a machine's run loop can drive it uniformly.
type Node interface {
	Handle() Handle
	Initialize()
	Elapse(d time.Duration)
	Receive(msg wire.Envelope, sender Handle)
}
