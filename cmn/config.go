// Package cmn provides common constants, types, and utilities shared by
// every distzero node, link, and machine package.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "time"

// Tunable holds every process-wide tunable named in the node configuration.
// It is read-mostly: set once at machine startup from defaults (or an
// operator-supplied override) and never mutated afterwards, so every
// goroutine and every node tick may read it without synchronization.
type Tunable struct {
	StepLength time.Duration // tick granularity driving every node's elapse(ms)

	DataNodeKidsLimit        int // B: max kids of an interior/root data node before a spawn/split
	TotalKidCapacityTrigger  int // aggregate kid capacity that triggers a bump-height
	KidSummaryInterval       time.Duration
	SumNodeSenderLimit       int // max senders before a sum node splits
	SumNodeSenderLowerLimit  int // min senders below which a sum node is a merge candidate
	SumNodeSplitNNewNodes    int // fan-out of a sum node split
	SumNodeReceiverLimit     int // max concurrent receivers of a single sum node

	TimeBetweenAcks         time.Duration // Importer/Exporter acknowledgement cadence
	TimeBetweenRetransmits  time.Duration // Linker retransmission-check cadence

	MergeWait        time.Duration // data node: wait before merging an under-full kid
	ConsumeProxyWait time.Duration // data node: wait before consuming a summary proxy

	ControlTCPPort int
	DataUDPPort    int
}

// Default returns the tunable set used unless a program descriptor overrides
// individual fields; values mirror the reference implementation's constants.
func Default() Tunable {
	return Tunable{
		StepLength: 5 * time.Millisecond,

		DataNodeKidsLimit:       8,
		TotalKidCapacityTrigger: 3,
		KidSummaryInterval:      100 * time.Millisecond,
		SumNodeSenderLimit:      15,
		SumNodeSenderLowerLimit: 4,
		SumNodeSplitNNewNodes:   2,
		SumNodeReceiverLimit:    15,

		TimeBetweenAcks:        30 * time.Millisecond,
		TimeBetweenRetransmits: 20 * time.Millisecond,

		MergeWait:        2000 * time.Millisecond,
		ConsumeProxyWait: 4000 * time.Millisecond,

		ControlTCPPort: 9877,
		DataUDPPort:    9876,
	}
}

// Conf is the process-wide tunable set, assigned once at machine startup.
// Packages below cmn read it directly rather than threading a Tunable
// through every constructor, the same tradeoff the read-mostly global
// config makes for timeouts looked up on every request.
var Conf = Default()

func (t *Tunable) Set() { Conf = *t }
