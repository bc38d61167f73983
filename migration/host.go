/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package migration

import (
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

// NodeHost adapts a node.MachineController and a node's own handle into
// the host interface a Migrator needs, so any dataset or link node can
// hand its migrators a thin view of itself rather than its full API.
// The hook fields are optional: a node with no deltas-only mode or no
// accumulated state (a link node, say) leaves them nil.
type NodeHost struct {
	Controller node.MachineController
	Owner      node.Handle

	DeltasOnly func(on bool)                         // toggle the owner's deltas-only mode
	Total      func() int64                          // read the owner's accumulated state
	SetTotal   func(int64)                           // install a synced state slice
	Covers     func(senderID string, sn uint64) bool // delta-set coverage up to sn
	PopThrough func(senderID string, sn uint64)      // apply buffered deltas through the swap point
	NextSN     func() uint64                         // the owner's next outgoing sequence number
}

func (h NodeHost) Send(receiver node.Handle, msg wire.Envelope, sender node.Handle) {
	h.Controller.Send(receiver, msg, sender)
}

func (h NodeHost) Self() node.Handle { return h.Owner }

func (h NodeHost) SetDeltasOnly(on bool) {
	if h.DeltasOnly != nil {
		h.DeltasOnly(on)
	}
}

func (h NodeHost) StateTotal() int64 {
	if h.Total != nil {
		return h.Total()
	}
	return 0
}

func (h NodeHost) InstallTotal(total int64) {
	if h.SetTotal != nil {
		h.SetTotal(total)
	}
}

// CoversUpTo defaults to true for stateless hosts: a node with no delta
// set has nothing left to wait for.
func (h NodeHost) CoversUpTo(senderID string, sn uint64) bool {
	if h.Covers != nil {
		return h.Covers(senderID, sn)
	}
	return true
}

func (h NodeHost) PopDeltasThrough(senderID string, sn uint64) {
	if h.PopThrough != nil {
		h.PopThrough(senderID, sn)
	}
}

func (h NodeHost) FirstLiveSN() uint64 {
	if h.NextSN != nil {
		return h.NextSN()
	}
	return 0
}
