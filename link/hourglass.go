/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package link

// HourglassTransaction replaces a complete bipartite graph of senders and
// receivers with an hourglass: every sender gets exactly one connection
// to a single mid node, and the mid node gets exactly one connection to
// each receiver. Used when an AllToAllConnector's fan-out would blow
// past a receiver's connection budget. Grounded in
// messages/hourglass.py's message vocabulary (mid_node_up,
// mid_node_ready, start_hourglass, hourglass_swap).
type HourglassTransaction struct {
	midNodeID   string
	senderIDs   []string
	receiverIDs []string

	midNodeUp      bool
	swappedSenders map[string]struct{}
}

func NewHourglassTransaction(midNodeID string, senderIDs, receiverIDs []string) *HourglassTransaction {
	return &HourglassTransaction{
		midNodeID:      midNodeID,
		senderIDs:      senderIDs,
		receiverIDs:    receiverIDs,
		swappedSenders: make(map[string]struct{}, len(senderIDs)),
	}
}

// MidNodeUp records that the mid node has started running; until this
// happens no sender may be told to swap its sends to it.
func (h *HourglassTransaction) MidNodeUp() { h.midNodeUp = true }

// SwapSender records that senderID has finished redirecting its sends
// from every receiver to the mid node. Returns true once every sender
// has swapped, meaning the old complete bipartite graph can be torn
// down.
func (h *HourglassTransaction) SwapSender(senderID string) bool {
	if !h.midNodeUp {
		return false
	}
	h.swappedSenders[senderID] = struct{}{}
	return len(h.swappedSenders) == len(h.senderIDs)
}

func (h *HourglassTransaction) MidNodeID() string   { return h.midNodeID }
func (h *HourglassTransaction) Receivers() []string { return h.receiverIDs }
