/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package dataset

import "github.com/koreiklein/distzero/node"

type helloParentMsg struct {
	Handle node.Handle `json:"handle"`
}

type goodbyeParentMsg struct{}

type kidSummaryMsg struct {
	Summary Summary `json:"summary"`
}

type mergeWithMsg struct {
	Handle node.Handle `json:"handle"`
}

// adoptMsg hands a departing node's kids to the sibling (or parent, in
// the consume-proxy case) absorbing it.
type adoptMsg struct {
	Kids []node.Handle `json:"kids"`
}

type bumpedHeightMsg struct {
	Proxy   node.Handle `json:"proxy"`
	KidIDs  []string    `json:"kid_ids"`
	Variant Variant     `json:"variant"`
}
