/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package link

import "github.com/koreiklein/distzero/node"

type helloLeftMsg struct {
	Handle       node.Handle `json:"handle"`
	Availability int64       `json:"availability"`
}

type helloRightMsg struct {
	Handle       node.Handle `json:"handle"`
	Availability int64       `json:"availability"`
}

// connectNodeMsg tells a left kid which right handle(s) it should address
// its data-plane sends to from now on. The link node itself never sits in
// the data path: it only arbitrates who talks to whom.
type connectNodeMsg struct {
	Targets []node.Handle `json:"targets"`
}
