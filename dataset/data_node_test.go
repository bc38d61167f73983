/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package dataset_test

import (
	"testing"
	"time"

	"github.com/koreiklein/distzero/cmn"
	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/dataset"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

type recordingController struct {
	sent   []sentMsg
	spawns []dataset.Config
	nextID int
}

type sentMsg struct {
	receiver node.Handle
	env      wire.Envelope
	sender   node.Handle
}

func (c *recordingController) Send(receiver node.Handle, msg wire.Envelope, sender node.Handle) {
	c.sent = append(c.sent, sentMsg{receiver, msg, sender})
}

func (c *recordingController) SpawnNode(cfg any, onMachine node.Handle) node.Handle {
	dc := cfg.(dataset.Config)
	c.spawns = append(c.spawns, dc)
	return node.Handle{NodeID: dc.NodeID}
}

func (c *recordingController) NewHandleFor(localNodeID, remoteNodeID string) node.Handle {
	return node.Handle{NodeID: localNodeID}
}

func (c *recordingController) Now() time.Duration { return 0 }

func init() {
	cos.InitIDGen(42)
}

func TestLeafOutputDeliversIncrements(t *testing.T) {
	ctrl := &recordingController{}
	leaf := dataset.New(dataset.Config{NodeID: "leaf", Variant: dataset.VariantOutput, Height: -1}, ctrl, ctrl)
	leaf.Initialize()

	env, _ := wire.Encode(wire.KindIncrement, struct {
		Amount int64 `json:"amount"`
	}{5})
	leaf.Receive(env, node.Handle{NodeID: "upstream"})

	env2, _ := wire.Encode(wire.KindIncrement, struct {
		Amount int64 `json:"amount"`
	}{7})
	leaf.Receive(env2, node.Handle{NodeID: "upstream"})

	if got := leaf.State(); got != 12 {
		t.Fatalf("expected accumulated state 12, got %d", got)
	}
}

func TestRootSpawnsKidOnLowCapacity(t *testing.T) {
	saved := cmn.Conf
	defer func() { cmn.Conf = saved }()
	cmn.Conf.TotalKidCapacityTrigger = 100 // force the low-capacity trigger immediately
	cmn.Conf.DataNodeKidsLimit = 4
	cmn.Conf.KidSummaryInterval = time.Millisecond

	ctrl := &recordingController{}
	root := dataset.New(dataset.Config{NodeID: "root", Variant: dataset.VariantOutput, Height: 1}, ctrl, ctrl)
	root.Initialize()
	if len(ctrl.spawns) != 1 {
		t.Fatalf("expected Initialize to spawn the startup kid, got %d spawns", len(ctrl.spawns))
	}

	root.Elapse(2 * time.Millisecond)
	if len(ctrl.spawns) < 2 {
		t.Fatalf("expected the low-capacity trigger to spawn another kid, got %d spawns", len(ctrl.spawns))
	}
}

func TestMergeWithTransfersKidsAndDeparts(t *testing.T) {
	ctrl := &recordingController{}
	parent := node.Handle{NodeID: "root"}
	left := dataset.New(dataset.Config{
		NodeID:   "left",
		Parent:   &parent,
		Variant:  dataset.VariantOutput,
		Height:   1,
		Adoptees: []node.Handle{{NodeID: "k0"}, {NodeID: "k1"}},
	}, ctrl, ctrl)
	left.Initialize()
	ctrl.sent = nil

	env, _ := wire.Encode(wire.KindMergeWith, struct {
		Handle node.Handle `json:"handle"`
	}{node.Handle{NodeID: "right"}})
	left.Receive(env, parent)

	var adoptTo, goodbyeTo string
	var adopted int
	for _, m := range ctrl.sent {
		switch m.env.Kind {
		case wire.KindAdopt:
			adoptTo = m.receiver.NodeID
			var body struct {
				Kids []node.Handle `json:"kids"`
			}
			_ = m.env.Decode(&body)
			adopted = len(body.Kids)
		case wire.KindGoodbyeParent:
			goodbyeTo = m.receiver.NodeID
		}
	}
	if adoptTo != "right" || adopted != 2 {
		t.Fatalf("expected both kids handed to the merge target, got %d kids to %q", adopted, adoptTo)
	}
	if goodbyeTo != "root" {
		t.Fatalf("expected goodbye_parent to the parent, got %q", goodbyeTo)
	}
}

func TestAdoptGrowsTheKidSet(t *testing.T) {
	saved := cmn.Conf
	defer func() { cmn.Conf = saved }()
	cmn.Conf.DataNodeKidsLimit = 4

	ctrl := &recordingController{}
	n := dataset.New(dataset.Config{NodeID: "n", Variant: dataset.VariantOutput, Height: 1,
		Adoptees: []node.Handle{{NodeID: "k0"}}}, ctrl, ctrl)

	before := n.Availability()
	env, _ := wire.Encode(wire.KindAdopt, struct {
		Kids []node.Handle `json:"kids"`
	}{[]node.Handle{{NodeID: "k1"}, {NodeID: "k2"}}})
	n.Receive(env, node.Handle{NodeID: "sibling"})

	if after := n.Availability(); after >= before {
		t.Fatalf("expected availability to shrink after adopting 2 kids, %d -> %d", before, after)
	}
}

// mergeRouter delivers messages synchronously between the data nodes it
// hosts, dropping sends to ids it does not know (spawned phantoms).
type mergeRouter struct {
	nodes map[string]*dataset.DataNode
}

func (c *mergeRouter) Send(receiver node.Handle, msg wire.Envelope, sender node.Handle) {
	if n, ok := c.nodes[receiver.NodeID]; ok {
		n.Receive(msg, sender)
	}
}

func (c *mergeRouter) SpawnNode(cfg any, onMachine node.Handle) node.Handle {
	dc := cfg.(dataset.Config)
	return node.Handle{NodeID: dc.NodeID}
}

func (c *mergeRouter) NewHandleFor(localNodeID, remoteNodeID string) node.Handle {
	return node.Handle{NodeID: localNodeID}
}

func (c *mergeRouter) Now() time.Duration { return 0 }

func TestConsumeProxyAbsorbsSoleKidDownward(t *testing.T) {
	saved := cmn.Conf
	defer func() { cmn.Conf = saved }()
	cmn.Conf.DataNodeKidsLimit = 4
	cmn.Conf.TotalKidCapacityTrigger = -1 // keep the spawn trigger out of the way

	ctrl := &mergeRouter{nodes: make(map[string]*dataset.DataNode)}
	rootHandle := node.Handle{NodeID: "root"}

	root := dataset.New(dataset.Config{NodeID: "root", Variant: dataset.VariantOutput, Height: 2,
		Adoptees: []node.Handle{{NodeID: "proxy"}}}, ctrl, ctrl)
	proxy := dataset.New(dataset.Config{NodeID: "proxy", Parent: &rootHandle, Variant: dataset.VariantOutput, Height: 1,
		Adoptees: []node.Handle{{NodeID: "g0"}, {NodeID: "g1"}}}, ctrl, ctrl)
	ctrl.nodes["root"] = root
	ctrl.nodes["proxy"] = proxy
	root.Initialize()
	proxy.Initialize()

	if root.Height() != 2 {
		t.Fatalf("expected the root to start at height 2, got %d", root.Height())
	}

	// The consume-proxy dwell timer accumulates one KidSummaryInterval
	// per summary tick; run well past the 4000 ms threshold.
	for i := 0; i < 50; i++ {
		root.Elapse(cmn.Conf.KidSummaryInterval + time.Millisecond)
		proxy.Elapse(cmn.Conf.KidSummaryInterval + time.Millisecond)
	}

	if root.Height() != 1 {
		t.Fatalf("expected the root to absorb its sole proxy and drop to height 1, got %d", root.Height())
	}
}
