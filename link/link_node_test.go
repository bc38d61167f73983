/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package link_test

import (
	"testing"
	"time"

	"github.com/koreiklein/distzero/link"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

type recordingController struct {
	sent []sentMsg
}

type sentMsg struct {
	receiver node.Handle
	env      wire.Envelope
	sender   node.Handle
}

func (c *recordingController) Send(receiver node.Handle, msg wire.Envelope, sender node.Handle) {
	c.sent = append(c.sent, sentMsg{receiver, msg, sender})
}

func (c *recordingController) SpawnNode(cfg any, onMachine node.Handle) node.Handle { return node.Handle{} }

func (c *recordingController) NewHandleFor(localNodeID, remoteNodeID string) node.Handle {
	return node.Handle{NodeID: localNodeID}
}

func (c *recordingController) Now() time.Duration { return 0 }

func TestLinkNodeConnectsOnceBothSidesReport(t *testing.T) {
	ctrl := &recordingController{}
	ln := link.New(link.Config{
		NodeID:        "ln",
		Variant:       link.VariantAllToOneAvailable,
		ExpectedLeft:  []string{"l0", "l1"},
		ExpectedRight: []string{"r0", "r1"},
	}, ctrl)
	ln.Initialize()

	for _, id := range []string{"l0", "l1"} {
		env, _ := wire.Encode(wire.KindHelloLeft, struct {
			Handle node.Handle `json:"handle"`
		}{node.Handle{NodeID: id}})
		ln.Receive(env, node.Handle{NodeID: id})
	}
	if len(ctrl.sent) != 0 {
		t.Fatalf("expected no connect_node messages before both sides report, got %d", len(ctrl.sent))
	}

	for _, id := range []string{"r0", "r1"} {
		env, _ := wire.Encode(wire.KindHelloRight, struct {
			Handle       node.Handle `json:"handle"`
			Availability int64       `json:"availability"`
		}{node.Handle{NodeID: id}, 5})
		ln.Receive(env, node.Handle{NodeID: id})
	}

	if len(ctrl.sent) != 2 {
		t.Fatalf("expected a connect_node message for each of the 2 lefts, got %d", len(ctrl.sent))
	}
	for _, m := range ctrl.sent {
		if m.env.Kind != wire.KindConnectNode {
			t.Fatalf("expected connect_node, got %q", m.env.Kind)
		}
	}
}

func TestLinkNodeAllToAllFansOutToEveryRight(t *testing.T) {
	ctrl := &recordingController{}
	ln := link.New(link.Config{
		NodeID:        "ln",
		Variant:       link.VariantAllToAll,
		ExpectedLeft:  []string{"l0"},
		ExpectedRight: []string{"r0", "r1", "r2"},
	}, ctrl)
	ln.Initialize()

	env, _ := wire.Encode(wire.KindHelloLeft, struct {
		Handle node.Handle `json:"handle"`
	}{node.Handle{NodeID: "l0"}})
	ln.Receive(env, node.Handle{NodeID: "l0"})

	for _, id := range []string{"r0", "r1", "r2"} {
		env, _ := wire.Encode(wire.KindHelloRight, struct {
			Handle       node.Handle `json:"handle"`
			Availability int64       `json:"availability"`
		}{node.Handle{NodeID: id}, 1})
		ln.Receive(env, node.Handle{NodeID: id})
	}

	if len(ctrl.sent) != 1 {
		t.Fatalf("expected exactly 1 connect_node message, got %d", len(ctrl.sent))
	}
	var body struct {
		Targets []node.Handle `json:"targets"`
	}
	_ = ctrl.sent[0].env.Decode(&body)
	if len(body.Targets) != 3 {
		t.Fatalf("expected all_to_all to list all 3 rights, got %d", len(body.Targets))
	}
}
