/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package dataset

import (
	"time"

	"github.com/koreiklein/distzero/cmn"
	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/cmn/nlog"
	"github.com/koreiklein/distzero/hk"
	"github.com/koreiklein/distzero/migration"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/transport"
	"github.com/koreiklein/distzero/wire"
)

type Variant string

const (
	VariantInput  Variant = "input"
	VariantOutput Variant = "output"
)

// Config is the node_config message that spawns a DataNode; it is also
// what a parent hands to its controller's SpawnNode when growing the tree.
type Config struct {
	NodeID  string       `json:"id"`
	Parent  *node.Handle `json:"parent,omitempty"`
	Variant Variant      `json:"variant"`
	Height  int          `json:"height"`

	// Adoptees is set only for the proxy a root spawns while bumping its
	// own height: the kids the new proxy must adopt as its own.
	Adoptees []node.Handle `json:"adoptees,omitempty"`
}

// DataNode is a member of the self-balancing tree described in spec.md
// §4.3: a leaf (height -1) owning either an Importer of input actions or
// an accumulated output state, or an interior/root node managing kids.
type DataNode struct {
	id         string
	self       node.Handle
	parent     *node.Handle
	variant    Variant
	height     int
	controller node.MachineController
	linker     *transport.Linker
	hk         *hk.HK

	sentHello bool

	kidOrder []string
	kids     map[string]node.Handle
	summaries map[string]Summary

	pendingSpawnedKids map[string]struct{}
	mergingKidIDs      map[string]struct{}

	rootProxyID         *string
	kidsForProxyToAdopt []node.Handle
	rootConsumingProxyID *string
	startupKid           *string

	timeSinceNoMergeableKids     time.Duration
	timeSinceNoConsumableProxy   time.Duration
	warnedLowCapacity            bool

	adjacent *node.Handle // the connected link node, if any

	// targets are the downstream handles this leaf exports its popped
	// deltas to, assigned by the adjacent link node's connect_node.
	targets   []node.Handle
	exporters map[string]*transport.Exporter

	// migrators holds this node's active migration roles, keyed by
	// migration id; a node may participate in several concurrently.
	migrators  map[string]migration.Migrator
	deltasOnly bool
	terminated bool

	// leaf-only state: an input leaf accumulates actions arriving from its
	// adjacent link node (or, for the input side of a program, the outside
	// world) via leafDeltas; an output leaf's State() reads the same
	// accumulator as its monotonically-updated value.
	leafDeltas       *transport.Deltas
	leafState        int64
	leafAvailability int64
}

// New constructs a DataNode per cfg. The caller is responsible for
// registering it with a machine and calling Initialize once.
func New(cfg Config, controller node.MachineController, linkerSender transport.Sender) *DataNode {
	self := node.Handle{NodeID: cfg.NodeID, ControllerID: ""}
	d := &DataNode{
		id:                 cfg.NodeID,
		self:               self,
		parent:             cfg.Parent,
		variant:            cfg.Variant,
		height:             cfg.Height,
		controller:         controller,
		linker:             transport.NewLinker(self, linkerSender, cmn.Conf.TimeBetweenAcks, cmn.Conf.TimeBetweenRetransmits, 2*cmn.Conf.TimeBetweenRetransmits),
		hk:                 hk.New(),
		kids:               make(map[string]node.Handle),
		summaries:          make(map[string]Summary),
		pendingSpawnedKids: make(map[string]struct{}),
		mergingKidIDs:      make(map[string]struct{}),
		migrators:          make(map[string]migration.Migrator),
		exporters:          make(map[string]*transport.Exporter),
		leafAvailability:   1,
	}
	if cfg.Height == -1 {
		d.leafDeltas = transport.NewDeltas()
	}
	if len(cfg.Adoptees) > 0 {
		for _, kid := range cfg.Adoptees {
			d.kidOrder = append(d.kidOrder, kid.NodeID)
			d.kids[kid.NodeID] = kid
		}
	}
	d.hk.Reg("kid_summary", func() time.Duration {
		d.sendKidSummary()
		d.checkLimits()
		return 0
	}, cmn.Conf.KidSummaryInterval)
	if cfg.Height == -1 && cfg.Variant == VariantInput {
		d.hk.Reg("flush", func() time.Duration {
			d.flushDeltas()
			return 0
		}, cmn.Conf.StepLength)
	}
	return d
}

// flushDeltas folds everything an input leaf has buffered since the
// last tick into one increment and exports it to every connected
// downstream target. Nothing is popped while the node is in deltas-only
// mode.
func (d *DataNode) flushDeltas() {
	if d.deltasOnly || len(d.exporters) == 0 || d.leafDeltas == nil || !d.leafDeltas.HasData() {
		return
	}
	newState, increment, updated := d.leafDeltas.PopDeltas(d.leafState, nil)
	if !updated {
		return
	}
	d.leafState = newState
	env, _ := wire.Encode(wire.KindIncrement, struct {
		Amount int64 `json:"amount"`
	}{increment})
	d.linker.Broadcast(env)
}

func (d *DataNode) Handle() node.Handle { return d.self }

func (d *DataNode) Initialize() {
	if d.height > 0 && len(d.kids) == 0 {
		id := d.spawnKid()
		d.startupKid = &id
	} else if d.parent != nil {
		d.sendHelloParent()
	}
}

func (d *DataNode) sendHelloParent() {
	if d.sentHello {
		panic(cos.NewErrInternal("data node %s already sent hello_parent", d.id))
	}
	d.sentHello = true
	env, _ := wire.Encode(wire.KindHelloParent, helloParentMsg{Handle: d.controller.NewHandleFor(d.id, d.parent.NodeID)})
	d.controller.Send(*d.parent, env, d.self)
}

func (d *DataNode) spawnKid() string {
	if d.height == 0 {
		panic(cos.NewErrInternal("height 0 data node %s can not spawn kids", d.id))
	}
	if d.rootProxyID != nil || d.rootConsumingProxyID != nil {
		panic(cos.NewErrInternal("data node %s can not spawn kids while bumping or consuming a proxy", d.id))
	}
	kidID := cos.NewID("DataNode_kid")
	d.pendingSpawnedKids[kidID] = struct{}{}
	d.summaries[kidID] = Summary{Availability: d.leafAvailability * int64(cmn.Conf.DataNodeKidsLimit)}
	nlog.Infof("data node %s spawning kid %s", d.id, kidID)
	d.controller.SpawnNode(Config{
		NodeID:  kidID,
		Parent:  &node.Handle{NodeID: d.id, ControllerID: d.self.ControllerID},
		Variant: d.variant,
		Height:  d.height - 1,
	}, d.self)
	return kidID
}

// checkLimits runs the low-capacity and merge/consume-proxy triggers,
// exactly as spec.md §4.3 describes, on the kid-summary cadence.
func (d *DataNode) checkLimits() {
	if d.height > 0 {
		d.checkLowCapacity()
		d.checkMergeableKids()
	}
	if d.parent == nil {
		d.checkConsumableProxy()
	}
}

func (d *DataNode) checkLowCapacity() {
	var totalCapacity int64
	for _, s := range d.summaries {
		totalCapacity += int64(cmn.Conf.DataNodeKidsLimit) - s.Size
	}
	if totalCapacity > int64(cmn.Conf.TotalKidCapacityTrigger) {
		d.warnedLowCapacity = false
		return
	}
	if len(d.kids) < cmn.Conf.DataNodeKidsLimit {
		if d.rootProxyID == nil {
			d.spawnKid()
		} else {
			nlog.Warningf("data node %s can't spawn kids while bumping height", d.id)
		}
		return
	}
	if d.parent == nil {
		if d.rootProxyID == nil {
			d.bumpHeight()
		} else {
			nlog.Warningf("data node %s can't bump height again until the pending proxy confirms", d.id)
		}
		return
	}
	if !d.warnedLowCapacity {
		d.warnedLowCapacity = true
		nlog.Warningf("non-root data node %s has too little capacity and no room to spawn more kids", d.id)
	}
}

func (d *DataNode) mergeableNKidsThreshold() int {
	if cmn.Conf.DataNodeKidsLimit <= 3 {
		return 1
	}
	return cmn.Conf.DataNodeKidsLimit / 3
}

func (d *DataNode) bestMergeableKids() (left, right string, ok bool) {
	if len(d.summaries) < 2 {
		return "", "", false
	}
	type pair struct {
		nKids int
		id    string
	}
	pairs := make([]pair, 0, len(d.summaries))
	for id, s := range d.summaries {
		pairs = append(pairs, pair{s.NKids, id})
	}
	// insertion sort: small N, stable, no need for sort.Slice overhead.
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && (pairs[j].nKids < pairs[j-1].nKids || (pairs[j].nKids == pairs[j-1].nKids && pairs[j].id < pairs[j-1].id)); j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
	threshold := d.mergeableNKidsThreshold()
	if pairs[0].nKids <= threshold && pairs[1].nKids <= threshold {
		return pairs[0].id, pairs[1].id, true
	}
	return "", "", false
}

func (d *DataNode) checkMergeableKids() {
	left, right, ok := d.bestMergeableKids()
	if !ok || len(d.mergingKidIDs) > 0 {
		d.timeSinceNoMergeableKids = 0
		return
	}
	d.timeSinceNoMergeableKids += cmn.Conf.KidSummaryInterval
	if d.timeSinceNoMergeableKids >= cmn.Conf.MergeWait {
		d.mergeKids(left, right)
	}
}

func (d *DataNode) mergeKids(leftID, rightID string) {
	d.mergingKidIDs[leftID] = struct{}{}
	env, _ := wire.Encode(wire.KindMergeWith, mergeWithMsg{Handle: d.controller.NewHandleFor(rightID, leftID)})
	d.controller.Send(d.kids[leftID], env, d.self)
}

// mergeInto executes the receiving end of merge_with: hand every kid to
// target via adopt, say goodbye_parent, and depart. The adoptees keep
// addressing this node's id until their next hello; target answers for
// them from the moment it adopts.
func (d *DataNode) mergeInto(target node.Handle) {
	if len(d.kidOrder) > 0 {
		kids := make([]node.Handle, 0, len(d.kidOrder))
		for _, id := range d.kidOrder {
			kids = append(kids, d.kids[id])
		}
		env, _ := wire.Encode(wire.KindAdopt, adoptMsg{Kids: kids})
		d.controller.Send(target, env, d.self)
	}
	if d.parent != nil {
		env, _ := wire.Encode(wire.KindGoodbyeParent, goodbyeParentMsg{})
		d.controller.Send(*d.parent, env, d.self)
	}
	nlog.Infof("data node %s merged into %s, departing", d.id, target.NodeID)
	d.kidOrder = nil
	d.kids = make(map[string]node.Handle)
	d.summaries = make(map[string]Summary)
	d.terminated = true
}

func (d *DataNode) checkConsumableProxy() {
	if len(d.kids) == 1 && d.rootConsumingProxyID == nil && d.height > 1 {
		d.timeSinceNoConsumableProxy += cmn.Conf.KidSummaryInterval
		if d.timeSinceNoConsumableProxy >= cmn.Conf.ConsumeProxyWait {
			d.consumeProxy()
		}
	} else {
		d.timeSinceNoConsumableProxy = 0
	}
}

func (d *DataNode) consumeProxy() {
	if d.parent != nil || len(d.kids) != 1 {
		panic(cos.NewErrInternal("data node %s must be root with one kid to consume a proxy", d.id))
	}
	var proxyID string
	for id := range d.kids {
		proxyID = id
	}
	d.rootConsumingProxyID = &proxyID
	env, _ := wire.Encode(wire.KindMergeWith, mergeWithMsg{Handle: d.controller.NewHandleFor(d.id, proxyID)})
	d.controller.Send(d.kids[proxyID], env, d.self)
}

func (d *DataNode) bumpHeight() {
	if d.parent != nil {
		panic(cos.NewErrInternal("only a root data node may bump its height"))
	}
	nlog.Infof("data node %s bumping height in response to low capacity", d.id)
	proxyID := cos.NewID("DataNode_root_proxy")
	d.rootProxyID = &proxyID

	adoptees := make([]node.Handle, 0, len(d.kids))
	for _, id := range d.kidOrder {
		adoptees = append(adoptees, d.kids[id])
	}
	d.kidsForProxyToAdopt = adoptees
	d.height++
	d.pendingSpawnedKids[proxyID] = struct{}{}
	d.summaries = make(map[string]Summary)

	d.controller.SpawnNode(Config{
		NodeID:   proxyID,
		Parent:   &node.Handle{NodeID: d.id, ControllerID: d.self.ControllerID},
		Variant:  d.variant,
		Height:   d.height - 1,
		Adoptees: adoptees,
	}, d.self)
}

func (d *DataNode) finishBumpingHeight(proxy node.Handle) {
	d.summaries = make(map[string]Summary)
	d.kidOrder = []string{proxy.NodeID}
	d.kids = map[string]node.Handle{proxy.NodeID: proxy}

	if d.adjacent != nil {
		ids := make([]string, len(d.kidsForProxyToAdopt))
		for i, k := range d.kidsForProxyToAdopt {
			ids[i] = k.NodeID
		}
		env, _ := wire.Encode(wire.KindBumpedHeight, bumpedHeightMsg{Proxy: proxy, KidIDs: ids, Variant: d.variant})
		d.controller.Send(*d.adjacent, env, d.self)
	}
	d.rootProxyID = nil
	d.kidsForProxyToAdopt = nil
}

// finishAddingKid records kid, refreshing the stored handle if it was
// already present (an adoptee greeting its new parent).
func (d *DataNode) finishAddingKid(kid node.Handle) {
	if _, ok := d.kids[kid.NodeID]; !ok {
		d.kidOrder = append(d.kidOrder, kid.NodeID)
	}
	d.kids[kid.NodeID] = kid
}

func (d *DataNode) sendKidSummary() {
	if d.parent == nil {
		return
	}
	var s Summary
	if d.height > 0 {
		for _, kid := range d.summaries {
			s.Size += kid.Size
		}
	} else {
		s.Size = int64(len(d.kids))
	}
	s.NKids = len(d.kids)
	s.Availability = d.Availability()
	env, _ := wire.Encode(wire.KindKidSummary, kidSummaryMsg{Summary: s})
	d.controller.Send(*d.parent, env, d.self)
}

func (d *DataNode) Elapse(dur time.Duration) {
	if d.terminated {
		return
	}
	d.linker.Elapse(dur)
	d.hk.Elapse(dur)
	for _, m := range d.migrators {
		m.Elapse(dur)
	}
}

func (d *DataNode) Receive(msg wire.Envelope, sender node.Handle) {
	if msg.Kind == wire.KindReceive {
		// First sequenced message from a new upstream: register an
		// importer feeding this leaf's delta set before the linker
		// dispatches it.
		if _, ok := d.linker.Importer(sender.NodeID); !ok {
			senderID := sender.NodeID
			d.linker.NewImporter(sender, 0, func(body wire.Envelope, seq uint64) {
				if d.leafDeltas == nil {
					nlog.Warningf("data node %s: dropping sequenced delta, not a leaf", d.id)
					return
				}
				if err := d.leafDeltas.AddEnvelope(senderID, seq, body); err != nil {
					nlog.Warningf("data node %s: %v", d.id, err)
				}
			})
		}
	}
	if d.linker.Dispatch(sender.NodeID, msg) {
		return
	}
	if wire.MigrationKinds[msg.Kind] {
		d.receiveMigration(msg, sender)
		return
	}
	switch msg.Kind {
	case wire.KindHelloParent:
		var body helloParentMsg
		_ = msg.Decode(&body)
		d.finishAddingKid(body.Handle)
		if d.startupKid != nil && *d.startupKid == sender.NodeID {
			d.startupKid = nil
			if d.parent != nil {
				d.sendHelloParent()
			}
		}
		delete(d.pendingSpawnedKids, sender.NodeID)
		if d.rootProxyID != nil && *d.rootProxyID == sender.NodeID {
			d.finishBumpingHeight(body.Handle)
		}
	case wire.KindKidSummary:
		var body kidSummaryMsg
		_ = msg.Decode(&body)
		d.summaries[sender.NodeID] = body.Summary
	case wire.KindMergeWith:
		var body mergeWithMsg
		_ = msg.Decode(&body)
		d.mergeInto(body.Handle)
	case wire.KindAdopt:
		var body adoptMsg
		_ = msg.Decode(&body)
		for _, kid := range body.Kids {
			if _, ok := d.kids[kid.NodeID]; !ok {
				d.finishAddingKid(kid)
				d.summaries[kid.NodeID] = Summary{}
			}
		}
	case wire.KindGoodbyeParent:
		delete(d.kids, sender.NodeID)
		for i, id := range d.kidOrder {
			if id == sender.NodeID {
				d.kidOrder = append(d.kidOrder[:i], d.kidOrder[i+1:]...)
				break
			}
		}
		delete(d.summaries, sender.NodeID)
		delete(d.mergingKidIDs, sender.NodeID)
		if d.rootConsumingProxyID != nil && *d.rootConsumingProxyID == sender.NodeID {
			d.height--
			d.rootConsumingProxyID = nil
		}
	case wire.KindConnectNode:
		var body struct {
			Targets []node.Handle `json:"targets"`
		}
		_ = msg.Decode(&body)
		d.targets = body.Targets
		for _, target := range body.Targets {
			if _, ok := d.exporters[target.NodeID]; !ok {
				d.exporters[target.NodeID] = d.linker.NewExporter(target)
			}
		}
	case wire.KindIncrement, wire.KindInputAction:
		d.receiveDelta(sender.NodeID, msg)
	case wire.KindKillNode, wire.KindTerminateNode:
		nlog.Infof("data node %s terminating", d.id)
		d.terminated = true
	default:
		nlog.Warningf("data node %s: unrecognized message kind %q from %s", d.id, msg.Kind, sender.NodeID)
	}
}

func (d *DataNode) receiveDelta(senderID string, msg wire.Envelope) {
	if d.leafDeltas == nil {
		nlog.Warningf("data node %s: dropping delta, not a leaf", d.id)
		return
	}
	seq := d.leafDeltas.FirstUnseenRSN(senderID)
	if err := d.leafDeltas.AddEnvelope(senderID, seq, msg); err != nil {
		nlog.Warningf("data node %s: %v", d.id, err)
	}
}

// receiveMigration routes a migration-protocol message to the Migrator
// matching its migration id, constructing the role first when the
// message is attach_migrator. The sender of an attach is the
// coordinating MigrationNode, which is also where every upward reply
// goes.
func (d *DataNode) receiveMigration(msg wire.Envelope, sender node.Handle) {
	if msg.Kind == wire.KindAttachMigrator {
		migrationID, role, peer, willSync, err := migration.DecodeAttach(msg)
		if err != nil {
			nlog.Warningf("data node %s: malformed attach_migrator: %v", d.id, err)
			return
		}
		if _, ok := d.migrators[migrationID]; ok {
			nlog.Warningf("data node %s: migrator for %s already attached", d.id, migrationID)
			return
		}
		var mig migration.Migrator
		m := migration.Attach(role, migrationID, sender, peer, migration.NodeHost{
			Controller: d.controller,
			Owner:      d.self,
			DeltasOnly: func(on bool) { d.setDeltasOnly(on, mig) },
			Total:      d.State,
			SetTotal:   func(v int64) { d.leafState = v },
			Covers: func(senderID string, sn uint64) bool {
				return d.leafDeltas == nil || d.leafDeltas.Covers(map[string]uint64{senderID: sn})
			},
			PopThrough: func(senderID string, sn uint64) {
				if d.leafDeltas == nil {
					return
				}
				newState, _, _ := d.leafDeltas.PopDeltas(d.leafState, map[string]uint64{senderID: sn})
				d.leafState = newState
			},
			NextSN: d.linker.NextSequenceNumber,
		}, willSync)
		mig = m
		d.migrators[migrationID] = m
		m.Initialize()
		return
	}

	migrationID := migration.PeekMigrationID(msg)
	m, ok := d.migrators[migrationID]
	if !ok {
		nlog.Warningf("data node %s: message %q for unknown migration %s", d.id, msg.Kind, migrationID)
		return
	}
	m.Receive(sender.NodeID, msg)
	if msg.Kind == wire.KindTerminateMigrator {
		delete(d.migrators, migrationID)
	}
}

// setDeltasOnly flips the node's deltas-only gate on behalf of mig. On
// entry, everything already buffered is applied first (it predates the
// freeze), and the linker's in-flight hooks pin mig's drain barrier for
// every message stuck behind a sequence gap until it delivers.
func (d *DataNode) setDeltasOnly(on bool, mig migration.Migrator) {
	if on && !d.deltasOnly {
		if d.leafDeltas != nil {
			newState, _, _ := d.leafDeltas.PopDeltas(d.leafState, nil)
			d.leafState = newState
		}
		d.linker.SetInFlightHooks(mig.PinInFlight, mig.UnpinInFlight)
	}
	if !on {
		d.linker.SetInFlightHooks(nil, nil)
	}
	d.deltasOnly = on
}

// CreateKidConfig builds the node_config for a new kid of this node, on
// behalf of an external caller (the control API's api_create_kid_config).
// The kid is not spawned; the caller decides which machine runs it.
func (d *DataNode) CreateKidConfig(name string) (Config, error) {
	if d.height < 0 {
		return Config{}, cos.NewErrNoCapacity("data node %s is a leaf and can not have kids", d.id)
	}
	if len(d.kids) >= cmn.Conf.DataNodeKidsLimit {
		return Config{}, cos.NewErrNoCapacity("data node %s is at its kid limit", d.id)
	}
	return Config{
		NodeID:  cos.NewID("DataNode_" + name),
		Parent:  &node.Handle{NodeID: d.id, ControllerID: d.self.ControllerID},
		Variant: d.variant,
		Height:  d.height - 1,
	}, nil
}

// Availability is how much more load this node could absorb: its own
// slack plus its kids' reported availabilities.
func (d *DataNode) Availability() int64 {
	if d.height == -1 {
		return d.leafAvailability
	}
	total := d.leafAvailability * int64(cmn.Conf.DataNodeKidsLimit) * int64(cmn.Conf.DataNodeKidsLimit-len(d.kids))
	for _, s := range d.summaries {
		total += s.Availability
	}
	return total
}

func (d *DataNode) Height() int { return d.height }

func (d *DataNode) Variant() Variant { return d.variant }

// State returns the current accumulated state of an output leaf. While
// the node is in deltas-only mode, arriving deltas stay buffered and the
// state reported is the pre-switch value.
func (d *DataNode) State() int64 {
	if d.leafDeltas == nil || d.deltasOnly {
		return d.leafState
	}
	newState, _, _ := d.leafDeltas.PopDeltas(d.leafState, nil)
	d.leafState = newState
	return d.leafState
}
