/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package link

import (
	"github.com/koreiklein/distzero/cmn/cos"
)

// MintFunc produces a fresh node id for an interior node; kind is a
// human-readable tag ("tree", "product", "hourglass") that ends up as
// the id's prefix.
type MintFunc func(kind string) string

// NodeTree is one half of a TopologyPicker: a balanced tree over a set
// of leaf ids with every node's kid count bounded by maxKids. Layer 0 is
// the leaves; the last layer holds the single root. Interior node ids
// are minted: they name no running node until a spawner brings them up.
type NodeTree struct {
	maxKids int
	layers  [][]string
	kids    map[string][]string
	parent  map[string]string
	mint    MintFunc

	// boosts counts the hourglass layers inserted on this side; each one
	// absorbs a root-level fan the tree's own height could not, raising
	// its effective leaf capacity by a factor of maxKids.
	boosts int
}

// NewNodeTree builds a balanced tree over leaves bottom-up: each layer
// groups the one below it into runs of maxKids until a single root
// remains.
func NewNodeTree(leaves []string, maxKids int, mint MintFunc) *NodeTree {
	t := &NodeTree{
		maxKids: maxKids,
		kids:    make(map[string][]string),
		parent:  make(map[string]string),
		mint:    mint,
	}
	layer := append([]string(nil), leaves...)
	t.layers = [][]string{layer}
	for len(layer) > 1 {
		var next []string
		for i := 0; i < len(layer); i += maxKids {
			end := i + maxKids
			if end > len(layer) {
				end = len(layer)
			}
			p := mint("tree")
			for _, kid := range layer[i:end] {
				t.kids[p] = append(t.kids[p], kid)
				t.parent[kid] = p
			}
			next = append(next, p)
		}
		t.layers = append(t.layers, next)
		layer = next
	}
	return t
}

func (t *NodeTree) Height() int { return len(t.layers) }

func (t *NodeTree) Layer(i int) []string { return t.layers[i] }

func (t *NodeTree) Parent(id string) (string, bool) {
	p, ok := t.parent[id]
	return p, ok
}

func (t *NodeTree) Kids(id string) []string { return t.kids[id] }

// IsFull reports whether the tree has reached the leaf capacity its
// current height allows: maxKids^(height-1). An append beyond this
// point must be preceded by an hourglass-layer insertion.
func (t *NodeTree) IsFull() bool {
	capacity := 1
	for i := 1; i < t.Height()+t.boosts; i++ {
		capacity *= t.maxKids
	}
	return len(t.layers[0]) >= capacity
}

func (t *NodeTree) boost() { t.boosts++ }

// Append admits one more leaf, attaching it under the rightmost
// interior node with room, or growing a fresh parent chain up to the
// root when none has any. It returns the minted node ids per tree
// layer (index 0 is always empty: the leaf itself was supplied by the
// caller).
func (t *NodeTree) Append(leaf string) (newPerLayer [][]string) {
	newPerLayer = make([][]string, t.Height())
	t.layers[0] = append(t.layers[0], leaf)

	child := leaf
	for layer := 1; layer < t.Height(); layer++ {
		candidates := t.layers[layer]
		if len(candidates) > 0 {
			last := candidates[len(candidates)-1]
			if len(t.kids[last]) < t.maxKids {
				t.kids[last] = append(t.kids[last], child)
				t.parent[child] = last
				return newPerLayer
			}
		}
		if layer == t.Height()-1 {
			// The root has no room: attach anyway and let the caller
			// notice IsFull and insert an hourglass layer.
			root := candidates[0]
			t.kids[root] = append(t.kids[root], child)
			t.parent[child] = root
			return newPerLayer
		}
		p := t.mint("tree")
		t.kids[p] = []string{child}
		t.parent[child] = p
		t.layers[layer] = append(t.layers[layer], p)
		newPerLayer[layer] = append(newPerLayer[layer], p)
		child = p
	}
	return newPerLayer
}

// PadToHeight inserts pass-through layers above the root until the tree
// is h layers tall, so two trees of different natural heights can be
// made equally tall.
func (t *NodeTree) PadToHeight(h int) {
	for t.Height() < h {
		p := t.mint("tree")
		root := t.layers[t.Height()-1]
		for _, r := range root {
			t.kids[p] = append(t.kids[p], r)
			t.parent[r] = p
		}
		t.layers = append(t.layers, []string{p})
	}
}

// minPickerHeight keeps every picked topology at least three layers
// tall, so there is always an interior junction to insert an hourglass
// at.
const minPickerHeight = 3

// Edge is one directed connection between two interior nodes of a
// picked topology, read left to right.
type Edge struct {
	From, To string
}

// Hourglass is the instruction an hourglass-layer insertion returns:
// the runtime must spawn NodeID, point every sender's output at it, and
// point its output at every receiver, tearing down the complete
// bipartite graph that used to join the two sets.
type Hourglass struct {
	NodeID    string
	Senders   []string
	Receivers []string
}

// Topology is the product graph a TopologyPicker builds between a left
// and a right NodeTree of equal height h: one product node per
// (left.layer[i], right.layer[h-1-i]) pair, and a product node (l, r)
// connecting rightward to (parent(l), c) for every kid c of r. Walking
// left to right therefore ascends the left tree while descending the
// right one, which gives every (left leaf, right leaf) pair exactly one
// path through the interior.
type Topology struct {
	left, right *NodeTree
	mint        MintFunc

	product map[[2]string]string
	coords  map[string][2]string
	layers  [][]string
	out     map[string][]string

	// leftTopo[i] / rightTopo[i] map a tree layer index to the topology
	// layer its products live in; hourglass insertions shift them.
	leftTopo  []int
	rightTopo []int

	hourglasses []Hourglass
}

// NewTopologyPicker builds the interior topology between leftLeaves and
// rightLeaves: a left tree bounded by maxOutputs, a right tree bounded
// by maxInputs, both padded to equal height of at least three layers,
// and the product graph across them.
func NewTopologyPicker(leftLeaves, rightLeaves []string, maxOutputs, maxInputs int, mint MintFunc) (*Topology, error) {
	if len(leftLeaves) == 0 || len(rightLeaves) == 0 {
		return nil, cos.NewErrInternal("topology picker needs at least one leaf on each side")
	}
	left := NewNodeTree(leftLeaves, maxOutputs, mint)
	right := NewNodeTree(rightLeaves, maxInputs, mint)

	h := left.Height()
	if right.Height() > h {
		h = right.Height()
	}
	if h < minPickerHeight {
		h = minPickerHeight
	}
	left.PadToHeight(h)
	right.PadToHeight(h)

	t := &Topology{
		left:      left,
		right:     right,
		mint:      mint,
		product:   make(map[[2]string]string),
		coords:    make(map[string][2]string),
		out:       make(map[string][]string),
		leftTopo:  make([]int, h),
		rightTopo: make([]int, h),
	}
	t.layers = make([][]string, h)
	for i := 0; i < h; i++ {
		t.leftTopo[i] = i
		t.rightTopo[i] = h - 1 - i
		for _, l := range left.Layer(i) {
			for _, r := range right.Layer(h - 1 - i) {
				t.addProduct(i, l, r)
			}
		}
	}
	for _, layer := range t.layers {
		for _, id := range layer {
			t.wireProduct(id)
		}
	}
	return t, nil
}

func (t *Topology) addProduct(layer int, l, r string) string {
	id := t.mint("product")
	t.product[[2]string{l, r}] = id
	t.coords[id] = [2]string{l, r}
	t.layers[layer] = append(t.layers[layer], id)
	return id
}

// wireProduct (re)computes the outgoing edges of the product node id
// from its coordinates in the two trees.
func (t *Topology) wireProduct(id string) {
	c := t.coords[id]
	lp, ok := t.left.Parent(c[0])
	if !ok {
		return
	}
	t.out[id] = t.out[id][:0]
	for _, rc := range t.right.Kids(c[1]) {
		if target, ok := t.product[[2]string{lp, rc}]; ok {
			t.out[id] = append(t.out[id], target)
		}
	}
}

func (t *Topology) Height() int { return len(t.layers) }

// Layers returns the interior node ids per layer, ordered left to
// right; layer 0 is adjacent to the left leaves, the last layer to the
// right leaves.
func (t *Topology) Layers() [][]string { return t.layers }

// Outputs is the set of interior nodes id feeds.
func (t *Topology) Outputs(id string) []string { return t.out[id] }

// Edges enumerates every interior connection.
func (t *Topology) Edges() []Edge {
	var edges []Edge
	for _, layer := range t.layers {
		for _, id := range layer {
			for _, to := range t.out[id] {
				edges = append(edges, Edge{From: id, To: to})
			}
		}
	}
	return edges
}

// AppendResult reports what an incremental append created: the minted
// interior node ids per topology layer, plus the edges joining them
// into the pre-existing fabric (whose targets this call did not spawn).
type AppendResult struct {
	NewPerLayer [][]string
	Edges       []Edge
}

// AppendLeft admits a new left leaf. The left tree grows (attaching
// under an existing parent when one has room, else chaining new parents
// upward); every new left-tree node gets product nodes against the
// right tree's matching layer, wired into the existing graph.
func (t *Topology) AppendLeft(leaf string) (AppendResult, error) {
	if t.left.IsFull() {
		return AppendResult{}, cos.NewErrInternal("left tree is full; insert an hourglass layer before appending")
	}
	return t.append(t.left, leaf), nil
}

// AppendRight admits a new right leaf; symmetric to AppendLeft.
func (t *Topology) AppendRight(leaf string) (AppendResult, error) {
	if t.right.IsFull() {
		return AppendResult{}, cos.NewErrInternal("right tree is full; insert an hourglass layer before appending")
	}
	return t.append(t.right, leaf), nil
}

func (t *Topology) topoLayerOf(side *NodeTree, treeLayer int) int {
	if side == t.left {
		return t.leftTopo[treeLayer]
	}
	return t.rightTopo[treeLayer]
}

// pairedLayer is the opposite tree's layer that side's treeLayer is
// crossed with in the product; the two trees always have equal height.
func (t *Topology) pairedLayer(side *NodeTree, treeLayer int) []string {
	other := t.right
	if side == t.right {
		other = t.left
	}
	return other.Layer(side.Height() - 1 - treeLayer)
}

func (t *Topology) append(side *NodeTree, leaf string) AppendResult {
	res := AppendResult{NewPerLayer: make([][]string, t.Height())}
	newPerTreeLayer := side.Append(leaf)

	addProductsFor := func(treeLayer int, treeNode string) {
		topoLayer := t.topoLayerOf(side, treeLayer)
		for _, o := range t.pairedLayer(side, treeLayer) {
			l, r := treeNode, o
			if side == t.right {
				l, r = o, treeNode
			}
			id := t.addProduct(topoLayer, l, r)
			res.NewPerLayer[topoLayer] = append(res.NewPerLayer[topoLayer], id)
		}
	}

	addProductsFor(0, leaf)
	for treeLayer, nodes := range newPerTreeLayer {
		for _, n := range nodes {
			addProductsFor(treeLayer, n)
		}
	}

	// Wire the new products' own outgoing edges, then recompute the
	// preceding layer's so it picks the new nodes up.
	for topoLayer, nodes := range res.NewPerLayer {
		if len(nodes) == 0 {
			continue
		}
		for _, id := range nodes {
			t.wireProduct(id)
			for _, to := range t.out[id] {
				res.Edges = append(res.Edges, Edge{From: id, To: to})
			}
		}
		if topoLayer > 0 {
			for _, prev := range t.layers[topoLayer-1] {
				t.wireProduct(prev)
				for _, to := range t.out[prev] {
					if containsID(nodes, to) {
						res.Edges = append(res.Edges, Edge{From: prev, To: to})
					}
				}
			}
		}
	}
	return res
}

func containsID(nodes []string, id string) bool {
	for _, n := range nodes {
		if n == id {
			return true
		}
	}
	return false
}

// InsertHourglassLeft collapses the complete bipartite junction at the
// left-root end of the interior into a single bottleneck node, freeing
// the runtime to replace the densest junction before growing further.
// The caller must spawn the returned node and swap the edge set as
// instructed.
func (t *Topology) InsertHourglassLeft() Hourglass {
	t.left.boost()
	return t.insertHourglass(t.Height() - 2)
}

// InsertHourglassRight is symmetric, at the right-root end of the
// interior (junction 0, beside the left leaves).
func (t *Topology) InsertHourglassRight() Hourglass {
	t.right.boost()
	return t.insertHourglass(0)
}

func (t *Topology) insertHourglass(junction int) Hourglass {
	senders := append([]string(nil), t.layers[junction]...)
	receivers := append([]string(nil), t.layers[junction+1]...)

	hg := Hourglass{NodeID: t.mint("hourglass"), Senders: senders, Receivers: receivers}
	for _, s := range senders {
		t.out[s] = []string{hg.NodeID}
	}
	t.out[hg.NodeID] = receivers

	// The hourglass gets its own layer between the junction's two;
	// every tree-to-topology layer mapping past it shifts by one.
	rebuilt := make([][]string, 0, len(t.layers)+1)
	rebuilt = append(rebuilt, t.layers[:junction+1]...)
	rebuilt = append(rebuilt, []string{hg.NodeID})
	rebuilt = append(rebuilt, t.layers[junction+1:]...)
	t.layers = rebuilt
	for i := range t.leftTopo {
		if t.leftTopo[i] > junction {
			t.leftTopo[i]++
		}
		if t.rightTopo[i] > junction {
			t.rightTopo[i]++
		}
	}

	t.hourglasses = append(t.hourglasses, hg)
	return hg
}

// Hourglasses lists every bottleneck inserted so far, oldest first.
func (t *Topology) Hourglasses() []Hourglass { return t.hourglasses }
