// Package linkgraph implements the rectangular block decomposition spec.md
// §4.4 uses to route a link node's left (source) interval set to its right
// (target) interval set through a graph of internal blocks, each kept
// within a connection-count budget.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package linkgraph

import (
	"math"
	"sync/atomic"

	"github.com/google/btree"
)

var blockSeq atomic.Uint64

// Min and Max bound every source's y-interval and every target's
// x-interval: a source spans the full height of the graph, a target the
// full width, until splits on the opposite axis narrow a block between
// them.
var (
	Min = math.Inf(-1)
	Max = math.Inf(1)
)

type kind int

const (
	kindInternal kind = iota
	kindSource
	kindTarget
)

// Block is one node of the graph a Manager maintains: a Source, a Target,
// or an Internal block sitting between them. Internal blocks are
// identified structurally, by the rectangle of source/target space they
// cover; Source and Target blocks additionally carry a stable Value
// identifying the caller's source or target object (a dataset kid id, in
// practice).
type Block struct {
	kind  kind
	Value string

	// start/width are meaningful only for Source and Target blocks: the
	// interval of the opposite axis's space this block owns.
	start, width float64

	xStart, xStop float64 // internal block's source-axis interval
	yStart, yStop float64 // internal block's target-axis interval

	order uint64 // tiebreak for the ordered sets below, assigned at creation

	// above/below mirror blist.sortedlist in the reference implementation:
	// below is ordered by x-axis start (so a source-axis split picks a
	// contiguous run), above by y-axis start.
	above *btree.BTreeG[*Block]
	below *btree.BTreeG[*Block]

	removed bool
}

func blockXStart(b *Block) float64 {
	if b.kind == kindSource {
		return b.start
	}
	return b.xStart
}

func blockYStart(b *Block) float64 {
	if b.kind == kindTarget {
		return b.start
	}
	return b.yStart
}

func lessByX(a, b *Block) bool {
	ax, bx := blockXStart(a), blockXStart(b)
	if ax != bx {
		return ax < bx
	}
	return a.order < b.order
}

func lessByY(a, b *Block) bool {
	ay, by := blockYStart(a), blockYStart(b)
	if ay != by {
		return ay < by
	}
	return a.order < b.order
}

func newBlock(k kind) *Block {
	return &Block{
		kind:  k,
		order: blockSeq.Add(1),
		above: btree.NewG[*Block](8, lessByY),
		below: btree.NewG[*Block](8, lessByX),
	}
}

// sortedSlice drains t into a slice in ascending order without mutating t.
func sortedSlice(t *btree.BTreeG[*Block]) []*Block {
	out := make([]*Block, 0, t.Len())
	t.Ascend(func(b *Block) bool {
		out = append(out, b)
		return true
	})
	return out
}

func (b *Block) IsSource() bool { return b.kind == kindSource }
func (b *Block) IsTarget() bool { return b.kind == kindTarget }
func (b *Block) IsRemoved() bool { return b.removed }

// Stop is start+width, the end of a Source or Target block's interval.
func (b *Block) Stop() float64 { return b.start + b.width }
func (b *Block) Start() float64 { return b.start }
func (b *Block) Width() float64 { return b.width }

// Rectangle reports the (xStart, xStop, yStart, yStop) of the space a
// block occupies, substituting Min/Max for the unconstrained axis of a
// Source or Target block.
func (b *Block) Rectangle() (xStart, xStop, yStart, yStop float64) {
	switch b.kind {
	case kindSource:
		return b.start, b.Stop(), Min, Max
	case kindTarget:
		return Min, Max, b.start, b.Stop()
	default:
		return b.xStart, b.xStop, b.yStart, b.yStop
	}
}

func connect(below, above *Block) {
	below.above.ReplaceOrInsert(above)
	above.below.ReplaceOrInsert(below)
}

func disconnect(below, above *Block) {
	below.above.Delete(above)
	above.below.Delete(below)
}
