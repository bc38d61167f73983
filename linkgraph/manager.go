/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package linkgraph

// Interval names one source or target and the portion of the opposite
// axis's space it owns.
type Interval struct {
	Value string
	Start float64
	Width float64
}

// Manager maintains the subgraph of InternalBlocks a LinkNode places
// between its left (source) and right (target) configuration, splitting
// or merging blocks so that none exceeds Constraints. Grounded in
// node/link/manager.py's LinkGraphManager; the pointer-indirection
// "updater" mechanism that lets an internal block's boundary silently
// track a source/target block through an arbitrary chain of future
// merges is replaced here with boundaries recomputed directly at merge
// time, adequate for this system's single-digit fan-out and documented
// in DESIGN.md as a deliberate simplification.
type Manager struct {
	constraints Constraints

	sources map[string]*Block
	targets map[string]*Block

	queue []*Block
}

func NewManager(sources, targets []Interval, constraints Constraints) *Manager {
	m := &Manager{
		constraints: constraints,
		sources:     make(map[string]*Block, len(sources)),
		targets:     make(map[string]*Block, len(targets)),
	}
	for _, iv := range sources {
		b := newBlock(kindSource)
		b.Value, b.start, b.width = iv.Value, iv.Start, iv.Width
		m.sources[iv.Value] = b
	}
	for _, iv := range targets {
		b := newBlock(kindTarget)
		b.Value, b.start, b.width = iv.Value, iv.Start, iv.Width
		m.targets[iv.Value] = b
	}

	center := newBlock(kindInternal)
	center.xStart, center.xStop, center.yStart, center.yStop = Min, Max, Min, Max
	for _, s := range m.sources {
		connect(s, center)
	}
	for _, t := range m.targets {
		connect(center, t)
	}
	m.queue = append(m.queue, center)
	m.flushQueue()
	return m
}

func (m *Manager) SourceBlock(value string) *Block { return m.sources[value] }
func (m *Manager) TargetBlock(value string) *Block { return m.targets[value] }

// InternalBlocks returns every block that is neither a source nor target.
func (m *Manager) InternalBlocks() []*Block {
	result := map[*Block]struct{}{}
	var queue []*Block
	for _, s := range m.sources {
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		b := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if b.IsTarget() {
			continue
		}
		if b.kind == kindInternal {
			if _, ok := result[b]; ok {
				continue
			}
			result[b] = struct{}{}
		}
		queue = append(queue, sortedSlice(b.above)...)
	}
	out := make([]*Block, 0, len(result))
	for b := range result {
		out = append(out, b)
	}
	return out
}

// Layers groups blocks by distance from the sources, matching manager.py's
// `layers` heuristic: layer 0 is every source, and each later layer holds
// every block directly above a block of the previous layer, targets
// included. A block reachable along paths of different lengths appears in
// more than one layer.
func (m *Manager) Layers() [][]*Block {
	layer := map[*Block]struct{}{}
	for _, s := range m.sources {
		layer[s] = struct{}{}
	}
	result := [][]*Block{toSlice(layer)}
	seen := map[*Block]struct{}{}
	for {
		next := map[*Block]struct{}{}
		for _, x := range result[len(result)-1] {
			if _, ok := seen[x]; ok {
				continue
			}
			seen[x] = struct{}{}
			if !x.IsTarget() {
				x.above.Ascend(func(b *Block) bool {
					next[b] = struct{}{}
					return true
				})
			}
		}
		if len(next) == 0 {
			return result
		}
		result = append(result, toSlice(next))
	}
}

func toSlice(set map[*Block]struct{}) []*Block {
	out := make([]*Block, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	return out
}

// SplitSrc splits the source named sourceValue, handing the rightmost
// newWidth of its interval to a newly created source newSourceValue.
func (m *Manager) SplitSrc(sourceValue, newSourceValue string, newWidth float64) {
	source := m.sources[sourceValue]
	newSource := newBlock(kindSource)
	newSource.Value = newSourceValue
	newSource.start = source.Stop() - newWidth
	newSource.width = newWidth
	m.sources[newSourceValue] = newSource

	for _, x := range sortedSlice(source.above) {
		connect(newSource, x)
		m.queue = append(m.queue, x)
	}
	m.flushQueue()
	source.width -= newWidth
}

// SplitTgt splits the target named targetValue, handing the rightmost
// newWidth of its interval to a newly created target newTargetValue.
func (m *Manager) SplitTgt(targetValue, newTargetValue string, newWidth float64) {
	target := m.targets[targetValue]
	newTarget := newBlock(kindTarget)
	newTarget.Value = newTargetValue
	newTarget.start = target.Stop() - newWidth
	newTarget.width = newWidth
	m.targets[newTargetValue] = newTarget

	for _, x := range sortedSlice(target.below) {
		connect(x, newTarget)
		m.queue = append(m.queue, x)
	}
	m.flushQueue()
	target.width -= newWidth
}

// MergeSrc merges the left source into right (which must immediately
// follow it), removing left and growing right to cover its interval.
func (m *Manager) MergeSrc(left, right string) {
	leftBlock := m.sources[left]
	rightBlock := m.sources[right]
	delete(m.sources, left)
	m.removeBlock(leftBlock)
	m.queue = append(m.queue, sortedSlice(rightBlock.above)...)
	m.flushQueue()

	oldStart := rightBlock.start
	rightBlock.start -= leftBlock.width
	rightBlock.width += leftBlock.width
	m.rebindBoundary(oldStart, rightBlock.start, true)
}

// MergeTgt merges the left target into right, symmetric to MergeSrc.
func (m *Manager) MergeTgt(left, right string) {
	leftBlock := m.targets[left]
	rightBlock := m.targets[right]
	delete(m.targets, left)
	m.removeBlock(leftBlock)
	m.queue = append(m.queue, sortedSlice(rightBlock.below)...)
	m.flushQueue()

	oldStart := rightBlock.start
	rightBlock.start -= leftBlock.width
	rightBlock.width += leftBlock.width
	m.rebindBoundary(oldStart, rightBlock.start, false)
}

// rebindBoundary repoints every internal block's boundary that matched
// the merged-into block's former start at its new start; the direct
// substitute for manager.py's updater closures.
func (m *Manager) rebindBoundary(oldCoord, newCoord float64, onXAxis bool) {
	for _, b := range m.InternalBlocks() {
		if onXAxis {
			if b.xStart == oldCoord {
				b.xStart = newCoord
			}
			if b.xStop == oldCoord {
				b.xStop = newCoord
			}
		} else {
			if b.yStart == oldCoord {
				b.yStart = newCoord
			}
			if b.yStop == oldCoord {
				b.yStop = newCoord
			}
		}
	}
}

func (m *Manager) removeBlock(b *Block) {
	for _, x := range sortedSlice(b.above) {
		m.queue = append(m.queue, x)
		disconnect(b, x)
	}
	for _, x := range sortedSlice(b.below) {
		m.queue = append(m.queue, x)
		disconnect(x, b)
	}
	b.removed = true
}

func (m *Manager) flushQueue() {
	for len(m.queue) > 0 {
		b := m.queue[0]
		m.queue = m.queue[1:]
		m.checkConstraints(b)
	}
}

func (m *Manager) overloaded(b *Block) bool {
	above, below := b.above.Len(), b.below.Len()
	return above > m.constraints.MaxAbove ||
		below > m.constraints.MaxBelow ||
		above+below > m.constraints.maxConnections()
}

func (m *Manager) checkConstraints(b *Block) {
	if b.removed || b.IsSource() || b.IsTarget() {
		return
	}
	if b.above.Len() == 0 || b.below.Len() == 0 {
		m.removeBlock(b)
		return
	}
	if m.overloaded(b) {
		if !m.trySplitXOrY(b) {
			m.splitZ(b)
		}
	}
}

func (m *Manager) trySplitXOrY(b *Block) bool {
	if b.above.Len() > m.constraints.MaxAbove || b.above.Len() > b.below.Len() {
		return m.trySplitY(b) || m.trySplitX(b)
	}
	return m.trySplitX(b) || m.trySplitY(b)
}

func (m *Manager) trySplitX(b *Block) bool {
	maxedOut := false
	b.above.Ascend(func(x *Block) bool {
		if x.IsTarget() && x.below.Len() >= m.constraints.MaxBelow {
			maxedOut = true
			return false
		}
		return true
	})
	if maxedOut || b.below.Len() <= 1 {
		return false
	}
	m.splitX(b)
	return true
}

func (m *Manager) trySplitY(b *Block) bool {
	maxedOut := false
	b.below.Ascend(func(x *Block) bool {
		if x.IsSource() && x.above.Len() >= m.constraints.MaxAbove {
			maxedOut = true
			return false
		}
		return true
	})
	if maxedOut || b.above.Len() <= 1 {
		return false
	}
	m.splitY(b)
	return true
}

func (m *Manager) splitX(b *Block) {
	below := sortedSlice(b.below)
	index := len(below) / 2
	pivot := below[index]

	newBlk := newBlock(kindInternal)
	newBlk.xStart, newBlk.xStop, newBlk.yStart, newBlk.yStop = blockXStart(pivot), b.xStop, b.yStart, b.yStop
	b.xStop = blockXStart(pivot)

	for _, x := range below[index:] {
		disconnect(x, b)
		connect(x, newBlk)
	}
	for _, x := range sortedSlice(b.above) {
		connect(newBlk, x)
		m.queue = append(m.queue, x)
	}
	m.queue = append(m.queue, b, newBlk)
}

func (m *Manager) splitY(b *Block) {
	above := sortedSlice(b.above)
	index := len(above) / 2
	pivot := above[index]

	newBlk := newBlock(kindInternal)
	newBlk.xStart, newBlk.xStop, newBlk.yStart, newBlk.yStop = b.xStart, b.xStop, blockYStart(pivot), b.yStop
	b.yStop = blockYStart(pivot)

	for _, x := range above[index:] {
		disconnect(b, x)
		connect(newBlk, x)
	}
	for _, x := range sortedSlice(b.below) {
		connect(x, newBlk)
		m.queue = append(m.queue, x)
	}
	m.queue = append(m.queue, b, newBlk)
}

func (m *Manager) splitZ(b *Block) {
	newBlk := newBlock(kindInternal)
	newBlk.xStart, newBlk.xStop, newBlk.yStart, newBlk.yStop = b.xStart, b.xStop, b.yStart, b.yStop
	for _, x := range sortedSlice(b.above) {
		disconnect(b, x)
		connect(newBlk, x)
	}
	connect(b, newBlk)
	m.queue = append(m.queue, b, newBlk)
}
