/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package linkgraph

import (
	"fmt"
	"io"
)

// WriteDOT renders the current graph as Graphviz DOT, one rank per Layers
// group, for operator debugging. Supplements the reference tool's
// network_graph.py visualization, which this repository renders with
// Graphviz instead of reproducing its ad hoc layout code.
func (m *Manager) WriteDOT(w io.Writer) error {
	fmt.Fprintln(w, "digraph linkgraph {")
	fmt.Fprintln(w, "  rankdir=LR;")

	name := func(b *Block) string {
		switch {
		case b.IsSource():
			return fmt.Sprintf("src_%s", b.Value)
		case b.IsTarget():
			return fmt.Sprintf("tgt_%s", b.Value)
		default:
			return fmt.Sprintf("blk_%p", b)
		}
	}

	for _, layer := range m.Layers() {
		fmt.Fprint(w, "  { rank=same; ")
		for _, b := range layer {
			fmt.Fprintf(w, "%q; ", name(b))
		}
		fmt.Fprintln(w, "}")
	}

	seen := map[[2]string]struct{}{}
	emit := func(b *Block) {
		b.above.Ascend(func(above *Block) bool {
			edge := [2]string{name(b), name(above)}
			if _, ok := seen[edge]; !ok {
				seen[edge] = struct{}{}
				fmt.Fprintf(w, "  %q -> %q;\n", edge[0], edge[1])
			}
			return true
		})
	}
	for _, s := range m.sources {
		emit(s)
	}
	for _, b := range m.InternalBlocks() {
		emit(b)
	}

	fmt.Fprintln(w, "}")
	return nil
}
