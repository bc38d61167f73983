/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package linkgraph_test

import (
	"strings"

	"github.com/koreiklein/distzero/linkgraph"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Manager", func() {
	It("connects every source to every target through a single center block when under constraints", func() {
		m := linkgraph.NewManager(
			[]linkgraph.Interval{{Value: "s0", Start: 0, Width: 1}, {Value: "s1", Start: 1, Width: 1}},
			[]linkgraph.Interval{{Value: "t0", Start: 0, Width: 1}},
			linkgraph.Constraints{MaxAbove: 8, MaxBelow: 8},
		)
		Expect(len(m.InternalBlocks())).To(Equal(1))
		layers := m.Layers()
		Expect(len(layers)).To(BeNumerically(">=", 2))
	})

	It("splits an overloaded internal block once it exceeds MaxBelow", func() {
		sources := make([]linkgraph.Interval, 6)
		for i := range sources {
			sources[i] = linkgraph.Interval{Value: string(rune('a' + i)), Start: float64(i), Width: 1}
		}
		m := linkgraph.NewManager(
			sources,
			[]linkgraph.Interval{{Value: "t0", Start: 0, Width: 1}},
			linkgraph.Constraints{MaxAbove: 8, MaxBelow: 2},
		)
		Expect(len(m.InternalBlocks())).To(BeNumerically(">", 1))
		for _, b := range m.InternalBlocks() {
			Expect(b.IsRemoved()).To(BeFalse())
		}
	})

	It("splits a source and leaves both halves addressable", func() {
		m := linkgraph.NewManager(
			[]linkgraph.Interval{{Value: "s0", Start: 0, Width: 10}},
			[]linkgraph.Interval{{Value: "t0", Start: 0, Width: 1}},
			linkgraph.Constraints{MaxAbove: 8, MaxBelow: 8},
		)
		m.SplitSrc("s0", "s1", 4)

		s0 := m.SourceBlock("s0")
		s1 := m.SourceBlock("s1")
		Expect(s0.Width()).To(Equal(6.0))
		Expect(s1.Width()).To(Equal(4.0))
		Expect(s1.Start()).To(Equal(6.0))
	})

	It("merges a split source back without losing total width", func() {
		m := linkgraph.NewManager(
			[]linkgraph.Interval{{Value: "s0", Start: 0, Width: 10}},
			[]linkgraph.Interval{{Value: "t0", Start: 0, Width: 1}},
			linkgraph.Constraints{MaxAbove: 8, MaxBelow: 8},
		)
		m.SplitSrc("s0", "s1", 4)
		m.MergeSrc("s0", "s1")

		Expect(m.SourceBlock("s0")).To(BeNil())
		Expect(m.SourceBlock("s1").Width()).To(Equal(10.0))
	})

	It("renders a DOT graph containing every source and target", func() {
		m := linkgraph.NewManager(
			[]linkgraph.Interval{{Value: "s0", Start: 0, Width: 1}},
			[]linkgraph.Interval{{Value: "t0", Start: 0, Width: 1}},
			linkgraph.Constraints{MaxAbove: 8, MaxBelow: 8},
		)
		var sb strings.Builder
		Expect(m.WriteDOT(&sb)).To(Succeed())
		out := sb.String()
		Expect(out).To(ContainSubstring("src_s0"))
		Expect(out).To(ContainSubstring("tgt_t0"))
	})
})
