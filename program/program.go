// Package program describes, statically and in memory, the dataflow
// topology spec.md §8's scenarios spawn: a set of datasets and the links
// between them. Grounded in original_source/dist_zero/program.py's
// DistributedProgram/Dataset/Link triplet.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package program

import (
	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/dataset"
	"github.com/koreiklein/distzero/link"
)

// Program is a static description of a whole distributed dataflow: every
// dataset and link config a machine.Bootstrap call needs to spawn the
// root of each.
type Program struct {
	ID       string
	Name     string
	Datasets []*Dataset
	Links    []*Link
}

// New begins an empty program descriptor named name.
func New(name string) *Program {
	return &Program{ID: cos.NewID("Program_" + name), Name: name}
}

// NewDataset adds a dataset of the given height to the program and
// returns its descriptor. Height -1 is a lone leaf; 0 or more is an
// interior/root data node that will grow its own subtree at runtime.
func (p *Program) NewDataset(name string, variant dataset.Variant, height int) *Dataset {
	d := &Dataset{ID: cos.NewID("DataNode_" + name), Name: name, Variant: variant, Height: height}
	p.Datasets = append(p.Datasets, d)
	return d
}

// NewLink adds a link routing src's output to tgt's input.
func (p *Program) NewLink(name string, src, tgt *Dataset, variant link.Variant) *Link {
	l := &Link{ID: cos.NewID("LinkNode_" + name), Name: name, Source: src, Target: tgt, Variant: variant}
	p.Links = append(p.Links, l)
	return l
}

// Dataset is a static description of one dataset in a Program.
type Dataset struct {
	ID      string
	Name    string
	Variant dataset.Variant
	Height  int
}

// ToConfig produces the node_config a machine uses to spawn this
// dataset's root.
func (d *Dataset) ToConfig() dataset.Config {
	return dataset.Config{NodeID: d.ID, Variant: d.Variant, Height: d.Height}
}

// Link is a static description of a link node routing one dataset's
// output to another's input.
type Link struct {
	ID      string
	Name    string
	Source  *Dataset
	Target  *Dataset
	Variant link.Variant
}

// ToConfig produces the node_config a machine uses to spawn this link's
// LinkNode. expectedLeft/expectedRight are the ids of the kids on each
// side the link node must hear a hello from before it can route,
// normally the single root id of Source and Target.
func (l *Link) ToConfig(expectedLeft, expectedRight []string) link.Config {
	return link.Config{
		NodeID:        l.ID,
		Variant:       l.Variant,
		ExpectedLeft:  expectedLeft,
		ExpectedRight: expectedRight,
	}
}
