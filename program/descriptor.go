/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package program

import (
	"os"

	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/dataset"
	"github.com/koreiklein/distzero/link"
	"gopkg.in/yaml.v3"
)

// Descriptor is the on-disk YAML shape of a Program: a static topology a
// demo or test hands to the runtime, the counterpart of handing
// program.py's in-memory DistributedProgram construction calls to
// machine.Bootstrap directly. Every other way of building a Program
// (NewDataset/NewLink) remains available for code that wants to
// construct one without a file.
type Descriptor struct {
	Name     string              `yaml:"name"`
	Datasets []DatasetDescriptor `yaml:"datasets"`
	Links    []LinkDescriptor    `yaml:"links"`
}

type DatasetDescriptor struct {
	Name    string `yaml:"name"`
	Variant string `yaml:"variant"` // "input" or "output"
	Height  int    `yaml:"height"`
}

type LinkDescriptor struct {
	Name    string `yaml:"name"`
	Source  string `yaml:"source"` // a DatasetDescriptor.Name
	Target  string `yaml:"target"` // a DatasetDescriptor.Name
	Variant string `yaml:"variant"` // "all_to_all" or "all_to_one_available"
}

// Load reads a Descriptor from a YAML file and builds the Program it
// describes.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cos.NewErrInternal("reading program descriptor %s: %v", path, err)
	}
	var desc Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, cos.NewErrInternal("parsing program descriptor %s: %v", path, err)
	}
	return desc.Build()
}

// Build constructs the in-memory Program this descriptor names.
func (d Descriptor) Build() (*Program, error) {
	p := New(d.Name)
	byName := make(map[string]*Dataset, len(d.Datasets))
	for _, ds := range d.Datasets {
		variant := dataset.VariantInput
		if ds.Variant == "output" {
			variant = dataset.VariantOutput
		}
		byName[ds.Name] = p.NewDataset(ds.Name, variant, ds.Height)
	}
	for _, ld := range d.Links {
		src, ok := byName[ld.Source]
		if !ok {
			return nil, cos.NewErrInternal("link %q references unknown source dataset %q", ld.Name, ld.Source)
		}
		tgt, ok := byName[ld.Target]
		if !ok {
			return nil, cos.NewErrInternal("link %q references unknown target dataset %q", ld.Name, ld.Target)
		}
		variant := link.VariantAllToOneAvailable
		if ld.Variant == "all_to_all" {
			variant = link.VariantAllToAll
		}
		p.NewLink(ld.Name, src, tgt, variant)
	}
	return p, nil
}
