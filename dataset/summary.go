// Package dataset implements the self-balancing tree of data nodes
// described in spec.md §4.3: a DataNode is a leaf, interior, or root
// member of a tree over a 1-D keyspace, growing and shrinking in response
// to its kids' reported summaries.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package dataset

// Summary is what a kid periodically reports to its parent: how many
// leaves live below it, how many kids it directly has, and how much more
// load it could still absorb.
type Summary struct {
	Size         int64 `json:"size"`
	NKids        int   `json:"n_kids"`
	Availability int64 `json:"availability"`
}

func (s Summary) add(o Summary) Summary {
	return Summary{Size: s.Size + o.Size, NKids: s.NKids + o.NKids, Availability: s.Availability + o.Availability}
}
