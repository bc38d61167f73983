/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package link_test

import (
	"testing"

	"github.com/koreiklein/distzero/link"
)

func TestWeightedRRRespectsWeightCaps(t *testing.T) {
	kids := []string{"k0", "k1", "k2", "k3", "k4", "k5"}
	parents := []string{"p0", "p1"}
	weights := map[string]int{"p0": 4, "p1": 2}

	assignment, err := link.WeightedRR(kids, parents, weights)
	if err != nil {
		t.Fatal(err)
	}
	if len(assignment) != len(kids) {
		t.Fatalf("expected every kid assigned, got %d of %d", len(assignment), len(kids))
	}

	counts := map[string]int{}
	for _, parent := range assignment {
		counts[parent]++
	}
	if counts["p0"] != 4 || counts["p1"] != 2 {
		t.Fatalf("expected p0 to get 4 and p1 to get 2, got %v", counts)
	}
}

func TestWeightedRRReturnsNoRemainingAvailability(t *testing.T) {
	kids := []string{"k0", "k1", "k2"}
	parents := []string{"p0"}
	weights := map[string]int{"p0": 1}

	_, err := link.WeightedRR(kids, parents, weights)
	if err == nil {
		t.Fatal("expected an error when total weight cannot absorb every kid")
	}
}
