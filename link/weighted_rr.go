// Package link implements the bipartite link node described in spec.md
// §4.4/§4.5: a node sitting between a left and right configuration set,
// choosing via a Connector which intermediate nodes exist between them.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package link

import "github.com/koreiklein/distzero/cmn/cos"

// WeightedRR assigns each of kids to one of parents, in proportions
// roughly matching each parent's weight, never assigning a parent more
// kids than its weight. It returns cos.ErrNoRemainingAvailability if the
// combined weight of parents cannot absorb every kid.
//
// Grounded directly in the reference implementation's round-robin
// partitioning scheme: repeatedly walk kids against a cumulative-weight
// partition of the remaining parents, assigning each kid to the parent
// whose partition slot it lands in, then drop any parent whose weight hit
// zero and repeat for whatever kids remain unmatched.
func WeightedRR(kids, parents []string, weights map[string]int) (map[string]string, error) {
	weights = cloneWeights(weights)
	assignment := make(map[string]string, len(kids))

	for len(kids) > 0 {
		if len(parents) == 0 {
			return nil, &cos.ErrNoRemainingAvailability{}
		}

		partition := make([]int, len(parents))
		total := 0
		for i, p := range parents {
			total += weights[p]
			partition[i] = total
		}

		increment := float64(total) / float64(len(kids))

		var unmatched []string
		counter := 0.0
		index := 0
		for _, kid := range kids {
			for index < len(partition) && counter >= float64(partition[index]) {
				index++
			}
			if index >= len(partition) {
				unmatched = append(unmatched, kid)
			} else {
				parent := parents[index]
				if weights[parent] <= 0 {
					unmatched = append(unmatched, kid)
				} else {
					assignment[kid] = parent
					weights[parent]--
				}
			}
			counter += increment
		}

		kids = unmatched
		remaining := parents[:0:0]
		for _, p := range parents {
			if weights[p] > 0 {
				remaining = append(remaining, p)
			}
		}
		parents = remaining
	}

	return assignment, nil
}

func cloneWeights(w map[string]int) map[string]int {
	out := make(map[string]int, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
