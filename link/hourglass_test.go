/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package link_test

import (
	"testing"

	"github.com/koreiklein/distzero/link"
)

func TestHourglassTransactionRequiresMidNodeUpBeforeSwapping(t *testing.T) {
	h := link.NewHourglassTransaction("mid", []string{"s0", "s1"}, []string{"r0", "r1", "r2"})
	if h.SwapSender("s0") {
		t.Fatal("expected swap to be rejected before the mid node is up")
	}
	h.MidNodeUp()
	if h.SwapSender("s0") {
		t.Fatal("expected not finished after only 1 of 2 senders swapped")
	}
	if !h.SwapSender("s1") {
		t.Fatal("expected finished once every sender swapped")
	}
}
