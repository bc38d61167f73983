/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package hk_test

import (
	"testing"
	"time"

	"github.com/koreiklein/distzero/hk"
)

func TestRegRunsOnSchedule(t *testing.T) {
	h := hk.New()
	runs := 0
	h.Reg("probe", func() time.Duration {
		runs++
		return 0
	}, 30*time.Millisecond)

	for i := 0; i < 2; i++ {
		h.Elapse(14 * time.Millisecond)
	}
	if runs != 0 {
		t.Fatalf("expected 0 runs before the first interval elapses, got %d", runs)
	}

	h.Elapse(5 * time.Millisecond)
	if runs != 1 {
		t.Fatalf("expected 1 run once the interval elapses, got %d", runs)
	}

	h.Elapse(30 * time.Millisecond)
	if runs != 2 {
		t.Fatalf("expected 2 runs after a second interval, got %d", runs)
	}
}

func TestNegativeDurationUnregisters(t *testing.T) {
	h := hk.New()
	h.Reg("once", func() time.Duration { return -1 }, 10*time.Millisecond)
	h.Elapse(10 * time.Millisecond)
	if h.IsRegistered("once") {
		t.Fatal("expected entry to unregister itself")
	}
}

func TestUnreg(t *testing.T) {
	h := hk.New()
	h.Reg("x", func() time.Duration { return 0 }, 10*time.Millisecond)
	h.Unreg("x")
	if h.IsRegistered("x") {
		t.Fatal("expected Unreg to remove the entry")
	}
}
