/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package xact_test

import (
	"testing"
	"time"

	"github.com/koreiklein/distzero/xact"
)

func TestQuiescenceSettlesOnlyAfterSustainedZero(t *testing.T) {
	q := xact.NewQuiescence(10*time.Millisecond, time.Second)

	q.Pin()
	if res := q.Check(5 * time.Millisecond); res != xact.QuiActive {
		t.Fatalf("expected active while pinned, got %v", res)
	}
	q.Unpin()

	if res := q.Check(5 * time.Millisecond); res != xact.QuiInactive {
		t.Fatalf("expected inactive immediately after drain, got %v", res)
	}
	if res := q.Check(5 * time.Millisecond); res != xact.QuiDone {
		t.Fatalf("expected done after settle elapsed, got %v", res)
	}
}

func TestQuiescenceResetsIdleOnNewWork(t *testing.T) {
	q := xact.NewQuiescence(10*time.Millisecond, time.Second)

	q.Check(8 * time.Millisecond)
	q.Pin()
	q.Check(8 * time.Millisecond) // active: idle clock resets
	q.Unpin()

	if res := q.Check(8 * time.Millisecond); res != xact.QuiInactive {
		t.Fatalf("expected settle to restart after new work, got %v", res)
	}
}

func TestQuiescenceTimesOut(t *testing.T) {
	q := xact.NewQuiescence(time.Hour, 20*time.Millisecond)

	q.Check(15 * time.Millisecond)
	if res := q.Check(15 * time.Millisecond); res != xact.QuiTimeout {
		t.Fatalf("expected timeout, got %v", res)
	}
}
