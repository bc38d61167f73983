// Package xact provides quiescence detection for extended actions: a
// migration (or any other multi-phase protocol) that must wait for every
// in-flight message it governs to drain before advancing to its next
// phase polls a quiescence callback on its tick cadence.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package xact

import (
	"sync/atomic"
	"time"
)

type QuiRes int

const (
	QuiActive   QuiRes = iota // in-flight work remains
	QuiInactive               // drained, but not yet long enough to declare done
	QuiDone                   // drained and settled
	QuiTimeout                // drained-wait exceeded its allowance
)

// RefcntQuiCB is the common ref-counted quiescence check: refc counts
// in-flight messages (incremented on send, decremented on ack/apply).
// totalSoFar is how long the caller has been waiting in total.
func RefcntQuiCB(refc *atomic.Int32, maxTimeout, totalSoFar time.Duration) QuiRes {
	if refc.Load() > 0 {
		return QuiActive
	}
	if totalSoFar > maxTimeout {
		return QuiTimeout
	}
	return QuiInactive
}

// Quiescence tracks one extended action's drain-and-settle barrier: the
// action Pins the counter for every message it puts in flight, Unpins as
// each is acknowledged or applied, and polls Check once per tick. Check
// reports QuiDone only after the counter has stayed at zero for the
// settle duration, so a transient zero between a send burst and its acks
// does not end the barrier early.
type Quiescence struct {
	refc    atomic.Int32
	settle  time.Duration
	timeout time.Duration

	idleFor time.Duration
	total   time.Duration
}

func NewQuiescence(settle, timeout time.Duration) *Quiescence {
	return &Quiescence{settle: settle, timeout: timeout}
}

func (q *Quiescence) Pin()   { q.refc.Add(1) }
func (q *Quiescence) Unpin() { q.refc.Add(-1) }

// Check advances the barrier's clock by d and returns its state.
func (q *Quiescence) Check(d time.Duration) QuiRes {
	q.total += d
	switch RefcntQuiCB(&q.refc, q.timeout, q.total) {
	case QuiActive:
		q.idleFor = 0
		return QuiActive
	case QuiTimeout:
		return QuiTimeout
	default:
		q.idleFor += d
		if q.idleFor >= q.settle {
			return QuiDone
		}
		return QuiInactive
	}
}
