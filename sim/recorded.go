/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package sim

import (
	"sort"
	"time"

	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

// Event is one scheduled delivery: at time At, Message is handed to Target
// as though it arrived from Sender. Grounded in
// original_source/dist_zero/recorded.py's RecordedUser, which replays a
// list of (time, action) pairs against a leaf node for deterministic,
// reproducible simulation runs in place of live UDP input.
type Event struct {
	At      time.Duration
	Target  node.Handle
	Sender  node.Handle
	Message wire.Envelope
}

// RecordedInput is a deterministic, golden-file-style replay source: a
// fixed sequence of Events a Simulation feeds to its nodes as real time
// elapses, instead of an actual adjacent link node or outside actor.
// cmd/demo and tests construct one directly rather than depending on
// real wall-clock timing or network input.
type RecordedInput struct {
	events []Event
	next   int
}

// NewRecordedInput builds a RecordedInput from events, sorting a defensive
// copy by At so playback is correct regardless of the order the caller
// appended them in.
func NewRecordedInput(events []Event) *RecordedInput {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })
	return &RecordedInput{events: sorted}
}

// Drain delivers, via deliver, every event whose At has elapsed as of now,
// in recorded order, advancing past them so a later call never redelivers
// an event. A caller invokes this once per tick, after Simulation.Elapse
// has advanced now to the same value.
func (r *RecordedInput) Drain(now time.Duration, deliver func(Event)) {
	for r.next < len(r.events) && r.events[r.next].At <= now {
		deliver(r.events[r.next])
		r.next++
	}
}

// Done reports whether every recorded event has been delivered.
func (r *RecordedInput) Done() bool { return r.next >= len(r.events) }

// Remaining is the number of events not yet delivered.
func (r *RecordedInput) Remaining() int { return len(r.events) - r.next }
