// Package cos provides common low-level types and utilities shared by every
// distzero package: error kinds, id generation, and small value helpers.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

type (
	// ErrInternal marks an impossible state reached inside a node's state
	// machine (duplicate importer registration, transaction invariant
	// violated, ...). Per spec policy these are fatal to the affected node.
	ErrInternal struct {
		what string
	}

	// ErrNoRemainingAvailability is raised by the weighted round-robin
	// assignment when the receivers' combined weight cannot fit all kids.
	ErrNoRemainingAvailability struct{}

	// ErrNoCapacity is surfaced to an API client when get_capacity cannot
	// place a new leaf anywhere in the fleet.
	ErrNoCapacity struct {
		reason string
	}

	// ErrNoTransport is logged and dropped at the machine layer when a send
	// is attempted without an established transport to the peer.
	ErrNoTransport struct {
		receiverID string
	}

	// ErrNotFound is a generic "no such X" error used outside the hot path.
	ErrNotFound struct {
		what string
	}

	// Errs accumulates up to a handful of distinct errors, e.g. while
	// validating a batch of block operations.
	Errs struct {
		errs []error
		mu   sync.Mutex
	}
)

func NewErrInternal(format string, a ...any) *ErrInternal {
	return &ErrInternal{fmt.Sprintf(format, a...)}
}

func (e *ErrInternal) Error() string { return "internal invariant violation: " + e.what }

func NewErrNoCapacity(format string, a ...any) *ErrNoCapacity {
	return &ErrNoCapacity{fmt.Sprintf(format, a...)}
}

func (e *ErrNoCapacity) Error() string { return "no capacity: " + e.reason }

func (*ErrNoRemainingAvailability) Error() string {
	return "no remaining availability for weighted round-robin assignment"
}

func NewErrNoTransport(receiverID string) *ErrNoTransport { return &ErrNoTransport{receiverID} }

func (e *ErrNoTransport) Error() string {
	return fmt.Sprintf("no transport established to node %q", e.receiverID)
}

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	_, ok := errors.Cause(err).(*ErrNotFound)
	return ok
}

const maxErrs = 4

// Add records err unless an error with the same message was already added
// or the accumulator is already at capacity.
func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

// Error renders the first recorded error plus a count of the rest.
func (e *Errs) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return ""
	}
	if len(e.errs) == 1 {
		return e.errs[0].Error()
	}
	return fmt.Sprintf("%v (and %d more error(s))", e.errs[0], len(e.errs)-1)
}
