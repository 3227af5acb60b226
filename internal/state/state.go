// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package state tracks the tracing engine's process-wide lifecycle state,
// the Go equivalent of the source's State enum (Uninitialized/Active/
// Finalized). lifecycle.Controller, pytrace.Adapter and omnitrace.Session
// each keep one; the hostapi and activity callbacks do not consult it.
package state // import "github.com/omnitrace/omnitrace/internal/state"

import "sync/atomic"

// State is the tracing engine's lifecycle state.
type State int32

const (
	Uninitialized State = iota
	Active
	Finalized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Var is a process-wide atomic State cell.
type Var struct {
	v atomic.Int32
}

// Get returns the current state.
func (sv *Var) Get() State {
	return State(sv.v.Load())
}

// Set transitions to the given state unconditionally.
func (sv *Var) Set(s State) {
	sv.v.Store(int32(s))
}

// IsActive reports whether the state is Active.
func (sv *Var) IsActive() bool {
	return sv.Get() == Active
}

// CompareAndSwap transitions from old to new, reporting whether it did.
// Used to reject a contract violation (double initialize, double
// finalize) without a separate lock: only the caller that wins the race
// observes true.
func (sv *Var) CompareAndSwap(old, new State) bool {
	return sv.v.CompareAndSwap(int32(old), int32(new))
}
