// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package scopeguard provides a deterministic, scope-bound reentrancy flag.
//
// Both the interpreter trace adapter and the host-API callback must refuse
// to re-enter themselves when their own bookkeeping (formatting an argument,
// resolving a kernel name) triggers another call into the traced runtime.
// The guard's release is bound to the call scope via a deferred closure, the
// same "sealed" idiom the teacher uses in successfailurecounter to guarantee
// a counter is bumped exactly once regardless of which return path is taken.
package scopeguard // import "github.com/omnitrace/omnitrace/internal/scopeguard"

// Guard is a single-flag reentrancy guard. It is not safe for concurrent use
// from multiple goroutines; callers keep one Guard per traced thread, the
// same way the source keeps its recursion flag thread_local.
type Guard struct {
	active bool
}

// Enter reports whether the caller may proceed. When proceed is false the
// caller must return immediately without calling release. When proceed is
// true, the caller must defer release() so the flag clears on every exit
// path, including panics.
func (g *Guard) Enter() (proceed bool, release func()) {
	if g.active {
		return false, nil
	}
	g.active = true
	return true, func() { g.active = false }
}

// Active reports the current state of the guard. Used by tests asserting
// that the guard is false on every normal exit.
func (g *Guard) Active() bool {
	return g.active
}
