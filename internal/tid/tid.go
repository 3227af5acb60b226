// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package tid provides OS-thread-id helpers used to key the per-thread state
// the tracing engine keeps: the interpreter's recursion guard and pop-closure
// stack, the host-API callback's activity queue, and the causal-chain
// allocator's parent stack. All of these are indexed by the kernel thread id
// of whichever thread happens to invoke the tracer, mirroring the teacher's
// thread_data<T> pattern (see interpreter/python and tracehandler for the
// per-thread-map idiom this generalizes).
package tid // import "github.com/omnitrace/omnitrace/internal/tid"

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Get returns the OS-level thread id of the calling goroutine.
//
// This only makes sense when the goroutine is locked to its OS thread
// (runtime.LockOSThread) or when the caller only needs a snapshot value, as
// is the case for every callback in this package: the host runtime and the
// interpreter always invoke the tracer synchronously on the thread that
// owns the call, never migrating goroutines mid-callback.
func Get() int32 {
	return int32(unix.Gettid())
}

// Table is a lazily populated, mutex-guarded map from thread id to a
// per-thread value of type T. It is the Go analogue of the source's
// thread_data<T> helper, generalized so every per-thread map in this module
// (activity queues, interpreter recursion guards, pop-closure stacks,
// causal-chain parent stacks) shares one small, well-tested implementation.
type Table[T any] struct {
	mu     sync.Mutex
	byTID  map[int32]*T
	create func() *T
}

// NewTable creates a Table whose entries are lazily constructed with create
// on first access from a given thread.
func NewTable[T any](create func() *T) *Table[T] {
	return &Table[T]{
		byTID:  make(map[int32]*T),
		create: create,
	}
}

// Get returns the per-thread value for tid, creating it on first access.
func (t *Table[T]) Get(threadID int32) *T {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.byTID[threadID]
	if !ok {
		v = t.create()
		t.byTID[threadID] = v
	}
	return v
}

// Delete removes the per-thread value for tid, if any. Used at shutdown to
// let those entries be garbage collected once a thread's queue has been
// drained for the last time.
func (t *Table[T]) Delete(threadID int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byTID, threadID)
}

// Each calls fn once for every currently registered thread id. Used by
// DrainAll-style global shutdown sweeps.
func (t *Table[T]) Each(fn func(threadID int32, v *T)) {
	t.mu.Lock()
	snapshot := make(map[int32]*T, len(t.byTID))
	for k, v := range t.byTID {
		snapshot[k] = v
	}
	t.mu.Unlock()

	for k, v := range snapshot {
		fn(k, v)
	}
}
