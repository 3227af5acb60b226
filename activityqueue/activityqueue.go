// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package activityqueue implements the per-thread activity queue: the
// hand-off point between an asynchronous device activity record, which
// arrives on whatever runtime worker thread the accelerator runtime chose,
// and the origin thread that must run its deferred closure so that
// per-thread sinks and interpreter state are only ever touched from the
// thread that owns them.
package activityqueue // import "github.com/omnitrace/omnitrace/activityqueue"

import (
	"sync"

	"github.com/omnitrace/omnitrace/internal/tid"
)

// Queue holds the deferred closures appended for one origin thread. The
// zero value is ready to use.
type Queue struct {
	mu      sync.Mutex
	pending []func()
}

// Append adds fn to the queue. Safe to call from any thread, including a
// runtime worker thread different from the queue's origin thread.
func (q *Queue) Append(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// Drain runs every closure appended since the last Drain, in FIFO order.
// The backing slice is swapped out under the lock and the lock released
// before any closure runs, so a closure that itself calls Append does not
// deadlock and is simply picked up by the next Drain. Drain is
// all-or-nothing: every closure swapped out on a given call runs before
// Drain returns.
func (q *Queue) Drain() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// Len reports the number of closures currently pending, for metrics and
// tests. It is a snapshot and may be stale immediately after return.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Registry holds one Queue per OS thread id, created lazily on first use.
type Registry struct {
	queues *tid.Table[Queue]
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{queues: tid.NewTable(func() *Queue { return &Queue{} })}
}

// For returns the Queue belonging to threadID, creating it if necessary.
func (r *Registry) For(threadID int32) *Queue {
	return r.queues.Get(threadID)
}

// DrainAll drains every registered thread's queue and then removes its
// entry, so the queue can be garbage collected. Used at global shutdown,
// when there is no guarantee the origin thread of a still-pending closure
// will ever call Drain itself again, and no further activity records are
// expected once the runtime has unloaded the tracer.
func (r *Registry) DrainAll() {
	var threadIDs []int32
	r.queues.Each(func(threadID int32, q *Queue) {
		q.Drain()
		threadIDs = append(threadIDs, threadID)
	})
	for _, threadID := range threadIDs {
		r.queues.Delete(threadID)
	}
}

// TotalLen sums Len across every registered thread's queue, for the
// periodic activity-queue-depth gauge. Like Len, it is a snapshot.
func (r *Registry) TotalLen() int {
	total := 0
	r.queues.Each(func(_ int32, q *Queue) {
		total += q.Len()
	})
	return total
}
