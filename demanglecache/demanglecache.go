// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package demanglecache provides a bounded, thread-safe cache mapping raw
// kernel entry-point pointers to demangled C++ symbol names, so the
// Activity Callback's generic-name fallback path doesn't re-run the
// demangler for every completion of the same kernel. Grounded on the
// teacher's tracehandler.traceCache, which caches symbolization results in
// exactly this shape (github.com/elastic/go-freelru's SyncedLRU).
//
// Per §5's concurrency table, this cache is owned by the activity worker:
// each activity-worker thread gets its own Cache instance rather than
// sharing one process-wide. The hit/miss counters below are atomic because
// Stats may be read from another goroutine than the one calling Name.
package demanglecache // import "github.com/omnitrace/omnitrace/demanglecache"

import (
	"sync/atomic"

	lru "github.com/elastic/go-freelru"
	"github.com/ianlancetaylor/demangle"
)

// defaultCapacity bounds the cache so long-running traced processes that
// launch many distinct kernels don't grow this cache without limit.
const defaultCapacity = 4096

// Resolver looks up the mangled symbol name for a kernel entry-point
// pointer. It is satisfied by hsart.Table.ResolveKernelName.
type Resolver func(ptr uintptr) (name string, ok bool)

// Cache demangles kernel names lazily and remembers the result.
type Cache struct {
	entries *lru.SyncedLRU[uintptr, string]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// New returns a ready-to-use Cache with a fixed capacity.
func New() *Cache {
	entries, err := lru.NewSynced[uintptr, string](defaultCapacity, hashPointer)
	if err != nil {
		// Only returns an error for a zero capacity, which defaultCapacity
		// never is.
		panic(err)
	}
	return &Cache{entries: entries}
}

func hashPointer(p uintptr) uint32 {
	return uint32(p) ^ uint32(p>>32)
}

// Name returns the demangled name for ptr, resolving and demangling it on
// first access via resolve. ok is false only if resolve itself has no name
// for ptr (a missing-symbol condition, recovered locally per the tracing
// engine's error handling policy).
func (c *Cache) Name(ptr uintptr, resolve Resolver) (string, bool) {
	if name, ok := c.entries.Get(ptr); ok {
		c.hits.Add(1)
		return name, true
	}
	c.misses.Add(1)

	mangled, ok := resolve(ptr)
	if !ok {
		return "", false
	}

	name := demangle.Filter(mangled)
	c.entries.Add(ptr, name)
	return name, true
}

// Stats returns the cumulative hit/miss counts, for the statistical sink.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
