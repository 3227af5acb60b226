// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package correlation implements the Correlation Registry: the shared
// namespace that lets a host-API callback's causal chain be found again
// later by the asynchronous activity callback that completes it.
//
// Three independently-locked maps back the registry, the same
// lock-granularity choice the teacher makes for its own unrelated
// per-concern maps (see libpf/xsync/rwlock.go's doc comment) rather than
// one map guarded by a single lock: origin-thread lookups happen far more
// often than inserts, and the three concerns are never read together, so
// splitting the locks avoids false contention between them.
package correlation // import "github.com/omnitrace/omnitrace/correlation"

import (
	"sync"
	"sync/atomic"

	"github.com/omnitrace/omnitrace/internal/tid"
	"github.com/omnitrace/omnitrace/internal/xsync"
)

// ID identifies one host-API call across the registry and, later, the
// activity record that completes it.
type ID uint64

// CausalChain records the parent/child call relationship used to
// reconstruct nested kernel launches on the host timeline.
type CausalChain struct {
	CID       uint64
	ParentCID uint64
	Depth     uint16
}

// Registry is the process-wide correlation namespace. The zero value is
// ready to use.
type Registry struct {
	keyNames      xsync.RWMutex[map[ID]string]
	originThreads xsync.RWMutex[map[ID]int32]
	causalChains  xsync.RWMutex[map[ID]CausalChain]

	counter atomic.Uint64
	stacks  *tid.Table[chainStack]
}

type chainStack struct {
	mu    sync.Mutex
	stack []CausalChain
}

// New returns an empty, ready-to-use Registry.
func New() *Registry {
	return &Registry{
		keyNames:      xsync.NewRWMutex(map[ID]string{}),
		originThreads: xsync.NewRWMutex(map[ID]int32{}),
		causalChains:  xsync.NewRWMutex(map[ID]CausalChain{}),
		stacks:        tid.NewTable(func() *chainStack { return &chainStack{} }),
	}
}

// Insert records the key name, origin thread, and causal chain for a
// correlation id in one pass. Each of the three maps is locked only long
// enough to perform its own insert; the three writes are not atomic with
// respect to each other, matching the registry's read side, which never
// needs to observe all three fields as a single snapshot.
func (r *Registry) Insert(id ID, keyName string, originThread int32, chain CausalChain) {
	names := r.keyNames.WLock()
	(*names)[id] = keyName
	r.keyNames.WUnlock(&names)

	origins := r.originThreads.WLock()
	(*origins)[id] = originThread
	r.originThreads.WUnlock(&origins)

	chains := r.causalChains.WLock()
	(*chains)[id] = chain
	r.causalChains.WUnlock(&chains)
}

// LookupKeyName returns the API name recorded under id, if any.
func (r *Registry) LookupKeyName(id ID) (string, bool) {
	names := r.keyNames.RLock()
	defer r.keyNames.RUnlock(&names)
	name, ok := (*names)[id]
	return name, ok
}

// LookupOriginThread returns the OS thread id that issued the call
// recorded under id, if any.
func (r *Registry) LookupOriginThread(id ID) (int32, bool) {
	origins := r.originThreads.RLock()
	defer r.originThreads.RUnlock(&origins)
	origin, ok := (*origins)[id]
	return origin, ok
}

// LookupCausalChain returns the causal chain recorded under id, if any.
func (r *Registry) LookupCausalChain(id ID) (CausalChain, bool) {
	chains := r.causalChains.RLock()
	defer r.causalChains.RUnlock(&chains)
	chain, ok := (*chains)[id]
	return chain, ok
}

// PushChain allocates a new causal chain as a child of the calling
// thread's innermost still-open chain (or a root chain, if none is open)
// and pushes it onto that thread's parent stack. PopChain must be called
// from the same thread once the call it corresponds to returns, even if
// the call errors, to keep the per-thread stack balanced.
func (r *Registry) PushChain(threadID int32) CausalChain {
	cs := r.stackFor(threadID)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cid := r.counter.Add(1)
	chain := CausalChain{CID: cid}
	if n := len(cs.stack); n > 0 {
		parent := cs.stack[n-1]
		chain.ParentCID = parent.CID
		chain.Depth = parent.Depth + 1
	}
	cs.stack = append(cs.stack, chain)
	return chain
}

// PopChain removes the innermost open chain for threadID. It is a no-op
// if the thread has no open chain, which can happen if tracing was
// enabled mid-call.
func (r *Registry) PopChain(threadID int32) {
	cs := r.stackFor(threadID)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if n := len(cs.stack); n > 0 {
		cs.stack = cs.stack[:n-1]
	}
}

func (r *Registry) stackFor(threadID int32) *chainStack {
	return r.stacks.Get(threadID)
}
