// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostapi implements the Host-API Callback: the enter/exit hook
// invoked synchronously on the traced application's thread for each
// accelerator-runtime API call of interest.
package hostapi // import "github.com/omnitrace/omnitrace/hostapi"

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/omnitrace/omnitrace/activityqueue"
	"github.com/omnitrace/omnitrace/correlation"
	"github.com/omnitrace/omnitrace/hsart"
	"github.com/omnitrace/omnitrace/internal/scopeguard"
	"github.com/omnitrace/omnitrace/internal/tid"
	"github.com/omnitrace/omnitrace/sink"
)

// QueueExtractor pulls the stream/queue handle out of one API call's
// argument union. Only a declared subset of APIs carries one; the
// Callback reports hsart.Queue(0) for any op with no registered
// extractor, the Go equivalent of the source's per-API
// OMNITRACE_HIP_API_QUEUE_CASE switch, expressed as data instead of
// generated code.
type QueueExtractor func(data *hsart.APICallData) hsart.Queue

// KernelNameResolver resolves a kernel entry-point pointer to its
// (mangled) name. A miss is not an error: the caller falls back to an
// unresolved name.
type KernelNameResolver func(ptr uintptr) (string, bool)

// Options configures a Callback. Op names are resolved to hsart.OpID once
// at construction via rt.OpCode; a name the runtime doesn't recognize is
// ignored rather than failing construction (logged for QueueExtractors,
// skipped silently for KernelLaunchOps and IgnoredOps).
type Options struct {
	Domain hsart.Domain

	// QueueExtractors maps API names that carry a stream/queue handle to
	// the function that extracts it.
	QueueExtractors map[string]QueueExtractor

	// KernelLaunchOps names the ops that carry a kernel entry-point
	// pointer requiring name resolution.
	KernelLaunchOps []string

	// IgnoredOps names ops whose recording would distort the timeline:
	// push/pop config, peer-access enable, external-memory import/destroy.
	IgnoredOps []string

	// Now overrides the host clock; nil uses wall-clock time.
	Now func() int64

	// StatSink receives the timestamp-inversion drop count. Optional; nil
	// disables the statistic without affecting event delivery.
	StatSink sink.StatSink
}

// DefaultIgnoredOps names the bookkeeping API calls whose recording would
// distort the timeline: the launch-configuration push/pop every kernel
// launch (`<<<>>>`) emits, peer-access enable, and external-memory
// import/destroy on runtime versions that support them.
// Any name here the runtime doesn't recognize is silently skipped by New.
var DefaultIgnoredOps = []string{
	"__hipPushCallConfiguration",
	"__hipPopCallConfiguration",
	"hipDeviceEnablePeerAccess",
	"hipImportExternalMemory",
	"hipDestroyExternalMemory",
}

// Callback is the Host-API Callback for one hsart.Domain.
type Callback struct {
	domain        hsart.Domain
	registry      *correlation.Registry
	queues        *activityqueue.Registry
	hostSink      sink.HostEventSink
	resolveKernel KernelNameResolver
	now           func() int64
	statSink      sink.StatSink

	extractors map[hsart.OpID]QueueExtractor
	kernelOps  map[hsart.OpID]struct{}
	ignored    map[hsart.OpID]struct{}

	guards *tid.Table[scopeguard.Guard]

	mu         sync.Mutex
	beginTimes map[uint64]int64
}

// New builds a Callback for opts.Domain, resolving every named op against
// rt.
func New(rt hsart.Table, registry *correlation.Registry, queues *activityqueue.Registry,
	hostSink sink.HostEventSink, resolveKernel KernelNameResolver, opts Options) *Callback {
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixNano() }
	}

	cb := &Callback{
		domain:        opts.Domain,
		registry:      registry,
		queues:        queues,
		hostSink:      hostSink,
		resolveKernel: resolveKernel,
		now:           now,
		statSink:      opts.StatSink,
		extractors:    make(map[hsart.OpID]QueueExtractor),
		kernelOps:     make(map[hsart.OpID]struct{}),
		ignored:       make(map[hsart.OpID]struct{}),
		guards:        tid.NewTable(func() *scopeguard.Guard { return &scopeguard.Guard{} }),
		beginTimes:    make(map[uint64]int64),
	}

	for name, extractor := range opts.QueueExtractors {
		op, ok := rt.OpCode(opts.Domain, name)
		if !ok {
			log.Warnf("hostapi: unknown queue-extractor op %q, ignoring", name)
			continue
		}
		cb.extractors[op] = extractor
	}
	for _, name := range opts.KernelLaunchOps {
		if op, ok := rt.OpCode(opts.Domain, name); ok {
			cb.kernelOps[op] = struct{}{}
		}
	}
	for _, name := range opts.IgnoredOps {
		if op, ok := rt.OpCode(opts.Domain, name); ok {
			cb.ignored[op] = struct{}{}
		}
	}

	return cb
}

// Callback returns the hsart.APICallback to register with the runtime.
func (c *Callback) Callback() hsart.APICallback {
	return func(_ hsart.Domain, op hsart.OpID, data *hsart.APICallData) {
		switch data.Phase {
		case hsart.PhaseEnter:
			c.onEnter(op, data)
		case hsart.PhaseExit:
			c.onExit(op, data)
		}
	}
}

func (c *Callback) onEnter(op hsart.OpID, data *hsart.APICallData) {
	if _, skip := c.ignored[op]; skip {
		return
	}

	threadID := tid.Get()
	guard := c.guards.Get(threadID)
	proceed, release := guard.Enter()
	if !proceed {
		return
	}
	defer release()

	beginNS := c.now()

	var queue hsart.Queue
	if extractor, ok := c.extractors[op]; ok {
		queue = extractor(data)
	}
	data.Queue = queue

	keyName := ""
	if _, isLaunch := c.kernelOps[op]; isLaunch {
		if name, ok := c.resolveKernel(data.KernelPtr); ok {
			keyName = name
		} else {
			log.Debugf("hostapi: kernel name lookup miss for correlation id %d", data.CorrelationID)
		}
	}

	chain := c.registry.PushChain(threadID)
	corrID := correlation.ID(data.CorrelationID)
	c.registry.Insert(corrID, keyName, threadID, chain)

	c.mu.Lock()
	c.beginTimes[data.CorrelationID] = beginNS
	c.mu.Unlock()

	c.hostSink.BeginEvent(data.CorrelationID, keyName, sink.Queue(queue),
		chain.CID, chain.ParentCID, chain.Depth, beginNS)

	c.queues.For(threadID).Drain()
}

func (c *Callback) onExit(op hsart.OpID, data *hsart.APICallData) {
	if _, skip := c.ignored[op]; skip {
		return
	}

	threadID := tid.Get()
	guard := c.guards.Get(threadID)
	proceed, release := guard.Enter()
	if !proceed {
		return
	}
	defer release()

	c.queues.For(threadID).Drain()

	c.mu.Lock()
	beginNS, hadBegin := c.beginTimes[data.CorrelationID]
	delete(c.beginTimes, data.CorrelationID)
	c.mu.Unlock()

	endNS := c.now()

	if hadBegin && endNS < beginNS {
		log.Warnf("hostapi: dropping END for correlation id %d, timestamp inversion (begin=%d end=%d)",
			data.CorrelationID, beginNS, endNS)
		if c.statSink != nil {
			c.statSink.RecordCount("hostapi.timestamp_inversion_dropped", 1)
		}
		c.registry.PopChain(threadID)
		return
	}

	c.hostSink.EndEvent(data.CorrelationID, endNS)
	c.registry.PopChain(threadID)
}
