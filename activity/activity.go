// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package activity implements the Activity Callback: entered on a
// runtime-owned worker thread with a buffer of completed device
// operations, joining each record against the Correlation Registry and
// dispatching skew-corrected spans to the sinks via the origin thread's
// activity queue.
package activity // import "github.com/omnitrace/omnitrace/activity"

import (
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/omnitrace/omnitrace/activityqueue"
	"github.com/omnitrace/omnitrace/clockskew"
	"github.com/omnitrace/omnitrace/correlation"
	"github.com/omnitrace/omnitrace/demanglecache"
	"github.com/omnitrace/omnitrace/hsart"
	"github.com/omnitrace/omnitrace/internal/tid"
	"github.com/omnitrace/omnitrace/sink"
)

// workerThreadName is what the first activity callback on a worker thread
// names it, so it's recognizable in the timeline. Linux thread names are
// truncated to 15 bytes plus a NUL by the kernel.
const workerThreadName = "omnitrace-act"

// genericOpNames provides the fallback span label when a record's
// correlation id has no Correlation Registry entry, keyed by the
// well-known device-activity op classes.
var genericOpNames = map[hsart.OpID]string{
	hsart.OpDispatch: "DISPATCH",
	hsart.OpCopy:     "COPY",
	hsart.OpBarrier:  "BARRIER",
}

// Options configures a Callback.
type Options struct {
	// DeviceOpsDomain and MaxOp implement §4.6 step 1's domain/op-range
	// filter: records outside this range are silently skipped.
	DeviceOpsDomain hsart.Domain
	MaxOp           hsart.OpID

	DeviceNow clockskew.DeviceClock

	// OpName returns the runtime's generic name for op, used only when op
	// is not one of the well-known genericOpNames.
	OpName func(op hsart.OpID) string

	// Skew, if non-nil, is shared with the caller so the lifecycle
	// controller can trigger the bracket-sampling reconciliation eagerly
	// during OnLoad, before any activity record can arrive. A nil value
	// gets its own private Reconciler, computed lazily on first use.
	Skew *clockskew.Reconciler

	// ResolveKernelName resolves a dispatched kernel's entry-point pointer
	// to its mangled symbol name. Used only by the generic-name fallback,
	// when a dispatch record's correlation id has no Correlation Registry
	// entry; the demangled result is cached per activity-worker thread. Nil
	// disables kernel-name resolution in the fallback path.
	ResolveKernelName demanglecache.Resolver
}

// Callback is the Activity Callback for one runtime.
type Callback struct {
	deviceOpsDomain hsart.Domain
	maxOp           hsart.OpID

	skew      *clockskew.Reconciler
	deviceNow clockskew.DeviceClock

	registry *correlation.Registry
	queues   *activityqueue.Registry
	spanSink sink.SpanSink
	statSink sink.StatSink

	opName            func(op hsart.OpID) string
	resolveKernelName demanglecache.Resolver

	threadNamed *tid.Table[bool]
	// demangle is keyed by activity-worker thread id: §5 assigns the
	// kernel-name demangle cache to the activity worker, thread-local,
	// rather than sharing one process-wide instance.
	demangle *tid.Table[demanglecache.Cache]
}

// New builds a Callback.
func New(registry *correlation.Registry, queues *activityqueue.Registry, spanSink sink.SpanSink,
	statSink sink.StatSink, opts Options) *Callback {
	skew := opts.Skew
	if skew == nil {
		skew = &clockskew.Reconciler{}
	}
	return &Callback{
		deviceOpsDomain:   opts.DeviceOpsDomain,
		maxOp:             opts.MaxOp,
		skew:              skew,
		deviceNow:         opts.DeviceNow,
		registry:          registry,
		queues:            queues,
		spanSink:          spanSink,
		statSink:          statSink,
		opName:            opts.OpName,
		resolveKernelName: opts.ResolveKernelName,
		threadNamed:       tid.NewTable(func() *bool { return new(bool) }),
		demangle:          tid.NewTable(func() *demanglecache.Cache { return demanglecache.New() }),
	}
}

// CacheStats sums the hit/miss counts across every activity-worker thread's
// demangle cache, for the periodic statistics flush.
func (c *Callback) CacheStats() (hits, misses uint64) {
	c.demangle.Each(func(_ int32, cache *demanglecache.Cache) {
		h, m := cache.Stats()
		hits += h
		misses += m
	})
	return hits, misses
}

// Callback returns the hsart.ActivityCallback to register with the
// runtime.
func (c *Callback) Callback() hsart.ActivityCallback {
	return c.onRecord
}

// OnActivityBuffer processes every record in a buffer, in the order
// received. Each record is handled independently; a malformed record
// never stops the loop from advancing to the next one — the loop's own
// range-for advances unconditionally, so the "always advance" invariant
// is structural rather than something onRecord has to remember.
func (c *Callback) OnActivityBuffer(records []hsart.Record) {
	if len(records) == 0 {
		return
	}
	c.nameThreadOnce()

	for i := range records {
		c.onRecord(records[i].Op, &records[i])
	}
}

// nameThreadOnce sets this worker thread's OS-visible name to something
// the user can recognize in the timeline, the first time this thread
// reaches the activity callback.
func (c *Callback) nameThreadOnce() {
	threadID := tid.Get()
	named := c.threadNamed.Get(threadID)
	if *named {
		return
	}
	*named = true
	name := append([]byte(workerThreadName), 0)
	if err := unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&name[0])), 0, 0, 0); err != nil {
		log.Debugf("activity: could not set worker thread name: %v", err)
	}
}

func (c *Callback) onRecord(op hsart.OpID, record *hsart.Record) {
	// Step 1: domain/op-range filter.
	if record.Domain != c.deviceOpsDomain || op > c.maxOp {
		c.statSink.RecordCount("activity.malformed_record_dropped", 1)
		return
	}

	// Step 2: skew-correct begin/end.
	skew := c.skew.Skew(c.deviceNow)
	beginNS := int64(record.BeginNS) + skew
	endNS := int64(record.EndNS) + skew

	// Step 3: Correlation Registry lookup with generic-name fallback.
	name, originThread, fallback := c.resolve(op, record)

	deviceID, queueID, corrID := record.DeviceID, record.QueueID, record.CorrelationID

	// Step 4: deferred closure emitting the device span and a duration
	// sample.
	closure := func() {
		c.spanSink.EmitSpan(sink.SpanScopeDevice, name, beginNS, endNS, sink.SpanAnnotations{
			DeviceID:      deviceID,
			QueueID:       queueID,
			CorrelationID: corrID,
		})
		c.statSink.RecordDuration(name, endNS-beginNS)
		if fallback {
			c.statSink.RecordCount("activity.fallback_name", 1)
		}
	}

	// Step 5: append to the origin thread's activity queue.
	c.queues.For(originThread).Append(closure)
}

func (c *Callback) resolve(op hsart.OpID, record *hsart.Record) (name string, originThread int32, fallback bool) {
	id := correlation.ID(record.CorrelationID)

	keyName, foundName := c.registry.LookupKeyName(id)
	origin, foundOrigin := c.registry.LookupOriginThread(id)

	if !foundName || !foundOrigin {
		log.Debugf("activity: correlation id %d not found in registry, using generic name", record.CorrelationID)
		return c.genericName(op, record.KernelPtr), tid.Get(), true
	}

	return keyName, origin, false
}

// genericName resolves the fallback label for a record with no Correlation
// Registry entry. Dispatch records carry a kernel pointer the demangle
// cache can turn into a real name; every other op class falls back to the
// runtime's generic op-string.
func (c *Callback) genericName(op hsart.OpID, kernelPtr uintptr) string {
	if op == hsart.OpDispatch && kernelPtr != 0 && c.resolveKernelName != nil {
		cache := c.demangle.Get(tid.Get())
		if name, ok := cache.Name(kernelPtr, c.resolveKernelName); ok {
			return name
		}
	}
	if name, ok := genericOpNames[op]; ok {
		return name
	}
	if c.opName != nil {
		return c.opName(op)
	}
	return "UNKNOWN"
}
