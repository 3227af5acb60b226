// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package sink declares the narrow interfaces the tracing engine requires
// of the persistence layer. Sinks are external collaborators (the
// perfetto-shaped timeline writer and the statistical summary writer);
// this package only names the contract the core calls through, never
// assuming a sink is safe to call from more than one thread at a time.
package sink // import "github.com/omnitrace/omnitrace/sink"

// SpanScope narrows which timeline a span belongs to.
type SpanScope int

const (
	SpanScopeHost SpanScope = iota
	SpanScopeDevice
)

// RegionSink accepts push/pop pairs from the interpreter trace adapter.
// label must remain valid (the tracer only ever passes interned, per-
// thread-stable strings) for the duration between push and the matching
// pop.
type RegionSink interface {
	PushRegion(label string)
	PopRegion(label string)
}

// Queue is an opaque device execution stream handle, stored inline with
// the host BEGIN event rather than in the Correlation Registry.
type Queue uintptr

// HostEventSink accepts BEGIN/END events from the host-API callback.
type HostEventSink interface {
	BeginEvent(correlationID uint64, name string, queue Queue, causalCID, causalParentCID uint64, causalDepth uint16, beginNS int64)
	EndEvent(correlationID uint64, endNS int64)
}

// SpanAnnotations carries the fields the activity callback attaches to a
// device-timeline span.
type SpanAnnotations struct {
	DeviceID      uint32
	QueueID       uint32
	CorrelationID uint64
}

// SpanSink accepts fully-formed spans, host or device, from the activity
// callback's deferred closures.
type SpanSink interface {
	EmitSpan(scope SpanScope, label string, beginNS, endNS int64, ann SpanAnnotations)
}

// StatSink records scalar samples for the statistical summary — durations,
// cache hit/miss counts, dropped-event counts.
type StatSink interface {
	RecordDuration(name string, ns int64)
	RecordCount(name string, delta int64)
}
