// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

/*
Package metrics implements the tracing engine's statistical summary sink.

The activity and host-API callbacks accept a sink.StatSink through which
they report per-kernel and per-op durations and drop/fallback counts.
OTelSink is the concrete sink.StatSink used outside tests: it forwards
every sample to an OTel meter, creating the underlying counter or
histogram instrument the first time a given name is seen, since kernel
and API-op names are only known at runtime rather than fixed at build
time.

A small number of statistics have no natural call site of their own —
demanglecache's cumulative hit/miss counters and the total depth across
every thread's activity queue are both snapshots of state another
package owns, not events a callback can push. StartPeriodicFlush samples
these on a jittered ticker and reports them through an OTelSink: the
queue depth as a gauge, the cache counters as deltas since the last tick.

# Directory Structure

	metrics
	├── doc.go          // this file
	├── metrics.go      // OTelSink and StartPeriodicFlush
	├── metrics_test.go // tests the metrics package
	└── types.go        // MetricID, MetricDefinition, and the built-in id set
*/
package metrics
