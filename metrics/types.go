// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

// MetricID identifies one of the tracer's built-in statistical counters or
// gauges: the fixed, small set of numbers the tracing engine itself
// produces about its own operation, as opposed to the per-kernel/per-op
// duration and count samples the activity and host-API callbacks record
// under dynamic, runtime-supplied names.
type MetricID uint16

const (
	IDInvalid MetricID = iota

	// IDDemangleCacheHit and IDDemangleCacheMiss count demanglecache
	// lookups.
	IDDemangleCacheHit
	IDDemangleCacheMiss

	// IDTimestampInversionDropped counts host-API END events dropped
	// because the runtime reported end < begin.
	IDTimestampInversionDropped

	// IDMalformedRecordDropped counts device activity records skipped by
	// the domain/op-range filter.
	IDMalformedRecordDropped

	// IDFallbackNameUsed counts device spans emitted under a generic
	// fallback name because their correlation id had no registry entry.
	IDFallbackNameUsed

	// IDActivityQueueDepth is a gauge of the total number of closures
	// pending across every thread's activity queue, sampled periodically.
	IDActivityQueueDepth

	IDMax
)

// MetricType distinguishes a monotonic counter from a point-in-time gauge.
type MetricType int

const (
	MetricTypeCounter MetricType = iota
	MetricTypeGauge
)

// MetricValue is the type for metric values.
type MetricValue int64

// Metric is an id/value pair.
type Metric struct {
	ID    MetricID
	Value MetricValue
}

// MetricDefinition names and types one MetricID, the way ids.go generated
// from metrics.json used to. There is no equivalent generated table here:
// the built-in id set is small and fixed enough to write out directly.
type MetricDefinition struct {
	ID          MetricID
	Name        string
	Description string
	Unit        string
	Type        MetricType
}

// Definitions returns the fixed set of built-in metric definitions.
func Definitions() []MetricDefinition {
	return []MetricDefinition{
		{IDDemangleCacheHit, "demanglecache.hit", "demanglecache lookups resolved from cache", "{hit}", MetricTypeCounter},
		{IDDemangleCacheMiss, "demanglecache.miss", "demanglecache lookups requiring resolution", "{miss}", MetricTypeCounter},
		{IDTimestampInversionDropped, "hostapi.timestamp_inversion_dropped", "host-API END events dropped for end < begin", "{event}", MetricTypeCounter},
		{IDMalformedRecordDropped, "activity.malformed_record_dropped", "device activity records skipped by the domain/op filter", "{record}", MetricTypeCounter},
		{IDFallbackNameUsed, "activity.fallback_name", "device spans emitted under a generic fallback name", "{span}", MetricTypeCounter},
		{IDActivityQueueDepth, "activityqueue.depth", "closures pending across every thread's activity queue", "{closure}", MetricTypeGauge},
	}
}

// Summary helps summarize metrics of the same ID from different sources
// before processing it further.
type Summary map[MetricID]MetricValue
