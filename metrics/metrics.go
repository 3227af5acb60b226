// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics implements the tracing engine's statistical summary
// sink: an OTel-metrics-backed sink.StatSink plus a periodic flush of the
// counters that have no natural call site of their own (activity-queue
// depth, demanglecache hit/miss).
//
// The teacher's metrics package defines a fixed set of metric ids in an
// embedded metrics.json and reports pre-aggregated per-second buffers
// through a host-agent reporter. This tracer has no host-agent reporter
// and no fixed metric set: the activity and host-API callbacks report
// per-kernel and per-op statistics under dynamic, runtime-supplied names,
// so the OTel instruments here are created lazily per name rather than
// pre-declared from a definitions table. Definitions in types.go instead
// document the small set of names the tracing engine itself produces.
package metrics // import "github.com/omnitrace/omnitrace/metrics"

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/omnitrace/omnitrace/activityqueue"
	"github.com/omnitrace/omnitrace/internal/periodiccaller"
	"github.com/omnitrace/omnitrace/internal/vc"
)

// FlushInterval is the default period between demanglecache and
// activity-queue-depth samples.
const FlushInterval = time.Second

// jitter keeps many traced processes started at once from flushing in
// lockstep.
const jitter = 0.1

// builtinName maps a built-in MetricID to its OTel instrument name.
var builtinName = func() map[MetricID]string {
	names := make(map[MetricID]string)
	for _, def := range Definitions() {
		names[def.ID] = def.Name
	}
	return names
}()

// OTelSink is a sink.StatSink backed by OTel metrics. Counters and
// histograms are created lazily, keyed by the name the caller passes,
// since kernel and API-op names are only known at runtime.
type OTelSink struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Int64Histogram
	gauges     map[string]metric.Int64Gauge
}

// NewOTelSink returns a ready-to-use OTelSink.
func NewOTelSink() *OTelSink {
	return &OTelSink{
		meter:      otel.Meter("github.com/omnitrace/omnitrace/metrics", metric.WithInstrumentationVersion(vc.Version())),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Int64Histogram),
		gauges:     make(map[string]metric.Int64Gauge),
	}
}

// RecordDuration implements sink.StatSink, reporting ns as a sample on the
// histogram named name, creating it on first use.
func (s *OTelSink) RecordDuration(name string, ns int64) {
	h, ok := s.histogramFor(name)
	if !ok {
		return
	}
	h.Record(context.Background(), ns)
}

// RecordCount implements sink.StatSink, adding delta to the counter named
// name, creating it on first use.
func (s *OTelSink) RecordCount(name string, delta int64) {
	c, ok := s.counterFor(name)
	if !ok {
		return
	}
	c.Add(context.Background(), delta)
}

// RecordGauge records value as a point-in-time sample on the gauge named
// name, creating it on first use. Not part of sink.StatSink; used by the
// periodic flush below for statistics with no natural call site.
func (s *OTelSink) RecordGauge(name string, value int64) {
	g, ok := s.gaugeFor(name)
	if !ok {
		return
	}
	g.Record(context.Background(), value)
}

func (s *OTelSink) counterFor(name string) (metric.Int64Counter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c, true
	}
	c, err := s.meter.Int64Counter(name)
	if err != nil {
		log.Errorf("metrics: creating counter %q: %v", name, err)
		return nil, false
	}
	s.counters[name] = c
	return c, true
}

func (s *OTelSink) histogramFor(name string) (metric.Int64Histogram, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.histograms[name]; ok {
		return h, true
	}
	h, err := s.meter.Int64Histogram(name, metric.WithUnit("ns"))
	if err != nil {
		log.Errorf("metrics: creating histogram %q: %v", name, err)
		return nil, false
	}
	s.histograms[name] = h
	return h, true
}

func (s *OTelSink) gaugeFor(name string) (metric.Int64Gauge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gauges[name]; ok {
		return g, true
	}
	g, err := s.meter.Int64Gauge(name)
	if err != nil {
		log.Errorf("metrics: creating gauge %q: %v", name, err)
		return nil, false
	}
	s.gauges[name] = g
	return g, true
}

// CacheStatter reports cumulative demangle-cache hit/miss counts,
// aggregated across every activity-worker thread's cache. Satisfied by
// activity.Callback.CacheStats.
type CacheStatter interface {
	CacheStats() (hits, misses uint64)
}

// StartPeriodicFlush samples the activity-queue depth and demanglecache
// hit/miss counters every interval until ctx is canceled, reporting them
// through sink. cacheStats may be nil, which disables only the
// demanglecache sample. Returns a stop function. Grounded on the teacher's
// own periodic-flush design (metrics.AddSlice's batching comment describes
// the same "collect until timestamp changes, then report" shape); here
// periodiccaller.StartWithJitter drives the tick directly since there is
// no separate batching buffer to flush.
func StartPeriodicFlush(ctx context.Context, sink *OTelSink, queues *activityqueue.Registry,
	cacheStats CacheStatter) func() {
	var prevHits, prevMisses uint64

	return periodiccaller.StartWithJitter(ctx, FlushInterval, jitter, func() {
		sink.RecordGauge(builtinName[IDActivityQueueDepth], int64(queues.TotalLen()))

		if cacheStats == nil {
			return
		}
		hits, misses := cacheStats.CacheStats()
		if delta := int64(hits - prevHits); delta > 0 {
			sink.RecordCount(builtinName[IDDemangleCacheHit], delta)
		}
		if delta := int64(misses - prevMisses); delta > 0 {
			sink.RecordCount(builtinName[IDDemangleCacheMiss], delta)
		}
		prevHits, prevMisses = hits, misses
	})
}
