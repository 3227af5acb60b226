// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package omnitrace

import (
	"github.com/omnitrace/omnitrace/internal/tid"
	"github.com/omnitrace/omnitrace/pytrace"
	"github.com/omnitrace/omnitrace/pytrace/config"
	"github.com/omnitrace/omnitrace/sink"
)

// Profiler is the Go shape of spec.md §6's profiler.profiler_init /
// profiler.profiler_finalize / profiler.profiler_function / profiler.config
// surface, a thin wrapper around pytrace.Adapter matching the embedded
// interpreter's expected calling convention.
type Profiler struct {
	adapter *pytrace.Adapter
}

// NewProfiler returns a Profiler pushing regions to regionSink, with cfg as
// the process-wide master interpreter configuration.
func NewProfiler(regionSink sink.RegionSink, cfg config.Config) *Profiler {
	return &Profiler{adapter: pytrace.New(regionSink, cfg)}
}

// ProfilerInit implements profiler.profiler_init.
func (p *Profiler) ProfilerInit() error {
	return p.adapter.Init()
}

// ProfilerFinalize implements profiler.profiler_finalize.
func (p *Profiler) ProfilerFinalize() error {
	return p.adapter.Finalize()
}

// ProfilerFunction implements profiler.profiler_function(frame, event, arg):
// the trace-hook entry point the embedded interpreter calls for every
// call/return event on the calling thread. arg is accepted for signature
// parity with the interpreter-side trace hook contract but unused, matching
// the source (only frame and event carry information the adapter needs).
func (p *Profiler) ProfilerFunction(frame *pytrace.Frame, event pytrace.EventKind, _ any) {
	p.adapter.Trace(tid.Get(), frame, event)
}

// Config returns the calling thread's profiler.config settings object.
func (p *Profiler) Config() *config.Config {
	return p.adapter.Config(tid.Get())
}

// IsRunning reports whether ProfilerInit has run without a matching
// ProfilerFinalize.
func (p *Profiler) IsRunning() bool {
	return p.adapter.IsRunning()
}
