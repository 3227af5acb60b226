// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package omnitrace is the top-level facade: it wires the Correlation
// Registry, the per-thread activity queues, the statistical sink, and the
// Lifecycle Controller into the Host-API and Activity callbacks, and
// exposes the interpreter-side entry points of spec.md §6
// (is_initialized/is_finalized/initialize/finalize, and the profiler.*
// surface via Profiler). The kernel-name demangle cache lives inside
// activity.Callback itself, one per activity-worker thread.
package omnitrace // import "github.com/omnitrace/omnitrace/omnitrace"

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/omnitrace/omnitrace/activity"
	"github.com/omnitrace/omnitrace/activityqueue"
	"github.com/omnitrace/omnitrace/clockskew"
	"github.com/omnitrace/omnitrace/correlation"
	"github.com/omnitrace/omnitrace/hostapi"
	"github.com/omnitrace/omnitrace/hsart"
	"github.com/omnitrace/omnitrace/internal/envflag"
	"github.com/omnitrace/omnitrace/internal/state"
	"github.com/omnitrace/omnitrace/lifecycle"
	"github.com/omnitrace/omnitrace/metrics"
	"github.com/omnitrace/omnitrace/pytrace/config"
	"github.com/omnitrace/omnitrace/sink"
)

// EnvCommandLine is set by Initialize to the joined command line, for
// sinks to read, per spec.md §6.
const EnvCommandLine = "OMNITRACE_COMMAND_LINE"

// hsaSetupName matches lifecycle's own fixed registration key; Register
// calls made here must use the same literal so runSetups picks them up.
const hsaSetupName = "hsa"

// Options configures a Session's Host-API and Activity callback wiring,
// its MPI probe, and the interpreter configuration. The runtime-specific
// fields feed hostapi.Options/activity.Options or the per-op enable lists;
// the parts that don't depend on the runtime (the registry, the queues,
// the stat sink) are built by New.
type Options struct {
	Domain hsart.Domain

	HostAPIQueueExtractors map[string]hostapi.QueueExtractor
	KernelLaunchOps        []string
	// IgnoredOps overrides hostapi.DefaultIgnoredOps when non-nil.
	IgnoredOps []string
	// HostAPIOps, if non-empty, names the exact set of ops to enable the
	// Host-API callback for, individually, via hsart.Table.EnableOpCallback.
	// Empty enables the callback for the whole domain via
	// EnableDomainCallback instead, per §4.7's setup closure body: "either
	// enable all ops... or, given an explicit list, resolve each op name to
	// an op-code and enable it individually."
	HostAPIOps []string

	// ActivityOps names the ops to enable device-activity recording for.
	ActivityOps []string
	MaxOp       hsart.OpID
	DeviceNow   clockskew.DeviceClock

	// MPIProbe reports whether an MPI binding is available, gating the
	// MPI-aware flag surfaced to sinks. Defaults to "always false" so the
	// core never hard-depends on an MPI library, per spec.md §9's open
	// question.
	MPIProbe func() bool

	InterpreterConfig config.Config
}

// Session is the process-wide facade: one Session per traced process.
type Session struct {
	initState state.Var
	sessionID string

	opts     Options
	registry *correlation.Registry
	queues   *activityqueue.Registry
	stats    *metrics.OTelSink
	skew     *clockskew.Reconciler
	ctrl     *lifecycle.Controller
	profiler *Profiler

	// activityCB is set by setupActivity once the runtime hands OnLoad a
	// live hsart.Table; OnLoad reads it back to wire the periodic
	// demanglecache-stats sample.
	activityCB *activity.Callback

	hostSink sink.HostEventSink
	spanSink sink.SpanSink

	metricsCtx    context.Context
	metricsCancel context.CancelFunc
	stopMetrics   func()
}

// New builds a Session. regionSink, hostSink, and spanSink are the
// persistence-layer collaborators; opts configures the runtime-specific op
// wiring.
func New(regionSink sink.RegionSink, hostSink sink.HostEventSink, spanSink sink.SpanSink, opts Options) *Session {
	if opts.MPIProbe == nil {
		opts.MPIProbe = func() bool { return false }
	}
	if opts.IgnoredOps == nil {
		opts.IgnoredOps = hostapi.DefaultIgnoredOps
	}

	s := &Session{
		opts:     opts,
		registry: correlation.New(),
		queues:   activityqueue.NewRegistry(),
		stats:    metrics.NewOTelSink(),
		skew:     &clockskew.Reconciler{},
		profiler: NewProfiler(regionSink, opts.InterpreterConfig),
		hostSink: hostSink,
		spanSink: spanSink,
	}
	s.metricsCtx, s.metricsCancel = context.WithCancel(context.Background())

	s.ctrl = lifecycle.New(
		func() error { return s.profiler.ProfilerInit() },
		func() { _ = s.profiler.ProfilerFinalize() },
	)
	s.ctrl.Register(hsaSetupName, s.setupHostAPI, s.shutdownHostAPI)
	s.ctrl.Register(hsaSetupName, s.setupActivity, s.shutdownActivity)

	return s
}

// Profiler returns the session's profiler.* surface.
func (s *Session) Profiler() *Profiler {
	return s.profiler
}

// IsInitialized implements is_initialized().
func (s *Session) IsInitialized() bool {
	return s.initState.Get() == state.Active
}

// IsFinalized implements is_finalized().
func (s *Session) IsFinalized() bool {
	return s.initState.Get() == state.Finalized
}

// Initialize implements initialize(string | list-of-string): establishes
// the trace session, publishing cmd as OMNITRACE_COMMAND_LINE. cmd must be
// a string or a []string (joined with spaces, the argv-concatenation
// behavior of spec.md §6); any other type is a contract violation.
// Calling Initialize twice is also a contract violation.
func (s *Session) Initialize(cmd any) error {
	if !s.initState.CompareAndSwap(state.Uninitialized, state.Active) {
		return ErrAlreadyInitialized
	}

	line, err := commandLine(cmd)
	if err != nil {
		s.initState.Set(state.Uninitialized)
		return err
	}
	if err := envflag.Set(EnvCommandLine, line); err != nil {
		log.Warnf("omnitrace: could not publish %s: %v", EnvCommandLine, err)
	}

	s.sessionID = uuid.NewString()
	mpiAware := s.opts.MPIProbe()
	log.Debugf("omnitrace: session %s initialized (mpi_aware=%v): %s", s.sessionID, mpiAware, line)

	return nil
}

// Finalize implements finalize(): one-shot, tearing down the runtime
// registration and the periodic metrics flush. Calling Finalize twice, or
// before Initialize, is a contract violation.
func (s *Session) Finalize() error {
	if !s.initState.CompareAndSwap(state.Active, state.Finalized) {
		return ErrAlreadyFinalized
	}
	s.ctrl.OnUnload()
	if s.stopMetrics != nil {
		s.stopMetrics()
	}
	s.metricsCancel()
	s.queues.DrainAll()
	return nil
}

// commandLine implements the string/[]string disambiguation from spec.md
// §9's open question: a single idiomatic entry point instead of the
// source's three ambiguous C++ overloads.
func commandLine(cmd any) (string, error) {
	switch v := cmd.(type) {
	case string:
		return v, nil
	case []string:
		return strings.Join(v, " "), nil
	default:
		return "", fmt.Errorf("%w: got %T", ErrInvalidCommandLine, cmd)
	}
}

// OnLoad implements the dynamic-library entry point of spec.md §6,
// registering the Host-API and Activity callbacks against rt and computing
// the clock skew eagerly, before any activity record can arrive.
func (s *Session) OnLoad(rt hsart.Table, opts hsart.LoadOptions) bool {
	loadOpts := lifecycle.LoadOptions{
		RuntimeVersion:  opts.RuntimeVersion,
		FailedToolCount: opts.FailedToolCount,
		FailedToolNames: opts.FailedToolNames,
	}

	skewFn := func() { s.skew.Skew(s.opts.DeviceNow) }

	ok := s.ctrl.OnLoad(rt, skewFn, loadOpts)
	if ok && s.ctrl.State() == state.Active && s.stopMetrics == nil {
		s.stopMetrics = metrics.StartPeriodicFlush(s.metricsCtx, s.stats, s.queues, s.activityCB)
	}
	return ok
}

// OnUnload implements the dynamic-library entry point of spec.md §6.
func (s *Session) OnUnload() {
	s.ctrl.OnUnload()
	if s.stopMetrics != nil {
		s.stopMetrics()
	}
}

func (s *Session) setupHostAPI(rt hsart.Table) error {
	cb := hostapi.New(rt, s.registry, s.queues, s.hostSink, rt.ResolveKernelName, hostapi.Options{
		Domain:          s.opts.Domain,
		QueueExtractors: s.opts.HostAPIQueueExtractors,
		KernelLaunchOps: s.opts.KernelLaunchOps,
		IgnoredOps:      s.opts.IgnoredOps,
		StatSink:        s.stats,
	})
	callback := cb.Callback()

	if len(s.opts.HostAPIOps) == 0 {
		return rt.EnableDomainCallback(s.opts.Domain, callback)
	}

	var firstErr error
	for _, name := range s.opts.HostAPIOps {
		op, ok := rt.OpCode(s.opts.Domain, name)
		if !ok {
			log.Warnf("omnitrace: unknown host-API op %q, ignoring", name)
			continue
		}
		if err := rt.EnableOpCallback(s.opts.Domain, op, callback); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Session) shutdownHostAPI(rt hsart.Table) {
	if len(s.opts.HostAPIOps) == 0 {
		if err := rt.DisableDomainCallback(s.opts.Domain); err != nil {
			log.Warnf("omnitrace: disabling host-API domain callback: %v", err)
		}
		return
	}

	for _, name := range s.opts.HostAPIOps {
		op, ok := rt.OpCode(s.opts.Domain, name)
		if !ok {
			continue
		}
		if err := rt.DisableOpCallback(s.opts.Domain, op); err != nil {
			log.Warnf("omnitrace: disabling host-API op %q: %v", name, err)
		}
	}
}

func (s *Session) setupActivity(rt hsart.Table) error {
	cb := activity.New(s.registry, s.queues, s.spanSink, s.stats, activity.Options{
		DeviceOpsDomain:   s.opts.Domain,
		MaxOp:             s.opts.MaxOp,
		DeviceNow:         s.opts.DeviceNow,
		OpName:            func(op hsart.OpID) string { return rt.OpName(s.opts.Domain, op) },
		Skew:              s.skew,
		ResolveKernelName: rt.ResolveKernelName,
	})
	s.activityCB = cb

	var firstErr error
	for _, name := range s.opts.ActivityOps {
		op, ok := rt.OpCode(s.opts.Domain, name)
		if !ok {
			log.Warnf("omnitrace: unknown activity op %q, ignoring", name)
			continue
		}
		if err := rt.EnableOpActivity(s.opts.Domain, op, cb.Callback()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Session) shutdownActivity(rt hsart.Table) {
	for _, name := range s.opts.ActivityOps {
		op, ok := rt.OpCode(s.opts.Domain, name)
		if !ok {
			continue
		}
		if err := rt.DisableOpActivity(s.opts.Domain, op); err != nil {
			log.Warnf("omnitrace: disabling activity for op %q: %v", name, err)
		}
	}
}
