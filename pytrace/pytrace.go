// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package pytrace implements the Interpreter Trace Adapter: the per-frame
// hook that turns an embedded interpreter's call/return events into
// push/pop region events, applying regex-based include/exclude filters and
// a per-thread recursion guard.
package pytrace // import "github.com/omnitrace/omnitrace/pytrace"

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/omnitrace/omnitrace/internal/scopeguard"
	"github.com/omnitrace/omnitrace/internal/state"
	"github.com/omnitrace/omnitrace/internal/tid"
	"github.com/omnitrace/omnitrace/pytrace/config"
	"github.com/omnitrace/omnitrace/sink"
)

// ErrAlreadyRunning and ErrNotRunning are returned by Init/Finalize on the
// contract violation the profiler.profiler_init/profiler_finalize surface
// (spec.md §6) must fail loudly on: calling either out of turn.
var (
	ErrAlreadyRunning = errors.New("pytrace: adapter already running")
	ErrNotRunning     = errors.New("pytrace: adapter not running")
)

// EventKind mirrors the interpreter's trace-hook event kinds relevant to
// the adapter; any other value is a no-op.
type EventKind int

const (
	Call EventKind = iota
	CCall
	Return
	CReturn
	Other
)

// Frame is the minimal shape of an interpreter stack frame the adapter
// needs.
type Frame struct {
	FuncName string
	Filename string
	Line     int
	Parent   *Frame
	Args     []string
}

// threadState is the per-thread mutable bookkeeping the adapter keeps: the
// reentrancy guard, the ignore-stack-depth counter, the label intern set,
// and the balanced pop-closure stack.
type threadState struct {
	guard       scopeguard.Guard
	ignoreDepth int
	labels      map[string]string
	popStack    []func()
}

// Adapter is the process-wide interpreter trace adapter. One Adapter
// serves every traced thread; per-thread state is kept internally.
type Adapter struct {
	configs *config.Registry
	sink    sink.RegionSink
	state   *tid.Table[threadState]

	running state.Var
}

// New returns an Adapter that pushes/pops regions to regionSink, using cfg
// as the process-wide master configuration.
func New(regionSink sink.RegionSink, cfg config.Config) *Adapter {
	return &Adapter{
		configs: config.NewRegistry(cfg),
		sink:    regionSink,
		state: tid.NewTable(func() *threadState {
			return &threadState{labels: make(map[string]string)}
		}),
	}
}

// Config returns threadID's configuration snapshot, for the
// profiler.config surface.
func (a *Adapter) Config(threadID int32) *config.Config {
	return a.configs.For(threadID)
}

// Init starts this adapter's tracing session, for the
// profiler.profiler_init surface. Calling Init while already running is a
// contract violation and fails loudly, per spec.md §7.
func (a *Adapter) Init() error {
	if !a.running.CompareAndSwap(state.Uninitialized, state.Active) &&
		!a.running.CompareAndSwap(state.Finalized, state.Active) {
		return ErrAlreadyRunning
	}
	return nil
}

// Finalize stops this adapter's tracing session, for the
// profiler.profiler_finalize surface. Calling Finalize without a matching
// Init is a contract violation and fails loudly, per spec.md §7.
func (a *Adapter) Finalize() error {
	if !a.running.CompareAndSwap(state.Active, state.Finalized) {
		return ErrNotRunning
	}
	return nil
}

// IsRunning reports whether Init has been called without a matching
// Finalize.
func (a *Adapter) IsRunning() bool {
	return a.running.Get() == state.Active
}

// Trace processes one interpreter trace-hook event on threadID. Event
// kinds other than Call/CCall/Return/CReturn are ignored.
func (a *Adapter) Trace(threadID int32, frame *Frame, kind EventKind) {
	cfg := a.configs.For(threadID)

	if kind != Call && kind != CCall && kind != Return && kind != CReturn {
		if cfg.Verbose > 0 {
			logUnexpectedPhase(kind)
		}
		return
	}

	st := a.state.Get(threadID)

	proceed, release := st.guard.Enter()
	if !proceed {
		// A user __repr__ or similar invoked while formatting this very
		// call re-entered the adapter; short-circuit rather than recurse.
		return
	}
	defer release()

	if (kind == CCall || kind == CReturn) && !cfg.TraceC {
		return
	}

	switch kind {
	case Return, CReturn:
		a.handleReturn(st, kind)
	case Call, CCall:
		a.handleCall(st, cfg, frame, kind)
	}
}

func (a *Adapter) handleReturn(st *threadState, kind EventKind) {
	if st.ignoreDepth > 0 {
		if kind == Return {
			st.ignoreDepth--
		}
		return
	}

	n := len(st.popStack)
	if n == 0 {
		return
	}
	pop := st.popStack[n-1]
	st.popStack = st.popStack[:n-1]
	pop()
}

func (a *Adapter) handleCall(st *threadState, cfg *config.Config, frame *Frame, kind EventKind) {
	if st.ignoreDepth > 0 {
		if kind == Call {
			st.ignoreDepth++
		}
		return
	}

	name := frame.FuncName
	filename := frame.Filename

	forceCollect := false
	if len(cfg.RestrictFunctions) > 0 {
		if !config.MatchesAny(cfg.RestrictFunctions, name) {
			return
		}
		forceCollect = true
	}

	if !forceCollect {
		forceCollect = config.MatchesAny(cfg.IncludeFunctions, name)
	}
	if !forceCollect {
		if excluded, isDefault := cfg.MatchesExcludeFunction(name); excluded {
			if kind == Call && !isDefault {
				st.ignoreDepth++
			}
			return
		}
	}

	if !cfg.IncludeInternal && cfg.InstallPrefix != "" &&
		strings.HasPrefix(filename, cfg.InstallPrefix) {
		return
	}

	if !forceCollect {
		if len(cfg.RestrictFilenames) > 0 && !config.MatchesAny(cfg.RestrictFilenames, filename) {
			return
		}
		if config.MatchesAny(cfg.IncludeFilenames, filename) {
			forceCollect = true
		} else if cfg.MatchesExcludeFilename(filename) {
			return
		}
	}

	label := a.internLabel(st, cfg, frame)
	a.sink.PushRegion(label)
	st.popStack = append(st.popStack, func() { a.sink.PopRegion(label) })
}

// internLabel builds the region label for frame and returns a canonical
// instance from the thread's intern set, so repeated calls to the same
// call site reuse one string rather than reformatting and reallocating
// every time.
func (a *Adapter) internLabel(st *threadState, cfg *config.Config, frame *Frame) string {
	key := fmt.Sprintf("%s|%s|%d", frame.FuncName, frame.Filename, frame.Line)
	if label, ok := st.labels[key]; ok {
		return label
	}

	label := buildLabel(cfg, frame)
	st.labels[key] = label
	return label
}

func buildLabel(cfg *config.Config, frame *Frame) string {
	name := frame.FuncName
	if cfg.IncludeArgs && len(frame.Args) > 0 {
		name = fmt.Sprintf("%s(%s)", name, strings.Join(frame.Args, ", "))
	}

	if !cfg.IncludeFilename && !cfg.IncludeLine {
		return name
	}

	file := frame.Filename
	if !cfg.FullFilepath {
		file = filepath.Base(file)
	}

	switch {
	case cfg.IncludeFilename && cfg.IncludeLine:
		return fmt.Sprintf("%s[%s:%d]", name, file, frame.Line)
	case cfg.IncludeFilename:
		return fmt.Sprintf("%s[%s]", name, file)
	default:
		return fmt.Sprintf("%s[%d]", name, frame.Line)
	}
}

// IsGuardActive reports whether threadID's recursion guard is currently
// held. Exposed for tests asserting the guard is false on every normal
// exit.
func (a *Adapter) IsGuardActive(threadID int32) bool {
	return a.state.Get(threadID).guard.Active()
}

func logUnexpectedPhase(kind EventKind) {
	log.Debugf("pytrace: unexpected event kind %d", kind)
}
