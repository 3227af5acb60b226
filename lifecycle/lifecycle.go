// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle implements the Lifecycle Controller: the OnLoad/
// OnUnload entry points the accelerator runtime uses to register and
// deregister the tracer's callbacks, and the idempotent setup/shutdown
// lists other subsystems attach to.
package lifecycle // import "github.com/omnitrace/omnitrace/lifecycle"

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/omnitrace/omnitrace/hsart"
	"github.com/omnitrace/omnitrace/internal/envflag"
	"github.com/omnitrace/omnitrace/internal/state"
)

// EnvInitTooling gates whether OnLoad does anything at all.
const EnvInitTooling = "OMNITRACE_INIT_TOOLING"

// hsaSetupName is the name setup/shutdown closures are registered under,
// matching the source's own literal "hsa" registration key.
const hsaSetupName = "hsa"

// LoadOptions mirrors the parameters the runtime hands to OnLoad.
type LoadOptions struct {
	RuntimeVersion  uint64
	FailedToolCount uint64
	FailedToolNames []string
}

// SamplingSuppressor lets a subsystem that propagates sampling state onto
// child threads observe the load window during which that propagation must
// be suppressed (§4.7 step 2). Either hook may be nil; the default
// Controller has neither set, since this module has no sampler of its own
// whose child-thread propagation needs suppressing.
type SamplingSuppressor struct {
	Suppress func()
	Restore  func()
}

// SetupFunc installs one subsystem's callbacks against rt. Errors are
// caught by the controller, logged, and never abort the load.
type SetupFunc func(rt hsart.Table) error

// ShutdownFunc tears down one subsystem's callbacks.
type ShutdownFunc func(rt hsart.Table)

// Controller owns the tracer's Uninitialized/Active/Finalized lifecycle
// and the named setup/shutdown closure lists.
type Controller struct {
	state state.Var

	initExternal     func() error
	finalizeExternal func()
	globalInit       *bool // shared flag: has the external initializer already run

	mu        sync.Mutex
	setups    map[string][]SetupFunc
	shutdowns map[string][]ShutdownFunc
	sampling  SamplingSuppressor
	// registered tracks which names have already had their setup
	// closures executed, so a retried OnLoad doesn't run them twice.
	registered map[string]bool

	rt hsart.Table
}

// New returns a Controller in the Uninitialized state.
func New(initExternal func() error, finalizeExternal func()) *Controller {
	return &Controller{
		initExternal:     initExternal,
		finalizeExternal: finalizeExternal,
		globalInit:       new(bool),
		setups:           make(map[string][]SetupFunc),
		shutdowns:        make(map[string][]ShutdownFunc),
		registered:       make(map[string]bool),
	}
}

// SetSamplingSuppressor registers the hooks OnLoad calls to suppress child-
// thread sampling propagation before setup and restore it afterward.
func (c *Controller) SetSamplingSuppressor(s SamplingSuppressor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sampling = s
}

// Register attaches a subsystem's setup/shutdown pair under name. Called
// before OnLoad by the packages that need runtime registration (hostapi's
// callback install, activity's callback install).
func (c *Controller) Register(name string, setup SetupFunc, shutdown ShutdownFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setups[name] = append(c.setups[name], setup)
	c.shutdowns[name] = append(c.shutdowns[name], shutdown)
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() state.State {
	return c.state.Get()
}

// OnLoad implements §4.7. It always returns true: when EnvInitTooling
// instructs the tracer to stand down it returns without registering
// anything, and a setup closure failure is logged rather than failing the
// load (tracing degrades instead).
func (c *Controller) OnLoad(rt hsart.Table, skew func(), opts LoadOptions) bool {
	if !envflag.Bool(EnvInitTooling, true) {
		log.Debugf("lifecycle: %s=false, standing down", EnvInitTooling)
		return true
	}

	c.rt = rt

	c.suppressChildSampling()
	defer c.restoreChildSampling()

	if !*c.globalInit {
		if err := c.initExternal(); err != nil {
			log.Errorf("lifecycle: external initializer failed: %v", err)
		}
		*c.globalInit = true
	}

	// Compute and cache the clock skew before any activity records can
	// arrive.
	if skew != nil {
		skew()
	}

	c.state.Set(state.Active)

	c.runSetups(hsaSetupName, rt)

	return true
}

// suppressChildSampling and restoreChildSampling bracket the load window
// (§4.7 step 2) with whatever hooks SetSamplingSuppressor registered.
func (c *Controller) suppressChildSampling() {
	c.mu.Lock()
	suppress := c.sampling.Suppress
	c.mu.Unlock()
	if suppress != nil {
		suppress()
	}
}

func (c *Controller) restoreChildSampling() {
	c.mu.Lock()
	restore := c.sampling.Restore
	c.mu.Unlock()
	if restore != nil {
		restore()
	}
}

// runSetups executes every setup closure registered under name that
// hasn't already run for this load, making re-registration idempotent
// with respect to a runtime that retries OnLoad.
func (c *Controller) runSetups(name string, rt hsart.Table) {
	c.mu.Lock()
	if c.registered[name] {
		c.mu.Unlock()
		return
	}
	c.registered[name] = true
	setups := append([]SetupFunc(nil), c.setups[name]...)
	c.mu.Unlock()

	for _, setup := range setups {
		c.runSetupSafely(setup, rt)
	}
}

// runSetupSafely catches both errors and panics from a setup closure:
// runtime registration failures must never abort the load.
func (c *Controller) runSetupSafely(setup SetupFunc, rt hsart.Table) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("lifecycle: setup closure panicked: %v", r)
		}
	}()
	if err := setup(rt); err != nil {
		log.Errorf("lifecycle: setup closure failed: %v", err)
	}
}

// OnUnload implements §4.7: moves to Finalized, runs every registered
// shutdown closure, and invokes the external finalizer. Safe to call more
// than once; subsequent calls are a no-op. Shutdown closures run only if
// OnLoad handed the controller a runtime table to tear down against.
func (c *Controller) OnUnload() {
	if c.state.Get() == state.Finalized {
		return
	}
	c.state.Set(state.Finalized)

	c.mu.Lock()
	shutdowns := append([]ShutdownFunc(nil), c.shutdowns[hsaSetupName]...)
	c.mu.Unlock()

	if c.rt != nil {
		for _, shutdown := range shutdowns {
			shutdown(c.rt)
		}
	}

	if c.finalizeExternal != nil {
		c.finalizeExternal()
	}
}
