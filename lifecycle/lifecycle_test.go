// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnitrace/omnitrace/hsart"
	"github.com/omnitrace/omnitrace/internal/state"
)

type noopTable struct{}

func (noopTable) EnableDomainCallback(hsart.Domain, hsart.APICallback) error { return nil }
func (noopTable) EnableOpCallback(hsart.Domain, hsart.OpID, hsart.APICallback) error {
	return nil
}
func (noopTable) DisableDomainCallback(hsart.Domain) error         { return nil }
func (noopTable) DisableOpCallback(hsart.Domain, hsart.OpID) error { return nil }
func (noopTable) EnableOpActivity(hsart.Domain, hsart.OpID, hsart.ActivityCallback) error {
	return nil
}
func (noopTable) DisableOpActivity(hsart.Domain, hsart.OpID) error { return nil }
func (noopTable) OpCode(hsart.Domain, string) (hsart.OpID, bool)   { return 0, false }
func (noopTable) OpName(hsart.Domain, hsart.OpID) string           { return "" }
func (noopTable) Timestamp() (uint64, error)                       { return 0, nil }
func (noopTable) ResolveKernelName(uintptr) (string, bool)         { return "", false }

func TestOnLoadRunsSetupExactlyOnce(t *testing.T) {
	var initCalls, setupCalls int
	c := New(func() error { initCalls++; return nil }, func() {})
	c.Register(hsaSetupName, func(hsart.Table) error { setupCalls++; return nil }, func(hsart.Table) {})

	ok := c.OnLoad(noopTable{}, nil, LoadOptions{})
	require.True(t, ok)
	assert.Equal(t, 1, initCalls)
	assert.Equal(t, 1, setupCalls)
	assert.Equal(t, state.Active, c.State())

	// A runtime that retries OnLoad must not re-run setup or the external
	// initializer.
	ok = c.OnLoad(noopTable{}, nil, LoadOptions{})
	require.True(t, ok)
	assert.Equal(t, 1, initCalls)
	assert.Equal(t, 1, setupCalls)
}

func TestOnLoadNoOpWhenToolingDisabled(t *testing.T) {
	t.Setenv(EnvInitTooling, "false")

	var setupCalls int
	c := New(func() error { return nil }, func() {})
	c.Register(hsaSetupName, func(hsart.Table) error { setupCalls++; return nil }, func(hsart.Table) {})

	ok := c.OnLoad(noopTable{}, nil, LoadOptions{})
	assert.True(t, ok)
	assert.Equal(t, 0, setupCalls)
	assert.Equal(t, state.Uninitialized, c.State())
}

func TestOnUnloadIsIdempotent(t *testing.T) {
	var shutdownCalls, finalizeCalls int
	c := New(func() error { return nil }, func() { finalizeCalls++ })
	c.Register(hsaSetupName, func(hsart.Table) error { return nil }, func(hsart.Table) { shutdownCalls++ })

	c.OnLoad(noopTable{}, nil, LoadOptions{})

	c.OnUnload()
	assert.Equal(t, 1, shutdownCalls)
	assert.Equal(t, 1, finalizeCalls)
	assert.Equal(t, state.Finalized, c.State())

	// Loading, finalizing, then unloading again must be a no-op.
	c.OnUnload()
	assert.Equal(t, 1, shutdownCalls)
	assert.Equal(t, 1, finalizeCalls)
}

func TestSetupPanicIsRecoveredAndLoadContinues(t *testing.T) {
	c := New(func() error { return nil }, func() {})
	c.Register(hsaSetupName, func(hsart.Table) error { panic("registration exploded") }, func(hsart.Table) {})

	ok := c.OnLoad(noopTable{}, nil, LoadOptions{})
	assert.True(t, ok, "a setup closure panicking must not fail the load")
	assert.Equal(t, state.Active, c.State())
}

func TestSetupErrorIsLoggedAndLoadContinues(t *testing.T) {
	c := New(func() error { return nil }, func() {})
	c.Register(hsaSetupName, func(hsart.Table) error { return assert.AnError }, func(hsart.Table) {})

	ok := c.OnLoad(noopTable{}, nil, LoadOptions{})
	assert.True(t, ok)
	assert.Equal(t, state.Active, c.State())
}

func TestClockSkewComputedDuringLoad(t *testing.T) {
	var skewCalls int
	c := New(func() error { return nil }, func() {})
	c.OnLoad(noopTable{}, func() { skewCalls++ }, LoadOptions{})
	assert.Equal(t, 1, skewCalls)
}
