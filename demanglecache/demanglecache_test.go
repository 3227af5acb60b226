// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package demanglecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameResolvesAndCaches(t *testing.T) {
	c := New()
	calls := 0
	resolve := func(ptr uintptr) (string, bool) {
		calls++
		return "_Z3fooi", true
	}

	name, ok := c.Name(0x1000, resolve)
	require.True(t, ok)
	assert.Equal(t, "foo(int)", name)
	assert.Equal(t, 1, calls)

	name2, ok := c.Name(0x1000, resolve)
	require.True(t, ok)
	assert.Equal(t, name, name2)
	assert.Equal(t, 1, calls, "second lookup for the same pointer must not call resolve again")

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestNameMissingSymbolReturnsNotOK(t *testing.T) {
	c := New()
	_, ok := c.Name(0x2000, func(uintptr) (string, bool) { return "", false })
	assert.False(t, ok)
}

func TestNameLeavesNonMangledNamesUnchanged(t *testing.T) {
	c := New()
	name, ok := c.Name(0x3000, func(uintptr) (string, bool) { return "plainKernelName", true })
	require.True(t, ok)
	assert.Equal(t, "plainKernelName", name)
}
