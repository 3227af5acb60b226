// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndLookup(t *testing.T) {
	r := New()
	id := ID(1)
	chain := CausalChain{CID: 1}

	r.Insert(id, "hipLaunchKernel", 4242, chain)

	name, ok := r.LookupKeyName(id)
	require.True(t, ok)
	assert.Equal(t, "hipLaunchKernel", name)

	origin, ok := r.LookupOriginThread(id)
	require.True(t, ok)
	assert.Equal(t, int32(4242), origin)

	got, ok := r.LookupCausalChain(id)
	require.True(t, ok)
	assert.Equal(t, chain, got)
}

func TestLookupMiss(t *testing.T) {
	r := New()

	_, ok := r.LookupKeyName(ID(999))
	assert.False(t, ok)

	_, ok = r.LookupOriginThread(ID(999))
	assert.False(t, ok)

	_, ok = r.LookupCausalChain(ID(999))
	assert.False(t, ok)
}

func TestPushPopChainNesting(t *testing.T) {
	r := New()
	const threadID = 7

	outer := r.PushChain(threadID)
	assert.Equal(t, uint16(0), outer.Depth)
	assert.Equal(t, uint64(0), outer.ParentCID)

	inner := r.PushChain(threadID)
	assert.Equal(t, uint16(1), inner.Depth)
	assert.Equal(t, outer.CID, inner.ParentCID)

	r.PopChain(threadID)

	sibling := r.PushChain(threadID)
	assert.Equal(t, uint16(1), sibling.Depth)
	assert.Equal(t, outer.CID, sibling.ParentCID)

	r.PopChain(threadID)
	r.PopChain(threadID)
}

func TestPopChainOnEmptyStackIsNoOp(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() { r.PopChain(1) })
}

func TestConcurrentInsertAndLookup(t *testing.T) {
	r := New()
	const n = 200

	var wg sync.WaitGroup
	ids := make([]ID, n)
	for i := range ids {
		ids[i] = ID(i + 1)
	}

	wg.Add(n)
	for i, id := range ids {
		go func(i int, id ID) {
			defer wg.Done()
			r.Insert(id, "op", int32(i), CausalChain{CID: uint64(i)})
		}(i, id)
	}
	wg.Wait()

	for i, id := range ids {
		origin, ok := r.LookupOriginThread(id)
		require.True(t, ok)
		assert.Equal(t, int32(i), origin)
	}
}

func TestChainsAreIndependentPerThread(t *testing.T) {
	r := New()

	a := r.PushChain(1)
	b := r.PushChain(2)

	assert.Equal(t, uint16(0), a.Depth)
	assert.Equal(t, uint16(0), b.Depth)
	assert.NotEqual(t, a.CID, b.CID)
}
