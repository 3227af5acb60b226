// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareAndSwapSucceedsOnMatch(t *testing.T) {
	var v Var
	assert.True(t, v.CompareAndSwap(Uninitialized, Active))
	assert.Equal(t, Active, v.Get())
}

func TestCompareAndSwapFailsOnMismatch(t *testing.T) {
	var v Var
	v.Set(Active)
	assert.False(t, v.CompareAndSwap(Uninitialized, Active))
	assert.Equal(t, Active, v.Get())
}

func TestIsActiveReflectsState(t *testing.T) {
	var v Var
	assert.False(t, v.IsActive())
	v.Set(Active)
	assert.True(t, v.IsActive())
	v.Set(Finalized)
	assert.False(t, v.IsActive())
}
