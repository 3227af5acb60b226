// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package scopeguard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnitrace/omnitrace/internal/scopeguard"
)

func TestGuardBlocksReentry(t *testing.T) {
	var g scopeguard.Guard

	proceed, release := g.Enter()
	require.True(t, proceed)
	assert.True(t, g.Active())

	// A nested call while the guard is held must be refused.
	nestedProceed, nestedRelease := g.Enter()
	assert.False(t, nestedProceed)
	assert.Nil(t, nestedRelease)

	release()
	assert.False(t, g.Active())
}

func TestGuardReleasesOnPanic(t *testing.T) {
	var g scopeguard.Guard

	func() {
		defer func() {
			_ = recover()
		}()

		proceed, release := g.Enter()
		require.True(t, proceed)
		defer release()

		panic("boom")
	}()

	assert.False(t, g.Active(), "guard must be released even when the guarded call panics")
}

func TestGuardReenterableAfterRelease(t *testing.T) {
	var g scopeguard.Guard

	for i := 0; i < 3; i++ {
		proceed, release := g.Enter()
		require.True(t, proceed)
		release()
	}
	assert.False(t, g.Active())
}
