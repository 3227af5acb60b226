// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package omnitrace

import "errors"

// Sentinel errors for the contract violations spec.md §7 says must fail
// loudly to the interpreter-side caller: double initialize and double
// finalize (Finalize before Initialize also reports ErrAlreadyFinalized),
// plus a command line of the wrong type. No Session method currently
// returns ErrNotInitialized.
var (
	ErrAlreadyInitialized = errors.New("omnitrace: session already initialized")
	ErrAlreadyFinalized   = errors.New("omnitrace: session already finalized")
	ErrNotInitialized     = errors.New("omnitrace: session not initialized")
	ErrInvalidCommandLine = errors.New("omnitrace: initialize requires a string or []string")
)
