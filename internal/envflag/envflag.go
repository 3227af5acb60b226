// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package envflag reads the small set of environment variables that gate
// tracing engine behavior, following the same getEnv/getBoolEnv idiom the
// teacher repo uses throughout env/env.go and config/config.go.
package envflag // import "github.com/omnitrace/omnitrace/internal/envflag"

import (
	"os"
	"strconv"
)

// Bool returns the boolean value of the named environment variable, or def
// if it is unset or unparsable.
func Bool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// String returns the named environment variable, or def if it is unset.
func String(name, def string) string {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	return v
}

// Set assigns the named environment variable. Used by initialize() to
// publish OMNITRACE_COMMAND_LINE for the sinks to read, per spec.md §6.
func Set(name, value string) error {
	return os.Setenv(name, value)
}
