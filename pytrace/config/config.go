// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package config holds the Interpreter Trace Adapter's per-thread
// configuration record: the filter regex sets and behavior flags exposed
// to the embedded interpreter as profiler.config (spec.md §6). The first
// thread to touch a Registry builds the process-wide master from the
// Config passed to NewRegistry;
// every other thread gets its own copy on first access, snapshotted from
// the master, so a later per-field Set on one thread's config is never
// visible to another thread — the same "thread-local-initialized shared
// object, first touch copies a singleton" idiom the source uses, made
// explicit here per its own design note.
package config // import "github.com/omnitrace/omnitrace/pytrace/config"

import (
	"regexp"

	"github.com/omnitrace/omnitrace/internal/tid"
	"github.com/omnitrace/omnitrace/internal/xsync"
)

// Config is one thread's view of the interpreter trace filters and flags.
type Config struct {
	TraceC          bool
	IncludeArgs     bool
	IncludeLine     bool
	IncludeFilename bool
	FullFilepath    bool
	IncludeInternal bool
	Verbose         int

	// InstallPrefix is the tracer's own installation directory, used by
	// the internal-path filter to skip the tracer's own frames unless
	// IncludeInternal is set.
	InstallPrefix string

	RestrictFunctions []*regexp.Regexp
	IncludeFunctions  []*regexp.Regexp
	ExcludeFunctions  []*regexp.Regexp
	RestrictFilenames []*regexp.Regexp
	IncludeFilenames  []*regexp.Regexp
	ExcludeFilenames  []*regexp.Regexp
}

// Default patterns folded into every config's exclude sets, matching the
// source's default_exclude_functions/default_exclude_filenames. Matches
// against these do not perturb the ignore-stack-depth counter, since they
// exist to hide compiler-synthesized frames rather than user code the
// caller might expect to nest into.
var (
	defaultExcludeFunctions = mustCompileAll("^<.*>$")
	defaultExcludeFilenames = mustCompileAll(`(encoder|decoder|threading)\.py$`, "^<.*>$")
)

func mustCompileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

// Defaults returns the Config profiler.config presents before any setter
// is called: no filters, file and line annotations on by default (the
// source enables these out of the box so a first run is immediately
// useful), everything else off.
func Defaults() Config {
	return Config{
		IncludeFilename: true,
		IncludeLine:     true,
	}
}

// MatchesAny reports whether name matches any pattern in the set.
func MatchesAny(set []*regexp.Regexp, name string) bool {
	for _, re := range set {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// MatchesExcludeFunction reports whether name is excluded by function
// name, and whether that match came only from the built-in default set
// (as opposed to a pattern the caller configured explicitly).
func (c *Config) MatchesExcludeFunction(name string) (excluded, isDefault bool) {
	if MatchesAny(c.ExcludeFunctions, name) {
		return true, false
	}
	if MatchesAny(defaultExcludeFunctions, name) {
		return true, true
	}
	return false, false
}

// MatchesExcludeFilename reports whether filename is excluded, checking
// the caller's set before the built-in default set.
func (c *Config) MatchesExcludeFilename(name string) bool {
	return MatchesAny(c.ExcludeFilenames, name) || MatchesAny(defaultExcludeFilenames, name)
}

// Registry owns the process-wide master config and hands out per-thread
// snapshots.
type Registry struct {
	master     xsync.Once[Config]
	perThread  *tid.Table[Config]
	defaultCfg Config
}

// NewRegistry creates a Registry whose master, once first built, starts
// from defaults.
func NewRegistry(defaults Config) *Registry {
	r := &Registry{defaultCfg: defaults}
	r.perThread = tid.NewTable(func() *Config {
		m, _ := r.master.GetOrInit(func() (Config, error) { return r.defaultCfg, nil })
		snapshot := *m
		return cloneSlices(&snapshot)
	})
	return r
}

// For returns threadID's Config, snapshotting the master on first access.
func (r *Registry) For(threadID int32) *Config {
	return r.perThread.Get(threadID)
}

func cloneSlices(c *Config) *Config {
	c.RestrictFunctions = append([]*regexp.Regexp(nil), c.RestrictFunctions...)
	c.IncludeFunctions = append([]*regexp.Regexp(nil), c.IncludeFunctions...)
	c.ExcludeFunctions = append([]*regexp.Regexp(nil), c.ExcludeFunctions...)
	c.RestrictFilenames = append([]*regexp.Regexp(nil), c.RestrictFilenames...)
	c.IncludeFilenames = append([]*regexp.Regexp(nil), c.IncludeFilenames...)
	c.ExcludeFilenames = append([]*regexp.Regexp(nil), c.ExcludeFilenames...)
	return c
}
