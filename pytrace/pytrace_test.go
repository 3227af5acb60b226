// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pytrace

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnitrace/omnitrace/pytrace/config"
)

type recordingSink struct {
	events []string
}

func (s *recordingSink) PushRegion(label string) { s.events = append(s.events, "push:"+label) }
func (s *recordingSink) PopRegion(label string)  { s.events = append(s.events, "pop:"+label) }

func TestInterpreterBasicNesting(t *testing.T) {
	rs := &recordingSink{}
	a := New(rs, config.Defaults())
	const threadID = 1

	fFrame := &Frame{FuncName: "f", Filename: "file.py", Line: 1}
	gFrame := &Frame{FuncName: "g", Filename: "file.py", Line: 2}

	a.Trace(threadID, fFrame, Call)
	a.Trace(threadID, gFrame, Call)
	a.Trace(threadID, gFrame, Return)
	a.Trace(threadID, fFrame, Return)

	require.Equal(t, []string{
		"push:f[file.py:1]",
		"push:g[file.py:2]",
		"pop:g[file.py:2]",
		"pop:f[file.py:1]",
	}, rs.events)
}

func TestRecursionGuardShortCircuits(t *testing.T) {
	rs := &recordingSink{}
	a := New(rs, config.Defaults())
	const threadID = 1

	// Simulate the tracer's own label formatting invoking a user __repr__
	// that itself re-enters the trace hook while the guard is already held
	// for an in-flight Trace call on the same thread.
	st := a.state.Get(threadID)
	proceed, release := st.guard.Enter()
	require.True(t, proceed)

	reprFrame := &Frame{FuncName: "__repr__", Filename: "app.py", Line: 20}
	a.Trace(threadID, reprFrame, Call)
	assert.Empty(t, rs.events, "re-entrant call while guard is held must be dropped entirely")

	release()
	assert.False(t, a.IsGuardActive(threadID), "guard must be false on every normal exit")

	outer := &Frame{FuncName: "outer", Filename: "app.py", Line: 10}
	a.Trace(threadID, outer, Call)
	a.Trace(threadID, outer, Return)

	require.Equal(t, []string{
		"push:outer[app.py:10]",
		"pop:outer[app.py:10]",
	}, rs.events)
}

func TestExcludeAllFunctionsProducesNoEvents(t *testing.T) {
	rs := &recordingSink{}
	cfg := config.Defaults()
	cfg.ExcludeFunctions = []*regexp.Regexp{regexp.MustCompile("^.*$")}
	a := New(rs, cfg)
	const threadID = 1

	frame := &Frame{FuncName: "anything", Filename: "app.py", Line: 1}
	a.Trace(threadID, frame, Call)
	a.Trace(threadID, frame, Return)

	assert.Empty(t, rs.events)
}

func TestRestrictFunctionsOverridesExcludeFunctions(t *testing.T) {
	rs := &recordingSink{}
	cfg := config.Defaults()
	cfg.RestrictFunctions = []*regexp.Regexp{regexp.MustCompile("^foo$")}
	cfg.ExcludeFunctions = []*regexp.Regexp{regexp.MustCompile("^foo$")}
	a := New(rs, cfg)
	const threadID = 1

	frame := &Frame{FuncName: "foo", Filename: "app.py", Line: 1}
	a.Trace(threadID, frame, Call)
	a.Trace(threadID, frame, Return)

	require.Equal(t, []string{
		"push:foo[app.py:1]",
		"pop:foo[app.py:1]",
	}, rs.events, "a restrict match must force collection even when the same name is also excluded")
}

func TestRestrictFunctionsDropsNonMatches(t *testing.T) {
	rs := &recordingSink{}
	cfg := config.Defaults()
	cfg.RestrictFunctions = []*regexp.Regexp{regexp.MustCompile("^foo$")}
	a := New(rs, cfg)
	const threadID = 1

	frame := &Frame{FuncName: "bar", Filename: "app.py", Line: 1}
	a.Trace(threadID, frame, Call)
	a.Trace(threadID, frame, Return)

	assert.Empty(t, rs.events)
}

func TestRestrictFunctionsOverridesFilenameRestriction(t *testing.T) {
	rs := &recordingSink{}
	cfg := config.Defaults()
	cfg.RestrictFunctions = []*regexp.Regexp{regexp.MustCompile("^foo$")}
	cfg.RestrictFilenames = []*regexp.Regexp{regexp.MustCompile(`^other\.py$`)}
	a := New(rs, cfg)
	const threadID = 1

	frame := &Frame{FuncName: "foo", Filename: "app.py", Line: 1}
	a.Trace(threadID, frame, Call)
	a.Trace(threadID, frame, Return)

	require.Equal(t, []string{
		"push:foo[app.py:1]",
		"pop:foo[app.py:1]",
	}, rs.events, "a function-name restrict match must also bypass filename restriction")
}

func TestIgnoreStackDepthResumesAtZero(t *testing.T) {
	rs := &recordingSink{}
	cfg := config.Defaults()
	cfg.ExcludeFunctions = []*regexp.Regexp{regexp.MustCompile("^skip_me$")}
	a := New(rs, cfg)
	const threadID = 1

	skip := &Frame{FuncName: "skip_me", Filename: "app.py", Line: 1}
	nested := &Frame{FuncName: "nested", Filename: "app.py", Line: 2}
	after := &Frame{FuncName: "after", Filename: "app.py", Line: 3}

	a.Trace(threadID, skip, Call)   // ignoreDepth: 0 -> 1 (skip, adjust)
	a.Trace(threadID, nested, Call) // ignoreDepth: 1 -> 2 (already skipping)
	a.Trace(threadID, nested, Return)
	a.Trace(threadID, skip, Return) // ignoreDepth back to 0

	a.Trace(threadID, after, Call)
	a.Trace(threadID, after, Return)

	require.Equal(t, []string{
		"push:after[app.py:3]",
		"pop:after[app.py:3]",
	}, rs.events)
}

func TestDefaultExcludeDoesNotAdjustIgnoreDepth(t *testing.T) {
	rs := &recordingSink{}
	a := New(rs, config.Defaults())
	const threadID = 1

	synthetic := &Frame{FuncName: "<listcomp>", Filename: "app.py", Line: 1}
	after := &Frame{FuncName: "after", Filename: "app.py", Line: 2}

	a.Trace(threadID, synthetic, Call)
	a.Trace(threadID, after, Call)
	a.Trace(threadID, after, Return)
	a.Trace(threadID, synthetic, Return)

	require.Equal(t, []string{
		"push:after[app.py:2]",
		"pop:after[app.py:2]",
	}, rs.events)
}

func TestUnexpectedEventKindIsNoOp(t *testing.T) {
	rs := &recordingSink{}
	a := New(rs, config.Defaults())
	a.Trace(1, &Frame{FuncName: "x", Filename: "y.py", Line: 1}, Other)
	assert.Empty(t, rs.events)
}

func TestInitFinalizeLifecycle(t *testing.T) {
	a := New(&recordingSink{}, config.Defaults())
	assert.False(t, a.IsRunning())

	require.NoError(t, a.Init())
	assert.True(t, a.IsRunning())

	require.NoError(t, a.Finalize())
	assert.False(t, a.IsRunning())
}

func TestDoubleInitRaises(t *testing.T) {
	a := New(&recordingSink{}, config.Defaults())
	require.NoError(t, a.Init())
	assert.ErrorIs(t, a.Init(), ErrAlreadyRunning)
}

func TestFinalizeWithoutInitRaises(t *testing.T) {
	a := New(&recordingSink{}, config.Defaults())
	assert.ErrorIs(t, a.Finalize(), ErrNotRunning)
}

func TestReInitAfterFinalizeSucceeds(t *testing.T) {
	a := New(&recordingSink{}, config.Defaults())
	require.NoError(t, a.Init())
	require.NoError(t, a.Finalize())
	assert.NoError(t, a.Init(), "a finalized adapter must be able to start a new session")
}
