// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package clockskew computes the signed nanosecond offset between the host
// wall clock and the accelerator runtime's device clock, so that device
// activity records can be placed on the host timeline.
//
// The algorithm is the one used by the source's get_clock_skew: take a host
// timestamp, then a device timestamp, then a second host timestamp, and use
// the average of the two host samples as a stand-in for "the host time at
// which the device timestamp was taken". Repeated and averaged over N
// samples to smooth out scheduling noise. The same bracket-sampling shape
// appears in the teacher's times.getBootTimeUnixNano, which brackets a
// CLOCK_MONOTONIC read between two calls to time.Now().
package clockskew // import "github.com/omnitrace/omnitrace/clockskew"

import (
	"runtime"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/omnitrace/omnitrace/internal/envflag"
	"github.com/omnitrace/omnitrace/internal/xsync"
)

// EnvUseClockSkew disables skew correction when set to "false". Mirrors
// OMNITRACE_USE_ROCTRACER_CLOCK_SKEW from spec.md §6.
const EnvUseClockSkew = "OMNITRACE_USE_CLOCK_SKEW"

// samples is the number of bracket measurements averaged together, fixed at
// 10 per spec.md §4.1.
const samples = 10

// DeviceClock queries the accelerator runtime's own timestamp clock, in
// nanoseconds. It is supplied by the hsart binding; a failure here is
// recovered locally (skew degrades to 0) per spec.md §4.1's failure mode.
type DeviceClock func() (uint64, error)

// fence prevents the compiler and, on most architectures, the CPU from
// reordering the timestamp reads around it. Go's memory model does not
// require an explicit fence for a single goroutine's straight-line code, but
// an atomic op with no data dependency is the idiomatic way to mark "do not
// hoist or sink code across this point" the way the source's cpu::fence()
// does around each timestamp acquisition.
var fenceVar atomic.Uint64

func fence() {
	fenceVar.Add(1)
}

// Reconciler computes and caches the host/device clock skew exactly once.
type Reconciler struct {
	once xsync.Once[int64]
}

// Skew returns the cached signed nanosecond offset such that
// host_ns ≈ device_ns + offset, computing it on first call. If
// EnvUseClockSkew is false, or the device clock fails, the result is 0 and
// the failure (if any) is only logged: clock-skew failure must never be
// fatal to the caller, per spec.md §7's propagation policy.
func (r *Reconciler) Skew(deviceNow DeviceClock) int64 {
	v, _ := r.once.GetOrInit(func() (int64, error) {
		if !envflag.Bool(EnvUseClockSkew, true) {
			return 0, nil
		}
		skew, err := reconcile(samples, hostNow, deviceNow)
		if err != nil {
			log.Warnf("clockskew: device timestamp query failed, using skew=0: %v", err)
			return 0, nil
		}
		log.Debugf("clockskew: computed skew=%dns over %d samples", skew, samples)
		return skew, nil
	})
	return *v
}

func hostNow() int64 {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	fence()
	return wallClockNow()
}

// reconcile runs the N-iteration bracket-sampling loop described in
// spec.md §4.1 and returns the averaged offset.
func reconcile(n int, hostNowFn func() int64, deviceNow DeviceClock) (int64, error) {
	var total int64
	for i := 0; i < n; i++ {
		h1 := hostNowFn()
		fence()
		d, err := deviceNow()
		if err != nil {
			return 0, err
		}
		fence()
		h2 := hostNowFn()

		avgHost := (h1 + h2) / 2
		total += avgHost - int64(d)
	}
	return total / int64(n), nil
}
