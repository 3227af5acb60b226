// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clockskew

import "time"

// wallClockNow returns the current host wall-clock time in nanoseconds
// since the epoch, the same quantity the host-API callback stamps BEGIN/END
// events with.
func wallClockNow() int64 {
	return time.Now().UnixNano()
}
