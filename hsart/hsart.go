// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package hsart declares the narrow contract the tracing engine requires of
// the host accelerator runtime: callback registration, op-code resolution,
// kernel-name lookup, and the device timestamp clock. It is an external
// collaborator boundary, not an implementation — production code supplies a
// Table backed by the real HSA/ROCm dispatch tables; tests supply a fake.
package hsart // import "github.com/omnitrace/omnitrace/hsart"

// Domain identifies which callback family a call belongs to (the runtime's
// notion of "HSA domain" vs. "HIP domain", generalized).
type Domain uint32

// OpID identifies a specific API or activity operation within a Domain.
type OpID uint32

// Well-known device-activity op classes, used by the Activity Callback's
// generic-name fallback.
const (
	OpDispatch OpID = iota
	OpCopy
	OpBarrier
)

// Queue is an opaque device execution stream handle.
type Queue uintptr

// Phase distinguishes the enter and exit invocations of a host-API
// callback.
type Phase int

const (
	PhaseEnter Phase = iota
	PhaseExit
)

// APICallData is the per-call payload the runtime hands to an API
// callback, generalizing the union of per-API argument structs the real
// runtime passes.
type APICallData struct {
	Phase         Phase
	CorrelationID uint64
	Queue         Queue
	KernelPtr     uintptr
	Args          map[string]any
}

// Record is one fixed-layout device activity record, generalizing the
// runtime's packed activity buffer entry.
type Record struct {
	Domain        Domain
	Op            OpID
	CorrelationID uint64
	BeginNS       uint64
	EndNS         uint64
	DeviceID      uint32
	QueueID       uint32
	ProcessID     uint32
	// KernelPtr is the dispatched kernel's entry-point pointer, set for
	// OpDispatch records only. The Activity Callback's generic-name
	// fallback resolves and demangles it when the Correlation Registry has
	// no entry for the record's correlation id.
	KernelPtr uintptr
}

// APICallback is invoked synchronously on the calling application thread
// for each API call of interest.
type APICallback func(domain Domain, op OpID, data *APICallData)

// ActivityCallback is invoked on a runtime-owned worker thread for each
// completed device activity record.
type ActivityCallback func(op OpID, record *Record)

// LoadOptions carries the parameters the runtime passes to OnLoad.
type LoadOptions struct {
	RuntimeVersion   uint64
	FailedToolCount  uint64
	FailedToolNames  []string
}

// Table is the set of registration operations the tracing engine needs
// from the runtime. Op names ("hipLaunchKernel", "hsa_queue_create", ...)
// are resolved to OpIDs once at setup time and cached by the caller.
type Table interface {
	// EnableDomainCallback registers cb for every op in domain.
	EnableDomainCallback(domain Domain, cb APICallback) error
	// EnableOpCallback registers cb for a single op within domain.
	EnableOpCallback(domain Domain, op OpID, cb APICallback) error
	// DisableDomainCallback undoes EnableDomainCallback.
	DisableDomainCallback(domain Domain) error
	// DisableOpCallback undoes EnableOpCallback for a single op.
	DisableOpCallback(domain Domain, op OpID) error
	// EnableOpActivity installs cb as the activity callback target for op
	// and enables activity delivery for it.
	EnableOpActivity(domain Domain, op OpID, cb ActivityCallback) error
	// DisableOpActivity undoes EnableOpActivity.
	DisableOpActivity(domain Domain, op OpID) error
	// OpCode resolves a human-readable op name to an OpID.
	OpCode(domain Domain, name string) (OpID, bool)
	// OpName returns the runtime's generic name for op ("DISPATCH",
	// "COPY", "BARRIER", ...), used as the activity callback's fallback
	// when the Correlation Registry has no entry.
	OpName(domain Domain, op OpID) string
	// Timestamp returns the runtime's current device clock reading, in
	// nanoseconds.
	Timestamp() (uint64, error)
	// ResolveKernelName resolves a kernel entry-point pointer to its
	// (mangled) symbol name, or ok=false if the runtime has no name for
	// it.
	ResolveKernelName(ptr uintptr) (name string, ok bool)
}
