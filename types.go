package heap

import "fmt"

// Ptr is an opaque handle to a managed object chunk. It is not a real
// pointer: it is whatever identifier the HeapSource uses internally
// (an offset, an index, a tagged address) and is only ever compared,
// never dereferenced, by this package.
type Ptr uintptr

// Nil is the zero Ptr; no valid allocation ever returns it.
const Nil Ptr = 0

// AllocFlags is the per-allocation flag bitset from spec.md §3.
type AllocFlags uint32

const (
	// FlagFinalizable marks an object whose class overrides finalization.
	FlagFinalizable AllocFlags = 1 << iota
	// FlagDontTrack skips the tracked-allocation set, for objects that are
	// immediately reachable from the root set or whose allocating thread
	// is not yet on the thread list.
	FlagDontTrack
)

func (f AllocFlags) has(bit AllocFlags) bool { return f&bit != 0 }

// GCReason selects the driver's mode, concurrency, and report format.
type GCReason int

const (
	// ReasonForMalloc is a foreground collection triggered by an
	// allocation failure; it runs in partial mode.
	ReasonForMalloc GCReason = iota
	// ReasonConcurrent is a background-triggered collection that marks
	// concurrently with mutators.
	ReasonConcurrent
	// ReasonExplicit is a caller-requested full collection.
	ReasonExplicit
)

func (r GCReason) String() string {
	switch r {
	case ReasonForMalloc:
		return "GC_FOR_MALLOC"
	case ReasonConcurrent:
		return "GC_CONCURRENT"
	case ReasonExplicit:
		return "GC_EXPLICIT"
	default:
		return fmt.Sprintf("GC_UNKNOWN(%d)", int(r))
	}
}

// partial reports whether reason scans only the small-object area (§4.5.1).
func (r GCReason) partial() bool { return r == ReasonForMalloc }

// concurrent reports whether reason forks a concurrent mark phase (§4.5.10).
func (r GCReason) concurrent() bool { return r == ReasonConcurrent }

// WorkerOp is the operation the worker must perform on the object returned
// by NextWorkerObject.
type WorkerOp int

const (
	// WorkerOpNone is returned when both worker queues are empty.
	WorkerOpNone WorkerOp = iota
	// WorkerOpEnqueue means the object has a pending reference-enqueue
	// operation to deliver to user code.
	WorkerOpEnqueue
	// WorkerOpFinalize means the object's finalizer must run.
	WorkerOpFinalize
)

// ThreadID identifies a mutator registered with a ThreadRegistry.
type ThreadID uint64

// ThreadStatus mirrors the runtime's safepoint status for one mutator.
type ThreadStatus int

const (
	StatusRunnable ThreadStatus = iota
	StatusWaitingForVM
	StatusSuspended
)

// Snapshot is the payload passed to a DebugSink after a GC cycle.
type Snapshot struct {
	Reason          GCReason
	ObjectsFreed    uint64
	BytesFreed      uint64
	BytesAllocated  uint64
	Footprint       uint64
	PauseDurationNS []int64 // one entry (non-concurrent) or two (root, dirty)
	ConcurrentNS    int64   // 0 for non-concurrent cycles
}
