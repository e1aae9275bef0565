package heap

import "time"

// HeapSource is the page-managed allocator beneath this coordinator. It
// exclusively owns object storage; GcHeap never inspects chunk memory
// directly. Reference implementation: internal/heapsource.
type HeapSource interface {
	// Alloc attempts the fast path: carve size bytes from already-mapped
	// pages. ok is false on exhaustion; it never grows the footprint.
	Alloc(size uintptr) (p Ptr, ok bool)
	// AllocAndGrow behaves like Alloc but may raise the footprint up to
	// the configured maximum size first.
	AllocAndGrow(size uintptr) (p Ptr, ok bool)
	// Contains reports whether p is a chunk the source currently owns.
	Contains(p Ptr) bool
	// ChunkSize returns the exact allocated size of p. p must be valid.
	ChunkSize(p Ptr) uintptr
	// BytesAllocated is the live-allocated byte count (for reporting).
	BytesAllocated() uint64
	// Footprint is the current mapped-page byte count (for reporting).
	Footprint() uint64
	// MarkBit reports and sets the mark bit for p in the current mark
	// bitmap (the heap source, not the engine, owns the bitmap pair, per
	// spec.md §6's "get_live_bits()/swap_bitmaps()" grouping).
	MarkBit(p Ptr) bool
	SetMarkBit(p Ptr)
	// SwapBitmaps publishes the mark bitmap as the new live bitmap and
	// clears the old live bitmap for reuse as the next cycle's mark
	// bitmap (§4.5 step 16).
	SwapBitmaps()
	// LiveBit reports the live bit for p in the bitmap published by the
	// last SwapBitmaps. Heap.IsValidObject does not use it; it asks
	// Contains.
	LiveBit(p Ptr) bool
	// GrowForUtilization adjusts the ideal footprint toward the
	// configured live-to-footprint ratio. It never unmaps pages.
	GrowForUtilization()
	// ScheduleTrim asks the source to release free pages to the OS after
	// delay, cancelling any previously scheduled trim.
	ScheduleTrim(delay time.Duration)
	// AfterFork re-initializes any OS-level state (e.g. mmap handles)
	// that does not survive a fork, in the child process only.
	AfterFork() error
	// Close releases the source and everything it owns.
	Close() error
}

// MarkSweepEngine traces the live object graph and sweeps the unmarked
// remainder. Reference implementation: internal/markengine.
type MarkSweepEngine interface {
	// BeginMarkStep prepares engine-internal state for a cycle. A
	// non-nil error is a structural failure: the heap is unrecoverable
	// and the caller must abort the process (§4.5 edge cases).
	BeginMarkStep(partial bool) error
	// MarkRoots greys the root set (registers, stacks, globals) known to
	// the engine. conservative is true on the post-concurrent re-mark
	// (§4.5 step 12), where no write barrier protected the roots.
	MarkRoots(partial, conservative bool)
	// ScanMarkedObjects traces the transitive closure from the current
	// gray set (§4.5 step 11).
	ScanMarkedObjects()
	// RescanDirty re-traces objects reachable through cards the table
	// reports dirty, after a concurrent mark phase (§4.5 step 12).
	RescanDirty(dirty func(yield func(Ptr) bool))
	// SweepSystemWeaks clears unmarked entries from intern-style tables
	// the engine tracks outside the managed heap (§4.5 step 15).
	SweepSystemWeaks()
	// Sweep reclaims unmarked chunks, returning the count and bytes
	// freed. It may run concurrently with allocation of distinct spans.
	Sweep() (objectsFreed uint64, bytesFreed uint64)
	// FinishMarkStep releases any engine-internal state held since
	// BeginMarkStep.
	FinishMarkStep()
	// VerifyRoots validates the root set and live bitmap; only called
	// when Config.PreVerify is set. A non-nil error is fatal.
	VerifyRoots() error
	// VerifyPostSweep validates engine state after the bitmap swap and
	// before the sweep (§4.5 step 17); only called when Config.PostVerify
	// is set. A non-nil error is fatal.
	VerifyPostSweep() error
}

// ReferenceProcessor classifies soft/weak/phantom references discovered
// during marking and decides which survive, given clearSoft. Every
// non-survivor is returned for enqueue notification; those whose class has
// a finalizer are also returned for finalization.
type ReferenceProcessor interface {
	Process(clearSoft bool) (toFinalize []Ptr, toEnqueue []Ptr)
}

// CardTable is the remembered-set bitmap used during concurrent marking.
// Reference implementation: internal/cardtable.
type CardTable interface {
	// Clear zeroes the whole table; called under the heap lock at the
	// start of a concurrent mark phase.
	Clear()
	// Dirty marks the card covering p; called by the write barrier.
	Dirty(p Ptr)
	// Each calls yield once per dirty card's representative pointer,
	// stopping early if yield returns false.
	Each(yield func(Ptr) bool)
	// VerifyClean validates the table is internally consistent; only
	// called when Config.VerifyCardTable is set. A non-nil error is
	// fatal.
	VerifyClean() error
}

// ThreadRegistry suspends/resumes mutators for stop-the-world phases and
// tracks the safepoint status used to keep the suspend protocol honest.
// Reference implementation: internal/threadreg.
type ThreadRegistry interface {
	// Attach registers the calling goroutine as a mutator and returns its
	// handle. Must be called before the goroutine allocates with
	// FlagDontTrack unset.
	Attach() ThreadID
	// Detach removes id from the thread list.
	Detach(id ThreadID)
	// SuspendAll blocks until every attached thread other than caller is
	// parked at a safepoint. caller lets the implementation exclude the
	// thread driving the collection itself, which cannot acknowledge its
	// own safepoint while it is the one waiting on everyone else's.
	SuspendAll(reason string, caller ThreadID)
	// ResumeAll releases threads parked by the most recent SuspendAll.
	ResumeAll()
	// ChangeStatus records id's new safepoint status and returns the
	// prior one. Must be called before any block on the heap lock or the
	// GC-done condition, and restored afterward.
	ChangeStatus(id ThreadID, status ThreadStatus) (prior ThreadStatus)
	// IsWedgedWorker reports whether the worker thread is stuck running
	// interpreted/user code and would deadlock a suspend-all.
	IsWedgedWorker() bool
	// BoostPriority temporarily raises the calling thread to the normal
	// scheduling class if it is currently worse than normal, returning a
	// restore function that must be called on every exit path. A non-nil
	// error means no change was made; callers log and continue.
	BoostPriority(id ThreadID) (restore func(), err error)
}

// DebugSink receives a Snapshot after each GC cycle when configured.
// Reference implementation: LoggingDebugSink, a zerolog-backed sink in
// debugsink.go.
type DebugSink interface {
	EmitHeapInfo(Snapshot)
}

// SafepointHook drains deferred safepoint work (e.g. JIT patch batches)
// during the known all-threads-quiescent window of a GC cycle (§4.5 step
// 14). It returns the number of items drained, purely for reporting.
type SafepointHook interface {
	DrainSafepoints() int
}
