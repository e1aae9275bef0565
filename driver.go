package heap

import (
	"time"

	"github.com/gomanaged/heap/internal/reftab"
)

// CollectGarbage is the explicit-GC entry point (§6): it acquires the heap
// lock and runs one cycle with reason ReasonExplicit, driven by thread
// (normally the caller's own attached ThreadID, excluded from SuspendAll).
func (h *Heap) CollectGarbage(thread ThreadID, clearSoftRefs bool) {
	h.mu.Lock()
	h.collectGarbageLocked(thread, ReasonExplicit, clearSoftRefs)
	h.mu.Unlock()
}

// CollectGarbageConcurrent is the asynchronous entry point spec.md §4.3's
// control-flow summary calls out ("the GC driver may be invoked... by a
// concurrent trigger"): a caller — typically a dedicated background
// goroutine rather than a mutator — attaches its own thread and drives one
// ReasonConcurrent cycle, which suspends roots, releases the heap lock to
// trace alongside running mutators, then re-suspends for the dirty-card
// rescan (§4.5 steps 10/12/18; §8 scenario 5's "exactly two suspend-alls").
func (h *Heap) CollectGarbageConcurrent(thread ThreadID) {
	h.mu.Lock()
	h.collectGarbageLocked(thread, ReasonConcurrent, false)
	h.mu.Unlock()
}

// collectGarbageLocked runs one GC cycle (§4.5). The caller must hold the
// heap lock on entry; it is held on return except during the concurrent
// windows described by steps 10 and 18, which this function manages
// internally. thread is the ThreadID of the goroutine driving this cycle,
// excluded from both suspend-all calls below.
func (h *Heap) collectGarbageLocked(thread ThreadID, reason GCReason, clearSoftRefs bool) {
	if h.running {
		// Reentrancy is detected via running (§4.5, invariant 6): a
		// recursive call returns immediately with a warning.
		h.log.Warn().Str("reason", reason.String()).Msg("gc: recursive entry ignored")
		return
	}
	h.running = true

	partial := reason.partial()
	concurrent := reason.concurrent()

	// Step 2: worker exclusion.
	h.workerMu.Lock()
	defer h.workerMu.Unlock()

	// Step 3: suspend-all (roots).
	rootSuspendStart := time.Now()
	h.threads.SuspendAll("roots", thread)

	// Step 4: priority boost, restored on every exit including a fatal
	// abort's unwind (DESIGN NOTES, "priority management as scoped
	// resource").
	restorePriority := func() {}
	if !concurrent {
		if restore, err := h.threads.BoostPriority(thread); err != nil {
			h.log.Warn().Err(err).Msg("gc: priority boost failed, continuing at current priority")
		} else {
			restorePriority = restore
		}
	}
	defer restorePriority()

	// Step 5: worker liveness assert.
	if h.threads.IsWedgedWorker() {
		h.fatal("gc: worker thread wedged in interpreter code, cannot safely suspend")
	}

	// Step 6: acquire worker-list lock, freezing both FIFOs.
	h.queues.Lock()
	defer h.queues.Unlock()

	// Step 7: optional pre-verification.
	if h.cfg.PreVerify {
		if err := h.engine.VerifyRoots(); err != nil {
			h.fatal("gc: pre-verify failed: %v", err)
		}
	}

	// Step 8: begin mark step.
	if err := h.engine.BeginMarkStep(partial); err != nil {
		h.fatal("gc: begin_mark_step failed: %v", err)
	}

	// Step 9: mark roots; reset per-cycle discovered lists.
	h.engine.MarkRoots(partial, false)
	h.softRefs = nil
	h.weakRefs = nil
	h.phantomRefs = nil

	var rootPauseNS, dirtyPauseNS, concurrentNS int64

	if concurrent {
		// Step 10: concurrent-mark fork.
		rootPauseNS = time.Since(rootSuspendStart).Nanoseconds()
		h.cards.Clear()
		h.mu.Unlock()
		h.threads.ResumeAll()

		traceStart := time.Now()
		// Step 11: trace.
		h.engine.ScanMarkedObjects()
		concurrentNS = time.Since(traceStart).Nanoseconds()

		// Step 12: re-suspend for dirty card scan.
		h.mu.Lock()
		dirtySuspendStart := time.Now()
		h.threads.SuspendAll("dirty", thread)
		h.engine.MarkRoots(partial, true)
		if h.cfg.VerifyCardTable {
			if err := h.cards.VerifyClean(); err != nil {
				h.fatal("gc: card table verification failed: %v", err)
			}
		}
		h.engine.RescanDirty(h.cards.Each)
		dirtyPauseNS = time.Since(dirtySuspendStart).Nanoseconds()
	} else {
		// Step 11 (non-concurrent): trace without releasing the lock.
		h.engine.ScanMarkedObjects()
	}

	// Step 13: reference processing. First migrate finalizable_refs that
	// became unreachable this cycle (invariant 5): they move to
	// pending_finalization_refs and are kept alive (marked) for the
	// finalizer to run against.
	still := h.finalizableRefs[:0]
	for _, p := range h.finalizableRefs {
		if h.source.MarkBit(p) {
			still = append(still, p)
			continue
		}
		h.source.SetMarkBit(p)
		h.queues.DrainFinalizationLocked([]reftab.ID{reftab.ID(p)})
	}
	h.finalizableRefs = still

	toFinalize, toEnqueue := h.refproc.Process(clearSoftRefs)
	h.queues.DrainFinalizationLocked(idsOf(toFinalize))
	h.queues.DrainReferenceOpsLocked(idsOf(toEnqueue))

	// Step 14: JIT safepoint batch, if configured.
	var drainedSafepoints int
	if h.safept != nil {
		drainedSafepoints = h.safept.DrainSafepoints()
	}
	_ = drainedSafepoints

	// Step 15: sweep system weaks.
	h.engine.SweepSystemWeaks()

	// Step 16: swap bitmaps.
	h.source.SwapBitmaps()

	// Step 17: optional post-verification.
	if h.cfg.PostVerify {
		if err := h.engine.VerifyPostSweep(); err != nil {
			h.fatal("gc: post-verify failed: %v", err)
		}
	}

	var objectsFreed, bytesFreed uint64
	if concurrent {
		// Step 18: concurrent sweep.
		h.mu.Unlock()
		h.threads.ResumeAll()
		objectsFreed, bytesFreed = h.engine.Sweep()
	} else {
		// Step 19 (non-concurrent): sweep without releasing the lock.
		objectsFreed, bytesFreed = h.engine.Sweep()
	}

	// Step 20: finish mark step.
	h.engine.FinishMarkStep()

	if concurrent {
		// Step 21: reacquire lock.
		h.mu.Lock()
	}

	// Step 22: resize.
	h.source.GrowForUtilization()

	// Step 23: schedule trim.
	h.source.ScheduleTrim(5 * time.Second)

	// Step 24: release worker locks (deferred above); clear running and
	// broadcast so every waiter in waitForConcurrentGCToCompleteLocked
	// and every ladder step 3 observes completion.
	h.running = false
	h.gcDone.Broadcast()

	if !concurrent {
		// Step 25: final resume for non-concurrent cycles (concurrent
		// cycles already resumed mutators in steps 10 and 18). The single
		// pause spans everything from the roots suspend to this resume.
		h.threads.ResumeAll()
		rootPauseNS = time.Since(rootSuspendStart).Nanoseconds()
	}

	// Step 26: stable report line plus structured log.
	pauses := []int64{rootPauseNS}
	if concurrent {
		pauses = []int64{rootPauseNS, dirtyPauseNS}
	}
	snap := Snapshot{
		Reason:          reason,
		ObjectsFreed:    objectsFreed,
		BytesFreed:      bytesFreed,
		BytesAllocated:  h.source.BytesAllocated(),
		Footprint:       h.source.Footprint(),
		PauseDurationNS: pauses,
		ConcurrentNS:    concurrentNS,
	}
	h.report(snap)

	// Step 27: optional monitoring dump.
	if h.debug != nil {
		h.debug.EmitHeapInfo(snap)
	}
}

func idsOf(ps []Ptr) []reftab.ID {
	out := make([]reftab.ID, len(ps))
	for i, p := range ps {
		out[i] = reftab.ID(p)
	}
	return out
}

// waitForConcurrentGCToCompleteLocked implements §4.7: precondition, the
// heap lock is held. It atomically releases the lock while parked on the
// GC-done condition and reacquires it before returning, re-checking running
// on every wakeup to tolerate spurious wakeups. thread is the waiting
// goroutine's own ThreadID, whose status it records as waiting-for-VM for
// the duration of the wait.
func (h *Heap) waitForConcurrentGCToCompleteLocked(thread ThreadID) {
	for h.running {
		prior := h.threads.ChangeStatus(thread, StatusWaitingForVM)
		h.gcDone.Wait()
		h.threads.ChangeStatus(thread, prior)
	}
}

// WaitForConcurrentGCToComplete is the public form of §4.7, for callers
// outside the allocation ladder that need to synchronize with an in-flight
// cycle (§6). The caller must hold the heap lock.
func (h *Heap) WaitForConcurrentGCToComplete(thread ThreadID) {
	h.waitForConcurrentGCToCompleteLocked(thread)
}
