package heap

import "github.com/gomanaged/heap/internal/reftab"

// tryAlloc executes the five-step recovery ladder (§4.3). The heap lock is
// held for its entire duration except inside waitForConcurrentGCToComplete,
// which drops and reacquires it internally. thread is the allocating
// goroutine's own ThreadID, passed through to any GC cycle this ladder
// drives so SuspendAll excludes it.
func (h *Heap) tryAlloc(thread ThreadID, size uintptr) Ptr {
	// Step 1: early giant-size bypass.
	if uint64(size) >= h.cfg.growthLimit() {
		return h.softRefPass(thread, size)
	}

	// Step 2: fast path.
	if p, ok := h.source.Alloc(size); ok {
		return p
	}

	// Step 3: wait for a concurrent GC already in flight, then retry.
	if h.running {
		h.waitForConcurrentGCToCompleteLocked(thread)
		if p, ok := h.source.Alloc(size); ok {
			return p
		}
	}

	// Step 4: foreground GC, then retry; grow if still failing.
	h.collectGarbageLocked(thread, ReasonForMalloc, false)
	if p, ok := h.source.Alloc(size); ok {
		return p
	}
	if p, ok := h.source.AllocAndGrow(size); ok {
		return p
	}

	// Step 5: soft-reference reclamation is the last resort.
	return h.softRefPass(thread, size)
}

// softRefPass is step 5 of §4.3: the language contract requires every
// softly reachable object to be cleared before OOM, so this path always
// runs, even for the giant-size bypass from step 1.
func (h *Heap) softRefPass(thread ThreadID, size uintptr) Ptr {
	h.collectGarbageLocked(thread, ReasonExplicit, true)
	if p, ok := h.source.AllocAndGrow(size); ok {
		return p
	}
	return Nil
}

// Alloc is the public allocation entry point (§4.4): zero-filled (by
// convention of the underlying HeapSource), 8-byte aligned, or Nil with
// ErrOutOfMemoryPreBuilt or an *OOMError on exhaustion.
func (h *Heap) Alloc(thread ThreadID, size uintptr, flags AllocFlags) (Ptr, error) {
	// Try the heap lock first; if it is taken, block as waiting-for-VM so
	// the suspend protocol does not count this thread as runnable (§4.1).
	if !h.mu.TryLock() {
		prior := h.threads.ChangeStatus(thread, StatusWaitingForVM)
		h.mu.Lock()
		h.threads.ChangeStatus(thread, prior)
	}
	p := h.tryAlloc(thread, size)
	if p != Nil {
		if flags.has(FlagFinalizable) {
			if len(h.finalizableRefs) >= maxFinalizableRefs {
				h.mu.Unlock()
				// Finalizer-table overflow is a structural invariant
				// failure (§7): the process cannot proceed safely.
				h.fatal("finalizable_refs overflow at %d entries", len(h.finalizableRefs))
			}
			h.finalizableRefs = append(h.finalizableRefs, p)
		}
		h.allocCount++
	} else {
		h.allocFailCount++
	}
	h.mu.Unlock()

	// The tracking insertion happens after the heap lock is dropped: the
	// tracking table itself allocates and could otherwise deadlock (§4.4).
	if p != Nil && !flags.has(FlagDontTrack) {
		h.tracked.Add(reftab.ID(p))
	}

	if p == Nil {
		return Nil, h.escalateOOM(thread, size)
	}
	return p, nil
}

// maxFinalizableRefs bounds the finalizable-object table; it exists so the
// overflow path in §7 ("Finalizer-table overflow -> fatal abort") is
// reachable without requiring an unbounded test allocation run. A real
// deployment would size this from available memory, not a constant.
const maxFinalizableRefs = 1 << 24
