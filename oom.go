package heap

import "fmt"

// OOMError is the managed out-of-memory exception (§4.6). It is a normal
// Go error value, not a panic, per DESIGN NOTES' "exceptions from the
// allocator are a normal value" guidance: the allocation ladder returns the
// exhausted outcome as data, and escalateOOM is the one place that turns it
// into the error surface user code observes.
type OOMError struct {
	RequestedSize uintptr
	// PreBuilt is true when the allocating thread was not yet attached
	// to the thread list and therefore has no tracked-allocation table
	// to safely allocate a fresh exception into (§4.6).
	PreBuilt bool
}

func (e *OOMError) Error() string {
	if e.PreBuilt {
		return "heap: out of memory (pre-built, thread not yet attached)"
	}
	return fmt.Sprintf("heap: out of memory allocating %d bytes", e.RequestedSize)
}

// ErrOutOfMemoryPreBuilt is the stack-traceless, pre-allocated OOM value
// used for threads not yet on the thread list (§4.6): throwing would
// itself allocate, which such a thread cannot safely do.
var ErrOutOfMemoryPreBuilt = &OOMError{PreBuilt: true}

// escalateOOM must be called without the heap lock: constructing a fresh
// OOMError may itself allocate bookkeeping (the "one fewer allocation"
// trade-off §4.6 describes for the attached path).
//
// attached reports whether thread is registered with the ThreadRegistry. A
// thread that is not attached has no tracked-allocation table, so it always
// takes the pre-built path regardless of any recursion state.
func (h *Heap) escalateOOM(thread ThreadID, size uintptr) error {
	if !h.isAttached(thread) {
		return ErrOutOfMemoryPreBuilt
	}

	h.mu.Lock()
	alreadyThrowing := h.throwingOOME[thread]
	if !alreadyThrowing {
		h.throwingOOME[thread] = true
	}
	h.mu.Unlock()

	if alreadyThrowing {
		// Guard against recursion during the throw itself (§4.6): a
		// second OOM while the first is still being constructed falls
		// back to the pre-built value rather than allocating again.
		return ErrOutOfMemoryPreBuilt
	}

	defer func() {
		h.mu.Lock()
		delete(h.throwingOOME, thread)
		h.mu.Unlock()
	}()

	return &OOMError{RequestedSize: size}
}

func (h *Heap) isAttached(thread ThreadID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.attached[thread]
	return ok
}
