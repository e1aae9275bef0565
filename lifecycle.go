package heap

import "fmt"

// Attach registers the calling goroutine as a mutator (§4.8's implicit
// thread-list membership): it must be called before allocating with
// FlagDontTrack unset, and before the OOM escalator will treat the caller
// as "on the thread list" (§4.6).
func (h *Heap) Attach() ThreadID {
	id := h.threads.Attach()
	h.mu.Lock()
	h.attached[id] = struct{}{}
	h.mu.Unlock()
	return id
}

// Detach removes thread from the thread list.
func (h *Heap) Detach(thread ThreadID) {
	h.threads.Detach(thread)
	h.mu.Lock()
	delete(h.attached, thread)
	delete(h.throwingOOME, thread)
	h.mu.Unlock()
}

// AfterFork is the post-fork initialization hook (§4.8): a single follow-up
// call into the heap source once a child process has forked from a zygote
// template. Go does not expose raw fork() to user code, so this is a thin
// passthrough kept for API parity with the source system; a caller that
// forks via a supervisor process and re-execs does not need it at all.
func (h *Heap) AfterFork() error {
	return h.source.AfterFork()
}

// Shutdown tears down the heap by closing the heap source, which drops every
// chunk and both bitmaps (§4.8). It refuses to run while a GC cycle is
// running. It does not clear finalizableRefs or the two worker queues, and
// it leaves the card table as it is (CardTable has no close operation).
func (h *Heap) Shutdown() error {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if running {
		return fmt.Errorf("heap: shutdown called while a GC cycle is running")
	}

	h.queues.Lock()
	h.queues.DrainFinalizationLocked(nil) // appends nothing; queued entries stay
	h.queues.Unlock()

	return h.source.Close()
}
