package heap

import "sync"

// BatchSafepointHook is a reference SafepointHook: callers queue deferred
// work with Defer, and the driver's quiescent window (§4.5 step 14) drains
// it via DrainSafepoints. This stands in for "JIT chaining cell patches"
// (§1's Non-goals note: "a batched safepoint hook" is in scope even though
// a JIT itself is not) with a generic deferred-closure queue.
type BatchSafepointHook struct {
	mu      sync.Mutex
	pending []func()
}

func NewBatchSafepointHook() *BatchSafepointHook {
	return &BatchSafepointHook{}
}

// Defer queues fn to run during the next all-threads-quiescent GC window.
func (b *BatchSafepointHook) Defer(fn func()) {
	b.mu.Lock()
	b.pending = append(b.pending, fn)
	b.mu.Unlock()
}

// DrainSafepoints runs and clears every queued function, returning how many
// ran.
func (b *BatchSafepointHook) DrainSafepoints() int {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}
