// Package reftab implements the two append-only worker queues and the
// tracked-allocation set described in spec.md §3 and §4.2: the large,
// append-only "reference/finalizer tables" component the spec calls out as
// an external collaborator, plus the tracking claim NextWorkerObject takes
// out on every object it hands to the worker.
//
// It is grounded on the Go runtime's finalizer queue
// (runtime/mfinal.go: finq/finc block lists behind finlock), generalized
// from a single process-wide queue pair to a value any number of Heaps can
// own.
package reftab

import "sync"

// ID is an opaque object identifier; callers convert to/from their own
// pointer type at the package boundary.
type ID uintptr

// Op is returned by Next alongside the object it dequeued.
type Op int

const (
	OpNone Op = iota
	OpEnqueue
	OpFinalize
)

// Queues holds the worker-list lock and the two FIFOs it protects:
// PendingFinalization (dequeued as OpFinalize) and ReferenceOps (dequeued
// as OpEnqueue). It is distinct from, and never acquired while holding in
// the opposite order of, any heap lock the owning Heap also holds.
type Queues struct {
	mu                   sync.Mutex
	pendingFinalization  []ID
	referenceOps         []ID
}

func NewQueues() *Queues { return &Queues{} }

// PushReferenceOp appends id to the reference-enqueue FIFO. It takes the
// worker-list lock itself; a caller already holding it uses
// DrainReferenceOpsLocked.
func (q *Queues) PushReferenceOp(id ID) {
	q.mu.Lock()
	q.referenceOps = append(q.referenceOps, id)
	q.mu.Unlock()
}

// PushFinalization appends id to the pending-finalization FIFO. It takes the
// worker-list lock itself; a caller already holding it uses
// DrainFinalizationLocked.
func (q *Queues) PushFinalization(id ID) {
	q.mu.Lock()
	q.pendingFinalization = append(q.pendingFinalization, id)
	q.mu.Unlock()
}

// Next implements next_worker_object (§4.2): reference enqueues strictly
// precede finalizations when both are pending, so a finalizer can never
// resurrect an object whose reference clear would otherwise race. claim, if
// non-nil, is called with the dequeued id while the worker-list lock is
// still held, before it is released — it is the tracked-allocation claim
// (step 4 of §4.2).
func (q *Queues) Next(claim func(ID)) (ID, Op) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.referenceOps) > 0 {
		id := q.referenceOps[0]
		q.referenceOps = q.referenceOps[1:]
		if claim != nil {
			claim(id)
		}
		return id, OpEnqueue
	}
	if len(q.pendingFinalization) > 0 {
		id := q.pendingFinalization[0]
		q.pendingFinalization = q.pendingFinalization[1:]
		if claim != nil {
			claim(id)
		}
		return id, OpFinalize
	}
	return 0, OpNone
}

// Lock acquires the worker-list lock so a caller (the GC driver, §4.5 step
// 6) can freeze both FIFOs across several subsequent operations.
func (q *Queues) Lock() { q.mu.Lock() }

// Unlock releases the worker-list lock.
func (q *Queues) Unlock() { q.mu.Unlock() }

// DrainFinalizationLocked moves every id in ids onto the pending-
// finalization FIFO. The caller must hold the worker-list lock (via Lock).
func (q *Queues) DrainFinalizationLocked(ids []ID) {
	q.pendingFinalization = append(q.pendingFinalization, ids...)
}

// DrainReferenceOpsLocked moves every id in ids onto the reference-op FIFO.
// The caller must hold the worker-list lock (via Lock).
func (q *Queues) DrainReferenceOpsLocked(ids []ID) {
	q.referenceOps = append(q.referenceOps, ids...)
}

// LenLocked returns the pending counts; the caller must hold the lock.
func (q *Queues) LenLocked() (finalization, referenceOps int) {
	return len(q.pendingFinalization), len(q.referenceOps)
}

// TrackedSet is the per-process tracked-allocation set: a freshly allocated
// object is added here (§4.4), and the worker queue adds a claim on each
// object it hands out. It only records claims: the mark engine does not
// read it, so an entry does not by itself keep an object from being swept.
// It is deliberately a flat set rather than back-pointers into the heap
// source, per DESIGN NOTES "Cyclic ownership".
type TrackedSet struct {
	mu  sync.Mutex
	ids map[ID]int // reference count: alloc() and the worker queue can both hold a claim
}

func NewTrackedSet() *TrackedSet {
	return &TrackedSet{ids: make(map[ID]int)}
}

func (t *TrackedSet) Add(id ID) {
	t.mu.Lock()
	t.ids[id]++
	t.mu.Unlock()
}

func (t *TrackedSet) Remove(id ID) {
	t.mu.Lock()
	if n := t.ids[id]; n <= 1 {
		delete(t.ids, id)
	} else {
		t.ids[id] = n - 1
	}
	t.mu.Unlock()
}

func (t *TrackedSet) Contains(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

func (t *TrackedSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}
