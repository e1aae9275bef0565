// Package threadreg is a reference heap.ThreadRegistry: it tracks mutator
// goroutines, their safepoint status, and implements suspend-all/resume-all
// with a condition variable that SuspendAll waits on until every other
// registered thread reports a non-Runnable status.
//
// Grounded on the Go runtime's stop-the-world protocol (runtime/mgc.go's
// "wait for all P's to acknowledge phase change" description): a real OS
// thread cannot be suspended from the outside safely, so, like the
// runtime's own cooperative safepoints, threads here suspend themselves by
// calling ChangeStatus at points they choose, and SuspendAll blocks until
// every attached thread has done so.
package threadreg

import (
	"sync"

	"github.com/gomanaged/heap"
)

type threadState struct {
	status heap.ThreadStatus
}

// Registry is a reference heap.ThreadRegistry implementation.
type Registry struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	threads map[heap.ThreadID]*threadState

	workerID     heap.ThreadID
	workerWedged bool
}

func New() *Registry {
	r := &Registry{threads: make(map[heap.ThreadID]*threadState)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *Registry) Attach() heap.ThreadID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := heap.ThreadID(r.next)
	r.threads[id] = &threadState{status: heap.StatusRunnable}
	return id
}

func (r *Registry) Detach(id heap.ThreadID) {
	r.mu.Lock()
	delete(r.threads, id)
	r.mu.Unlock()
	r.cond.Broadcast()
}

// SetWorker designates id as the worker thread, whose liveness SuspendAll's
// caller checks via IsWedgedWorker before suspending.
func (r *Registry) SetWorker(id heap.ThreadID) {
	r.mu.Lock()
	r.workerID = id
	r.mu.Unlock()
}

// MarkWorkerWedged simulates the worker being stuck in interpreted code; it
// exists for tests exercising the "wedged worker" fatal-abort path.
func (r *Registry) MarkWorkerWedged(wedged bool) {
	r.mu.Lock()
	r.workerWedged = wedged
	r.mu.Unlock()
}

func (r *Registry) IsWedgedWorker() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workerWedged
}

// ChangeStatus records id's new status and returns the prior one.
func (r *Registry) ChangeStatus(id heap.ThreadID, status heap.ThreadStatus) heap.ThreadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return heap.StatusRunnable
	}
	prior := t.status
	t.status = status
	if status != heap.StatusRunnable {
		r.cond.Broadcast()
	}
	return prior
}

// SuspendAll blocks until every attached thread other than caller reports a
// non-Runnable status (Suspended or WaitingForVM, both equally safe for the
// collector to observe). caller is excluded because it is, in the common
// case, the driver's own thread: the GC normally runs on whichever mutator
// goroutine called into C3/C4, and that goroutine cannot itself acknowledge
// a safepoint it is busy driving.
func (r *Registry) SuspendAll(reason string, caller heap.ThreadID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		allParked := true
		for id, t := range r.threads {
			if id == caller {
				continue
			}
			if t.status == heap.StatusRunnable {
				allParked = false
				break
			}
		}
		if allParked {
			return
		}
		r.cond.Wait()
	}
}

// ResumeAll flips every parked thread back to Runnable and wakes anything
// blocked on the status change (a later SuspendAll's r.cond.Wait, most
// notably).
func (r *Registry) ResumeAll() {
	r.mu.Lock()
	for _, t := range r.threads {
		t.status = heap.StatusRunnable
	}
	r.mu.Unlock()
	r.cond.Broadcast()
}

// BoostPriority is a reference no-op: this package does not call into OS
// scheduling APIs. It always succeeds with a no-op restore, so the
// "priority adjustment failure, logged and ignored" path (§7) is never taken
// with this registry.
func (r *Registry) BoostPriority(id heap.ThreadID) (func(), error) {
	return func() {}, nil
}
