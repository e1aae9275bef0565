package heap

import (
	"context"
	"time"

	"github.com/gomanaged/heap/internal/reftab"
)

// NextWorkerObject implements §4.2: it tries the reference-enqueue FIFO
// first, then pending finalization, taking a tracked-allocation claim on
// whatever it returns. The claim is recorded in the tracked set, which the
// collector does not consult, so it does not by itself keep the object
// from being swept. Callers must release the claim (ReleaseWorkerClaim)
// once the enqueue/finalize action has run.
func (h *Heap) NextWorkerObject() (Ptr, WorkerOp) {
	id, op := h.queues.Next(h.tracked.Add)
	return Ptr(id), translateOp(op)
}

// ReleaseWorkerClaim drops the tracked-allocation claim NextWorkerObject
// took on p.
func (h *Heap) ReleaseWorkerClaim(p Ptr) {
	h.tracked.Remove(reftab.ID(p))
}

func translateOp(op reftab.Op) WorkerOp {
	switch op {
	case reftab.OpEnqueue:
		return WorkerOpEnqueue
	case reftab.OpFinalize:
		return WorkerOpFinalize
	default:
		return WorkerOpNone
	}
}

// WorkerAction is the callback StartWorker invokes for each dequeued
// object, while the worker lock is held (§4.5 step 2 depends on in-flight
// actions being excludable from marking).
type WorkerAction func(p Ptr, op WorkerOp)

// StartWorker runs a goroutine that polls NextWorkerObject and dispatches
// to action until ctx is cancelled. It is the "dedicated worker" spec.md
// describes as living outside this core; this package provides a reference
// loop so the module is runnable end to end (cmd/gcheapdemo uses it).
func (h *Heap) StartWorker(ctx context.Context, action WorkerAction) {
	go func() {
		self := h.threads.Attach()
		defer h.threads.Detach(self)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			p, op := h.NextWorkerObject()
			if op == WorkerOpNone {
				// No work: park briefly at a safepoint-equivalent status
				// rather than busy-spinning.
				prior := h.threads.ChangeStatus(self, StatusWaitingForVM)
				select {
				case <-ctx.Done():
					h.threads.ChangeStatus(self, prior)
					return
				case <-time.After(time.Millisecond):
				}
				h.threads.ChangeStatus(self, prior)
				continue
			}

			h.workerMu.Lock()
			if action != nil {
				action(p, op)
			}
			h.ReleaseWorkerClaim(p)
			h.workerMu.Unlock()
		}
	}()
}
