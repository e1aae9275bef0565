package threadreg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomanaged/heap"
)

func TestAttachDetachTracksMembership(t *testing.T) {
	r := New()
	id := r.Attach()
	require.NotZero(t, id)

	r.Detach(id)
	// Detach of an already-detached id must not block or panic.
	assert.NotPanics(t, func() { r.Detach(id) })
}

func TestSuspendAllBlocksUntilEveryThreadParks(t *testing.T) {
	r := New()
	a := r.Attach()
	b := r.Attach()

	done := make(chan struct{})
	go func() {
		r.SuspendAll("test", heap.ThreadID(0))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("SuspendAll returned before any thread parked")
	case <-time.After(20 * time.Millisecond):
	}

	r.ChangeStatus(a, heap.StatusSuspended)
	select {
	case <-done:
		t.Fatal("SuspendAll returned before both threads parked")
	case <-time.After(20 * time.Millisecond):
	}

	r.ChangeStatus(b, heap.StatusWaitingForVM)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SuspendAll never observed both threads parked")
	}
}

func TestSuspendAllExcludesCaller(t *testing.T) {
	r := New()
	a := r.Attach()

	done := make(chan struct{})
	go func() {
		r.SuspendAll("test", a)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SuspendAll must not wait on the caller's own thread")
	}
}

func TestSuspendAllReturnsImmediatelyWithNoThreads(t *testing.T) {
	r := New()
	done := make(chan struct{})
	go func() {
		r.SuspendAll("test", heap.ThreadID(0))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SuspendAll blocked with zero attached threads")
	}
}

func TestResumeAllFlipsParkedThreadsBackToRunnable(t *testing.T) {
	r := New()
	a := r.Attach()
	b := r.Attach()
	r.ChangeStatus(a, heap.StatusSuspended)
	r.ChangeStatus(b, heap.StatusWaitingForVM)

	r.ResumeAll()

	done := make(chan struct{})
	go func() {
		r.SuspendAll("test", heap.ThreadID(0))
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("SuspendAll must block again: ResumeAll should have put a and b back to Runnable")
	case <-time.After(20 * time.Millisecond):
	}

	r.ChangeStatus(a, heap.StatusSuspended)
	r.ChangeStatus(b, heap.StatusSuspended)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SuspendAll never observed both threads parked again")
	}
}

func TestIsWedgedWorkerReflectsMarker(t *testing.T) {
	r := New()
	assert.False(t, r.IsWedgedWorker())
	r.MarkWorkerWedged(true)
	assert.True(t, r.IsWedgedWorker())
}

func TestChangeStatusReturnsPriorStatus(t *testing.T) {
	r := New()
	id := r.Attach()
	prior := r.ChangeStatus(id, heap.StatusSuspended)
	assert.Equal(t, heap.StatusRunnable, prior)

	prior = r.ChangeStatus(id, heap.StatusRunnable)
	assert.Equal(t, heap.StatusSuspended, prior)
}

func TestBoostPriorityAlwaysSucceeds(t *testing.T) {
	r := New()
	restore, err := r.BoostPriority(heap.ThreadID(1))
	require.NoError(t, err)
	assert.NotPanics(t, restore)
}
