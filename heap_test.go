package heap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomanaged/heap"
	"github.com/gomanaged/heap/internal/cardtable"
	"github.com/gomanaged/heap/internal/heapsource"
	"github.com/gomanaged/heap/internal/markengine"
	"github.com/gomanaged/heap/internal/refproc"
	"github.com/gomanaged/heap/internal/threadreg"
)

// objectGraph is the fake GraphSource/ReferenceGraph shared by these tests:
// a flat object set where "alive" means present in roots, with an optional
// per-pointer soft/weak/phantom/finalizer classification mutators can set
// up before driving a collection.
type objectGraph struct {
	roots       map[heap.Ptr]struct{}
	soft        map[heap.Ptr]struct{}
	weak        map[heap.Ptr]struct{}
	phantom     map[heap.Ptr]struct{}
	finalizable map[heap.Ptr]struct{}
}

func newObjectGraph() *objectGraph {
	return &objectGraph{
		roots:       map[heap.Ptr]struct{}{},
		soft:        map[heap.Ptr]struct{}{},
		weak:        map[heap.Ptr]struct{}{},
		phantom:     map[heap.Ptr]struct{}{},
		finalizable: map[heap.Ptr]struct{}{},
	}
}

func (g *objectGraph) root(p heap.Ptr)   { g.roots[p] = struct{}{} }
func (g *objectGraph) unroot(p heap.Ptr) { delete(g.roots, p) }

func (g *objectGraph) Roots(partial bool) []heap.Ptr {
	out := make([]heap.Ptr, 0, len(g.roots))
	for p := range g.roots {
		out = append(out, p)
	}
	return out
}
func (g *objectGraph) Edges(p heap.Ptr) []heap.Ptr { return nil }

func (g *objectGraph) keysOf(m map[heap.Ptr]struct{}) []heap.Ptr {
	out := make([]heap.Ptr, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	return out
}

func (g *objectGraph) SoftRefs() []heap.Ptr    { return g.keysOf(g.soft) }
func (g *objectGraph) WeakRefs() []heap.Ptr    { return g.keysOf(g.weak) }
func (g *objectGraph) PhantomRefs() []heap.Ptr { return g.keysOf(g.phantom) }

func (g *objectGraph) HasFinalizer(p heap.Ptr) bool {
	_, ok := g.finalizable[p]
	return ok
}

// testHeap bundles a Heap with its reference collaborators and the fake
// object graph feeding both the mark engine and the reference processor, so
// a test can both drive allocation/GC and control what survives.
type testHeap struct {
	h      *heap.Heap
	source *heapsource.Source
	graph  *objectGraph
	cards  *cardtable.Table
}

func newTestHeap(t *testing.T, startingSize, maximumSize, growthLimit uint64) *testHeap {
	t.Helper()
	source, err := heapsource.New(startingSize, maximumSize)
	require.NoError(t, err)
	graph := newObjectGraph()
	engine := markengine.New(source, graph)
	cards := cardtable.New(0, maximumSize)
	threads := threadreg.New()
	rp := refproc.New(source, graph)

	h, err := heap.New(heap.Config{
		StartingSize: startingSize,
		MaximumSize:  maximumSize,
		GrowthLimit:  growthLimit,
	}, heap.Collaborators{
		Source:       source,
		Engine:       engine,
		Cards:        cards,
		Threads:      threads,
		RefProcessor: rp,
	})
	require.NoError(t, err)
	return &testHeap{h: h, source: source, graph: graph, cards: cards}
}

func TestStartupAllocateShutdown(t *testing.T) {
	th := newTestHeap(t, 1<<20, 8<<20, 0)

	id := th.h.Attach()
	p, err := th.h.Alloc(id, 128, 0)
	require.NoError(t, err)
	assert.True(t, th.h.IsValidObject(p))

	th.h.Detach(id)
	require.NoError(t, th.h.Shutdown())
	assert.False(t, th.h.IsValidObject(p), "object must not be reachable after shutdown")
}

func TestForegroundGCForMallocReclaimsAndSucceeds(t *testing.T) {
	const growthLimit = 1 << 16
	th := newTestHeap(t, growthLimit, growthLimit, growthLimit)
	id := th.h.Attach()
	defer th.h.Detach(id)

	// Fill the heap with garbage the mutator never roots.
	for i := 0; i < 64; i++ {
		_, err := th.h.Alloc(id, 1024, 0)
		require.NoError(t, err)
	}

	// Nothing is rooted, so the foreground GC triggered by the next
	// allocation failure should reclaim everything and let it proceed.
	p, err := th.h.Alloc(id, 1024, 0)
	require.NoError(t, err, "alloc must succeed once garbage is reclaimed by GC_FOR_MALLOC")
	assert.True(t, th.h.IsValidObject(p))
}

func TestExplicitGCReclaimsUnrootedObjects(t *testing.T) {
	th := newTestHeap(t, 1<<20, 1<<20, 0)
	id := th.h.Attach()
	defer th.h.Detach(id)

	kept, err := th.h.Alloc(id, 64, 0)
	require.NoError(t, err)
	th.graph.root(kept)

	garbage, err := th.h.Alloc(id, 64, 0)
	require.NoError(t, err)

	th.h.CollectGarbage(id, false)

	assert.True(t, th.h.IsValidObject(kept))
	assert.False(t, th.h.IsValidObject(garbage))
}

func TestSoftReferenceClearedOnlyWhenRequested(t *testing.T) {
	th := newTestHeap(t, 1<<20, 1<<20, 0)
	id := th.h.Attach()
	defer th.h.Detach(id)

	ref, err := th.h.Alloc(id, 64, 0)
	require.NoError(t, err)
	th.graph.soft[ref] = struct{}{}
	// The soft reference's target is unrooted: only reachable through the
	// soft reference itself, so it is a candidate for clearing.

	th.h.CollectGarbage(id, false)
	assert.True(t, th.h.IsValidObject(ref), "soft referent survives when clearSoftRefs is false")

	th.h.CollectGarbage(id, true)
	assert.False(t, th.h.IsValidObject(ref), "soft referent is swept once clearSoftRefs clears it and a GC sweeps")
}

func TestAllocBeyondGrowthLimitFails(t *testing.T) {
	const growthLimit = 1 << 12
	th := newTestHeap(t, growthLimit, growthLimit, growthLimit)
	id := th.h.Attach()
	defer th.h.Detach(id)

	footprintBefore := th.source.Footprint()
	_, err := th.h.Alloc(id, growthLimit+1, 0)
	require.Error(t, err)
	var oom *heap.OOMError
	require.ErrorAs(t, err, &oom)
	assert.False(t, oom.PreBuilt)
	assert.Equal(t, uintptr(growthLimit+1), oom.RequestedSize)
	assert.Equal(t, footprintBefore, th.source.Footprint(), "an OOM must not grow the footprint")
}

func TestOOMFromUnattachedThreadUsesPreBuiltSentinel(t *testing.T) {
	const growthLimit = 1 << 12
	th := newTestHeap(t, growthLimit, growthLimit, growthLimit)

	_, err := th.h.Alloc(heap.ThreadID(999), growthLimit+1, 0)
	require.Error(t, err)
	assert.Same(t, heap.ErrOutOfMemoryPreBuilt, err)
}

func TestWorkerOrderingEnqueueBeforeFinalize(t *testing.T) {
	th := newTestHeap(t, 1<<20, 1<<20, 0)
	id := th.h.Attach()
	defer th.h.Detach(id)

	p, err := th.h.Alloc(id, 64, 0)
	require.NoError(t, err)
	th.graph.weak[p] = struct{}{}
	th.graph.finalizable[p] = struct{}{}
	// p is never rooted, so it is unreachable; refproc classifies it as
	// both a cleared weak reference and (since its class has a finalizer)
	// a pending finalization in the same Process call.

	th.h.CollectGarbage(id, false)

	gotP, op := th.h.NextWorkerObject()
	require.Equal(t, p, gotP)
	assert.Equal(t, heap.WorkerOpEnqueue, op, "reference enqueue must be observed before finalize for the same object")
	th.h.ReleaseWorkerClaim(gotP)

	gotP, op = th.h.NextWorkerObject()
	require.Equal(t, p, gotP)
	assert.Equal(t, heap.WorkerOpFinalize, op)
	th.h.ReleaseWorkerClaim(gotP)

	_, op = th.h.NextWorkerObject()
	assert.Equal(t, heap.WorkerOpNone, op)
}

func TestConsecutiveExplicitGCsSecondFreesNothing(t *testing.T) {
	th := newTestHeap(t, 1<<20, 1<<20, 0)
	id := th.h.Attach()
	defer th.h.Detach(id)

	p, err := th.h.Alloc(id, 64, 0)
	require.NoError(t, err)
	th.graph.root(p)

	th.h.CollectGarbage(id, false)
	before := th.source.BytesAllocated()
	th.h.CollectGarbage(id, false)
	after := th.source.BytesAllocated()

	assert.Equal(t, before, after, "a GC with no intervening allocation activity must not change live bytes again")
	assert.True(t, th.h.IsValidObject(p))
}

func TestAllocZeroSizeNeverReturnsSamePointerTwice(t *testing.T) {
	th := newTestHeap(t, 1<<20, 1<<20, 0)
	id := th.h.Attach()
	defer th.h.Detach(id)

	seen := map[heap.Ptr]bool{}
	for i := 0; i < 50; i++ {
		p, err := th.h.Alloc(id, 0, 0)
		require.NoError(t, err)
		assert.False(t, seen[p], "zero-size allocations must still be distinct chunks")
		seen[p] = true
		th.graph.root(p) // keep alive so a later GC in this loop can't recycle the address
	}
}

func TestObjectSizeMatchesAllocatedSize(t *testing.T) {
	th := newTestHeap(t, 1<<20, 1<<20, 0)
	id := th.h.Attach()
	defer th.h.Detach(id)

	p, err := th.h.Alloc(id, 48, 0)
	require.NoError(t, err)
	assert.Equal(t, uintptr(48), th.h.ObjectSize(p))
}

// countingThreads wraps threadreg.Registry to count SuspendAll calls, for
// the concurrent-vs-non-concurrent phase-count property: ReasonExplicit
// suspends once, a concurrent cycle suspends twice (root mark, dirty
// rescan).
type countingThreads struct {
	*threadreg.Registry
	suspends int
}

func (c *countingThreads) SuspendAll(reason string, caller heap.ThreadID) {
	c.suspends++
	c.Registry.SuspendAll(reason, caller)
}

func TestNonConcurrentCycleSuspendsExactlyOnce(t *testing.T) {
	source, err := heapsource.New(1<<16, 1<<16)
	require.NoError(t, err)
	graph := newObjectGraph()
	engine := markengine.New(source, graph)
	cards := cardtable.New(0, 1<<16)
	threads := &countingThreads{Registry: threadreg.New()}
	rp := refproc.New(source, graph)

	h, err := heap.New(heap.Config{StartingSize: 1 << 16, MaximumSize: 1 << 16}, heap.Collaborators{
		Source: source, Engine: engine, Cards: cards, Threads: threads, RefProcessor: rp,
	})
	require.NoError(t, err)

	id := h.Attach()
	defer h.Detach(id)

	h.CollectGarbage(id, false) // ReasonExplicit: not concurrent
	assert.Equal(t, 1, threads.suspends)
}

func TestConcurrentCycleSuspendsExactlyTwice(t *testing.T) {
	source, err := heapsource.New(1<<16, 1<<16)
	require.NoError(t, err)
	graph := newObjectGraph()
	engine := markengine.New(source, graph)
	cards := cardtable.New(0, 1<<16)
	threads := &countingThreads{Registry: threadreg.New()}
	rp := refproc.New(source, graph)

	h, err := heap.New(heap.Config{StartingSize: 1 << 16, MaximumSize: 1 << 16}, heap.Collaborators{
		Source: source, Engine: engine, Cards: cards, Threads: threads, RefProcessor: rp,
	})
	require.NoError(t, err)

	id := h.Attach()
	defer h.Detach(id)

	h.CollectGarbageConcurrent(id) // root suspend + dirty-card re-suspend
	assert.Equal(t, 2, threads.suspends)
}
