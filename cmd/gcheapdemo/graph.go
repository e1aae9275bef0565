package main

import (
	"sync"

	"github.com/gomanaged/heap"
)

// demoGraph is a minimal markengine.GraphSource / refproc.ReferenceGraph:
// objects form no edges to each other (a flat object set), and "liveness"
// is just membership in an explicit root set the demo's mutators populate.
// It exists so cmd/gcheapdemo can drive heap.Heap without a real object
// graph to trace.
type demoGraph struct {
	mu    sync.Mutex
	roots map[heap.Ptr]struct{}
}

func newDemoGraph() *demoGraph {
	return &demoGraph{roots: make(map[heap.Ptr]struct{})}
}

func (g *demoGraph) root(p heap.Ptr) {
	g.mu.Lock()
	g.roots[p] = struct{}{}
	g.mu.Unlock()
}

func (g *demoGraph) forget(p heap.Ptr) {
	g.mu.Lock()
	delete(g.roots, p)
	g.mu.Unlock()
}

func (g *demoGraph) Roots(partial bool) []heap.Ptr {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]heap.Ptr, 0, len(g.roots))
	for p := range g.roots {
		out = append(out, p)
	}
	return out
}

func (g *demoGraph) Edges(p heap.Ptr) []heap.Ptr { return nil }

func (g *demoGraph) SoftRefs() []heap.Ptr    { return nil }
func (g *demoGraph) WeakRefs() []heap.Ptr    { return nil }
func (g *demoGraph) PhantomRefs() []heap.Ptr { return nil }

func (g *demoGraph) HasFinalizer(p heap.Ptr) bool { return false }
