// Package refproc is a reference heap.ReferenceProcessor: it classifies
// soft/weak/phantom reference objects discovered during marking and decides
// which survive, given clearSoft (§4.5 step 13).
//
// Soft, weak and phantom referents that were never reached by the mark
// trace (i.e. only reachable through the reference object itself, not
// through a strong root) are, by construction of internal/markengine's
// trace, unmarked by the time Process runs. Weak and phantom referents are
// always cleared and reported when unmarked. Soft referents are different:
// unless clearSoft is true, Process marks them back alive itself (soft
// references are only cleared under memory pressure, never by ordinary
// reachability) so they survive the sweep that follows; clearSoft forces
// them through the same clear-and-report path as weak/phantom, per the
// language contract spec.md §4.3 step 5 requires ("all softly reachable
// objects must be cleared before OOM").
package refproc

import (
	"github.com/gomanaged/heap"
	"github.com/gomanaged/heap/internal/heapsource"
)

// ReferenceGraph supplies the reference objects discovered this cycle. A
// real runtime derives these from class-shape scanning during marking;
// this reference implementation leaves that to the caller.
type ReferenceGraph interface {
	SoftRefs() []heap.Ptr
	WeakRefs() []heap.Ptr
	PhantomRefs() []heap.Ptr
	// HasFinalizer reports whether p's class overrides finalization.
	HasFinalizer(p heap.Ptr) bool
}

// Processor is a reference ReferenceProcessor.
type Processor struct {
	source *heapsource.Source
	graph  ReferenceGraph
}

func New(source *heapsource.Source, graph ReferenceGraph) *Processor {
	return &Processor{source: source, graph: graph}
}

func (p *Processor) Process(clearSoft bool) (toFinalize []heap.Ptr, toEnqueue []heap.Ptr) {
	classify := func(refs []heap.Ptr) {
		for _, r := range refs {
			if !p.source.Contains(r) || p.source.MarkBit(r) {
				continue // strongly reachable elsewhere; reference survives untouched
			}
			toEnqueue = append(toEnqueue, r)
			if p.graph.HasFinalizer(r) {
				toFinalize = append(toFinalize, r)
			}
		}
	}

	classify(p.graph.WeakRefs())
	classify(p.graph.PhantomRefs())

	if clearSoft {
		classify(p.graph.SoftRefs())
		return toFinalize, toEnqueue
	}
	// Not clearing this cycle: any soft referent the trace didn't already
	// reach some other way is kept alive here, rather than left to the
	// sweep that immediately follows.
	for _, r := range p.graph.SoftRefs() {
		if p.source.Contains(r) && !p.source.MarkBit(r) {
			p.source.SetMarkBit(r)
		}
	}
	return toFinalize, toEnqueue
}
