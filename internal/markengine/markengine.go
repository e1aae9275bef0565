// Package markengine is a reference heap.MarkSweepEngine: a transitive
// closure tracer over a pluggable GraphSource, plus the sweep of whatever
// internal/heapsource chunks the trace left unmarked.
//
// Grounded on runtime/mgcmark.go (Go-zh-go.old) for the root-mark/scan/
// re-mark shape, and
// other_examples/e59ce5bb_fire1220-annotation-go1.16.14__go-go1.16.14-src-runtime-mgcsweep.go.go
// for the "sweep everything the bitmap says is unmarked" loop.
package markengine

import (
	"fmt"

	"github.com/gomanaged/heap"
	"github.com/gomanaged/heap/internal/heapsource"
)

// GraphSource supplies the object graph a reference Engine traces. A real
// runtime would derive Roots from register/stack scanning and Edges from
// per-class field-offset maps; this reference implementation leaves both to
// the caller (typically a test building a synthetic graph).
type GraphSource interface {
	// Roots returns the root set. When partial is true, only roots
	// reachable from the small-object area need be returned (§4.5.1);
	// the reference implementation trusts the caller's GraphSource to
	// honor that distinction.
	Roots(partial bool) []heap.Ptr
	// Edges returns p's outgoing references.
	Edges(p heap.Ptr) []heap.Ptr
}

// Engine is a reference MarkSweepEngine.
type Engine struct {
	source *heapsource.Source
	graph  GraphSource

	gray []heap.Ptr // work stack for ScanMarkedObjects
}

func New(source *heapsource.Source, graph GraphSource) *Engine {
	return &Engine{source: source, graph: graph}
}

func (e *Engine) BeginMarkStep(partial bool) error {
	if e.source == nil || e.graph == nil {
		return fmt.Errorf("markengine: source and graph must be set")
	}
	e.gray = e.gray[:0]
	// Every chunk currently allocated starts this cycle unmarked; only
	// MarkRoots/ScanMarkedObjects below may set a bit back to true. This
	// undoes the heap source's eager "allocate already marked" bit, which
	// exists to protect objects born mid-cycle (during the concurrent
	// trace's unlocked window), not ones older than the cycle itself.
	e.source.ResetMarkBitmap()
	return nil
}

func (e *Engine) markGray(p heap.Ptr) {
	if !e.source.MarkBit(p) {
		e.source.SetMarkBit(p)
	}
	e.gray = append(e.gray, p)
}

func (e *Engine) MarkRoots(partial, conservative bool) {
	for _, r := range e.graph.Roots(partial) {
		if !e.source.Contains(r) {
			continue
		}
		e.markGray(r)
	}
}

func (e *Engine) ScanMarkedObjects() {
	for len(e.gray) > 0 {
		n := len(e.gray) - 1
		p := e.gray[n]
		e.gray = e.gray[:n]
		for _, edge := range e.graph.Edges(p) {
			if !e.source.Contains(edge) {
				continue
			}
			if marked := e.source.MarkBit(edge); !marked {
				e.source.SetMarkBit(edge)
				e.gray = append(e.gray, edge)
			}
		}
	}
}

func (e *Engine) RescanDirty(dirty func(yield func(heap.Ptr) bool)) {
	dirty(func(p heap.Ptr) bool {
		if e.source.Contains(p) && !e.source.MarkBit(p) {
			e.markGray(p)
		}
		return true
	})
	e.ScanMarkedObjects()
}

// SweepSystemWeaks is a no-op in the reference engine: it has no
// intern-style tables of its own. A production engine (string interning,
// class-loader weak tables) would clear unmarked entries here.
func (e *Engine) SweepSystemWeaks() {}

func (e *Engine) Sweep() (objectsFreed uint64, bytesFreed uint64) {
	e.source.Lock()
	defer e.source.Unlock()
	for _, p := range e.source.AllChunksLocked() {
		if e.source.MarkBitLocked(p) {
			continue
		}
		bytesFreed += uint64(e.source.ChunkSizeLocked(p))
		objectsFreed++
		e.source.FreeLocked(p)
	}
	return objectsFreed, bytesFreed
}

func (e *Engine) FinishMarkStep() {
	e.gray = nil
}

// VerifyRoots is the pre-verification hook (§4.5 step 7): it checks that
// every declared root still resolves to a chunk the heap source owns,
// before any marking for the new cycle begins.
func (e *Engine) VerifyRoots() error {
	for _, r := range e.graph.Roots(false) {
		if !e.source.Contains(r) {
			return fmt.Errorf("markengine: root %v does not resolve to a known chunk", r)
		}
	}
	return nil
}

func (e *Engine) VerifyPostSweep() error {
	if len(e.gray) != 0 {
		return fmt.Errorf("markengine: %d gray objects left after sweep", len(e.gray))
	}
	return nil
}
