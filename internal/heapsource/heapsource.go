// Package heapsource is a reference heap.HeapSource: a bump-pointer arena
// divided into fixed-size spans, with a live/mark bitmap pair and
// utilization-driven growth up to a configured maximum.
//
// Grounded on runtime/mcache.go (Go-zh-go.old, per-thread allocation cache
// shape generalized here to a single mutex-guarded arena, since this
// reference implementation favors a simple, auditable fast path over the
// teacher's per-P sharding) and on
// veezhang-go1.12.9-annotated/src/runtime/mheap.go and malloc.go for the
// span/footprint/growth bookkeeping.
package heapsource

import (
	"fmt"
	"sync"
	"time"

	"github.com/gomanaged/heap"
)

const (
	align     = 8
	spanBytes = 64 << 10 // 64 KiB per span, matching the teacher's small-object area granularity
)

type span struct {
	base   uintptr
	size   uintptr
	cursor uintptr // bump offset within the span
}

func (s *span) free() uintptr { return s.size - s.cursor }

type chunk struct {
	size uintptr
}

// Source is a reference HeapSource.
type Source struct {
	mu sync.Mutex

	startingSize uint64
	maximumSize  uint64

	nextBase  uintptr
	footprint uint64 // bytes currently mapped (sum of span sizes)
	allocated uint64 // bytes currently allocated to live chunks

	spans []*span
	cur   *span

	chunks map[uintptr]chunk // base address -> chunk metadata
	mark   map[uintptr]bool  // mark bitmap
	live   map[uintptr]bool  // live bitmap

	trimTimer *time.Timer
}

// New starts a source with the given starting footprint (rounded up to a
// span) and ceiling maximumSize.
func New(startingSize, maximumSize uint64) (*Source, error) {
	if maximumSize == 0 {
		return nil, fmt.Errorf("heapsource: maximumSize must be > 0")
	}
	if startingSize > maximumSize {
		return nil, fmt.Errorf("heapsource: startingSize > maximumSize")
	}
	s := &Source{
		startingSize: startingSize,
		maximumSize:  maximumSize,
		nextBase:     align, // keep 0 reserved as heap.Nil
		chunks:       make(map[uintptr]chunk),
		mark:         make(map[uintptr]bool),
		live:         make(map[uintptr]bool),
	}
	want := startingSize
	if want == 0 {
		want = spanBytes
	}
	if want > maximumSize {
		want = maximumSize
	}
	for s.footprint < want {
		if err := s.growSpanLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func roundUp(n, to uintptr) uintptr {
	return (n + to - 1) &^ (to - 1)
}

// growSpanLocked adds a span sized to spanBytes, or smaller if that would
// overshoot maximumSize: a configured ceiling is honored exactly, never
// silently exceeded, even on the very first span (needed for FOOTPRINT to
// be a meaningful signal in the OOM boundary case, §8).
func (s *Source) growSpanLocked() error {
	if s.footprint >= s.maximumSize {
		return fmt.Errorf("heapsource: growth would exceed maximum size")
	}
	size := uint64(spanBytes)
	if remaining := s.maximumSize - s.footprint; size > remaining {
		size = remaining
	}
	sp := &span{base: s.nextBase, size: uintptr(size)}
	s.spans = append(s.spans, sp)
	s.cur = sp
	s.nextBase += uintptr(size)
	s.footprint += size
	return nil
}

// allocFromCurrent tries the bump pointer in the current span only.
func (s *Source) allocFromCurrent(size uintptr) (uintptr, bool) {
	if s.cur == nil {
		return 0, false
	}
	aligned := roundUp(size, align)
	if s.cur.free() < aligned {
		return 0, false
	}
	base := s.cur.base + s.cur.cursor
	s.cur.cursor += aligned
	return base, true
}

func (s *Source) allocLocked(size uintptr, grow bool) (heap.Ptr, bool) {
	if size == 0 {
		size = align
	}
	if base, ok := s.allocFromCurrent(size); ok {
		s.chunks[base] = chunk{size: size}
		// New allocations are created already marked (§5): they must
		// survive a concurrent cycle in progress when they're born.
		s.mark[base] = true
		s.live[base] = true
		s.allocated += uint64(roundUp(size, align))
		return heap.Ptr(base), true
	}
	// try every span with room, in case the bump cursor of an older span
	// still has free space at its tail.
	for _, sp := range s.spans {
		if sp == s.cur {
			continue
		}
		aligned := roundUp(size, align)
		if sp.free() >= aligned {
			base := sp.base + sp.cursor
			sp.cursor += aligned
			s.chunks[base] = chunk{size: size}
			s.mark[base] = true
			s.live[base] = true
			s.allocated += uint64(aligned)
			return heap.Ptr(base), true
		}
	}
	// A span whose chunks a sweep has all reclaimed is reused from its start.
	// Spans are laid out back to back from align, spanBytes apart.
	used := make([]bool, len(s.spans))
	for base := range s.chunks {
		used[(base-align)/spanBytes] = true
	}
	reclaimed := false
	for i, sp := range s.spans {
		if !used[i] && sp.cursor > 0 {
			sp.cursor = 0
			reclaimed = true
		}
	}
	if reclaimed {
		return s.allocLocked(size, grow)
	}
	if !grow {
		return 0, false
	}
	if err := s.growSpanLocked(); err != nil {
		return 0, false
	}
	if base, ok := s.allocFromCurrent(size); ok {
		s.chunks[base] = chunk{size: size}
		s.mark[base] = true
		s.live[base] = true
		s.allocated += uint64(roundUp(size, align))
		return heap.Ptr(base), true
	}
	return 0, false
}

func (s *Source) Alloc(size uintptr) (heap.Ptr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocLocked(size, false)
}

func (s *Source) AllocAndGrow(size uintptr) (heap.Ptr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocLocked(size, true)
}

func (s *Source) Contains(p heap.Ptr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chunks[uintptr(p)]
	return ok
}

func (s *Source) ChunkSize(p heap.Ptr) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[uintptr(p)].size
}

func (s *Source) BytesAllocated() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocated
}

func (s *Source) Footprint() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.footprint
}

func (s *Source) MarkBit(p heap.Ptr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mark[uintptr(p)]
}

func (s *Source) SetMarkBit(p heap.Ptr) {
	s.mu.Lock()
	s.mark[uintptr(p)] = true
	s.mu.Unlock()
}

func (s *Source) LiveBit(p heap.Ptr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[uintptr(p)]
}

// SwapBitmaps publishes mark as the new live set and clears mark for reuse.
func (s *Source) SwapBitmaps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = s.mark
	s.mark = make(map[uintptr]bool, len(s.live))
}

// ResetMarkBitmap clears every mark bit for the chunks currently allocated,
// without touching the live bitmap. internal/markengine calls this at the
// start of every mark step (§4.5 step 8): a cycle must trace reachability
// from scratch, not inherit the eager "allocate already marked" bit every
// chunk is born with (that eager bit exists only to protect objects born
// during a concurrent trace's unlocked window, not to pre-survive a cycle
// that hasn't traced them yet).
func (s *Source) ResetMarkBitmap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for base := range s.mark {
		s.mark[base] = false
	}
}

// FreeLocked removes a chunk that the sweeper determined is unmarked. It is
// exported (capitalized but not part of the heap.HeapSource interface) for
// internal/markengine, which is the only caller: the engine owns sweep
// policy, the source owns storage.
func (s *Source) FreeLocked(p heap.Ptr) {
	base := uintptr(p)
	s.allocated -= uint64(roundUp(s.chunks[base].size, align))
	delete(s.chunks, base)
	delete(s.live, base)
	delete(s.mark, base)
}

// MarkBitLocked and ChunkSizeLocked are the Lock-held counterparts of
// MarkBit/ChunkSize, for internal/markengine's Sweep, which must hold the
// source's mutex across the whole chunk-table walk (so allocation of a
// fresh chunk in one span can't interleave with freeing a dead chunk in
// another). Calling MarkBit/ChunkSize instead would deadlock: sync.Mutex
// is not reentrant.
func (s *Source) MarkBitLocked(p heap.Ptr) bool      { return s.mark[uintptr(p)] }
func (s *Source) ChunkSizeLocked(p heap.Ptr) uintptr { return s.chunks[uintptr(p)].size }

// Lock/Unlock expose the source's own mutex to internal/markengine's Sweep,
// so a sweep over all known chunks is atomic with respect to concurrent
// allocation of distinct spans (§5 "heap source must be safe for concurrent
// alloc vs sweep of distinct spans" — this reference implementation keeps
// that promise by serializing on one mutex rather than truly sharding by
// span).
func (s *Source) Lock()   { s.mu.Lock() }
func (s *Source) Unlock() { s.mu.Unlock() }

// AllChunksLocked returns every live chunk pointer. Caller must hold Lock.
func (s *Source) AllChunksLocked() []heap.Ptr {
	out := make([]heap.Ptr, 0, len(s.chunks))
	for base := range s.chunks {
		out = append(out, heap.Ptr(base))
	}
	return out
}

func (s *Source) GrowForUtilization() {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Target keeping footprint within 2x of what's allocated, per a
	// conventional live-to-footprint ratio; never below startingSize.
	target := s.allocated * 2
	if target < s.startingSize {
		target = s.startingSize
	}
	if target > s.maximumSize {
		target = s.maximumSize
	}
	for s.footprint < target {
		if err := s.growSpanLocked(); err != nil {
			break
		}
	}
}

func (s *Source) ScheduleTrim(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trimTimer != nil {
		s.trimTimer.Stop()
	}
	s.trimTimer = time.AfterFunc(delay, func() {
		// A reference arena never unmaps spans mid-process; trimming is
		// therefore a no-op placeholder for a real mmap-backed source.
	})
}

func (s *Source) AfterFork() error { return nil }

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trimTimer != nil {
		s.trimTimer.Stop()
	}
	s.spans = nil
	s.chunks = nil
	s.mark = nil
	s.live = nil
	return nil
}
