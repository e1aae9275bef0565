// Package cardtable is a reference heap.CardTable: a dirty table with one
// uint32 per 1 KiB card, sized to the configured maximum heap, written by a write barrier
// and read by the collector's re-mark pass.
//
// Grounded on the concurrent-mark/dirty-card description in
// runtime/mgc.go (Go-zh-go.old): "the card table is cleared under heap
// lock at the start of concurrent mark; dirtied by mutators via write
// barrier; read by re-mark."
package cardtable

import (
	"fmt"
	"sync/atomic"

	"github.com/gomanaged/heap"
)

const cardShift = 10 // 1 KiB per card, matching typical runtime card sizes

// Table is a reference CardTable over a fixed address range
// [base, base+size).
type Table struct {
	base  uintptr
	cards []uint32 // atomic 0/1 per card; uint32 for atomic.CompareAndSwap portability
}

// New allocates a table covering [base, base+size).
func New(base uintptr, size uint64) *Table {
	n := (size >> cardShift) + 1
	return &Table{base: base, cards: make([]uint32, n)}
}

func (t *Table) index(p heap.Ptr) (int, bool) {
	addr := uintptr(p)
	if addr < t.base {
		return 0, false
	}
	idx := int((addr - t.base) >> cardShift)
	if idx < 0 || idx >= len(t.cards) {
		return 0, false
	}
	return idx, true
}

// Clear zeroes every card.
func (t *Table) Clear() {
	for i := range t.cards {
		atomic.StoreUint32(&t.cards[i], 0)
	}
}

// Dirty marks the card covering p. Safe to call concurrently with Clear and
// Each from other goroutines (that is the write barrier's whole point).
func (t *Table) Dirty(p heap.Ptr) {
	idx, ok := t.index(p)
	if !ok {
		return
	}
	atomic.StoreUint32(&t.cards[idx], 1)
}

// Each yields the base pointer of every dirty card, in index order, until
// yield returns false.
func (t *Table) Each(yield func(heap.Ptr) bool) {
	for i := range t.cards {
		if atomic.LoadUint32(&t.cards[i]) == 0 {
			continue
		}
		p := heap.Ptr(t.base + uintptr(i)<<cardShift)
		if !yield(p) {
			return
		}
	}
}

// VerifyClean checks that every card index is either 0 or 1 (a reference
// implementation invariant that can only be violated by a data race bug in
// this package itself, but Config.VerifyCardTable wires it in so the fatal-
// abort path in the driver has something real to call).
func (t *Table) VerifyClean() error {
	for i, c := range t.cards {
		if c != 0 && c != 1 {
			return fmt.Errorf("cardtable: card %d has invalid value %d", i, c)
		}
	}
	return nil
}
