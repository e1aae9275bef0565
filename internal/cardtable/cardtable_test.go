package cardtable

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gomanaged/heap"
)

func TestDirtyAndEachRoundTrip(t *testing.T) {
	tbl := New(0, 1<<16)
	p := heap.Ptr(1 << 12) // well within range, distinct card from base
	tbl.Dirty(p)

	var seen []heap.Ptr
	tbl.Each(func(p heap.Ptr) bool {
		seen = append(seen, p)
		return true
	})
	assert.Len(t, seen, 1)
}

func TestClearRemovesAllDirtyCards(t *testing.T) {
	tbl := New(0, 1<<16)
	tbl.Dirty(heap.Ptr(0))
	tbl.Dirty(heap.Ptr(1 << 11))
	tbl.Clear()

	var seen []heap.Ptr
	tbl.Each(func(p heap.Ptr) bool {
		seen = append(seen, p)
		return true
	})
	assert.Empty(t, seen)
}

func TestEachStopsWhenYieldReturnsFalse(t *testing.T) {
	tbl := New(0, 1<<16)
	tbl.Dirty(heap.Ptr(0))
	tbl.Dirty(heap.Ptr(1 << 11))
	tbl.Dirty(heap.Ptr(2 << 11))

	count := 0
	tbl.Each(func(p heap.Ptr) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}

func TestDirtyIgnoresOutOfRangeAddress(t *testing.T) {
	tbl := New(1<<20, 1<<10)
	assert.NotPanics(t, func() { tbl.Dirty(heap.Ptr(0)) })
	assert.NotPanics(t, func() { tbl.Dirty(heap.Ptr(1 << 30)) })
}

func TestVerifyCleanPassesByConstruction(t *testing.T) {
	tbl := New(0, 1<<16)
	tbl.Dirty(heap.Ptr(0))
	assert.NoError(t, tbl.VerifyClean())
}
