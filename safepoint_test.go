package heap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gomanaged/heap"
)

func TestBatchSafepointHookRunsQueuedWorkInOrderThenClears(t *testing.T) {
	hook := heap.NewBatchSafepointHook()

	var order []int
	hook.Defer(func() { order = append(order, 1) })
	hook.Defer(func() { order = append(order, 2) })
	hook.Defer(func() { order = append(order, 3) })

	ran := hook.DrainSafepoints()
	assert.Equal(t, 3, ran)
	assert.Equal(t, []int{1, 2, 3}, order)

	// A second drain with nothing queued runs nothing.
	assert.Equal(t, 0, hook.DrainSafepoints())
}
