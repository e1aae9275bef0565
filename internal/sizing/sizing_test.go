package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// These exercise real host/cgroup introspection (memory.TotalMemory,
// memlimit.FromCgroup, runtime.GOMAXPROCS) rather than a fake, so the
// assertions are limited to the invariants that must hold on any host: a
// positive result, the same result on back-to-back calls, and at least one
// mark worker.

func TestDefaultMaximumSizeNeverReturnsZeroGivenAPositiveFallback(t *testing.T) {
	got := DefaultMaximumSize(1 << 20)
	assert.Greater(t, got, uint64(0))
}

func TestDefaultMaximumSizeIsStableAcrossCalls(t *testing.T) {
	a := DefaultMaximumSize(1 << 20)
	b := DefaultMaximumSize(1 << 20)
	assert.Equal(t, a, b, "host memory facts don't change between two back-to-back calls")
}

func TestDefaultMarkWorkerCountIsAtLeastOne(t *testing.T) {
	var logged []string
	got := DefaultMarkWorkerCount(func(format string, args ...any) {
		logged = append(logged, format)
	})
	assert.GreaterOrEqual(t, got, 1, "at least one mark worker regardless of CPU quota")
}
