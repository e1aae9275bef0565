// Package sizing picks startup defaults for the values spec.md §6 lists as
// "configuration values (from startup configuration, no environment
// variables)": it runs once, before a Heap is constructed, and turns
// ambient host/cgroup facts into concrete Config fields. The core package
// never imports this one and never re-derives these values mid-run, so the
// "no environment variables" contract in spec.md §6 still holds for the
// long-lived coordinator itself.
package sizing

import (
	"runtime"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/pbnjay/memory"
	"go.uber.org/automaxprocs/maxprocs"
)

// DefaultMaximumSize picks a heap ceiling from the host's total memory,
// capped by any cgroup memory limit automemlimit can discover, reserving
// headroom for everything else running in the container. If neither signal
// is available it falls back to fallback.
func DefaultMaximumSize(fallback uint64) uint64 {
	total := memory.TotalMemory()
	budget := total / 2 // leave half of host memory for the rest of the process and OS
	if total == 0 {
		budget = fallback
	}

	if limit, err := memlimit.FromCgroup(); err == nil && limit > 0 {
		cgroupBudget := uint64(float64(limit) * 0.5)
		if cgroupBudget < budget {
			budget = cgroupBudget
		}
	}

	if budget == 0 {
		return fallback
	}
	return budget
}

// DefaultMarkWorkerCount sizes the concurrent mark worker pool from the
// CPU quota visible to this process, leaving at least one CPU for mutators.
// automaxprocs sets runtime.GOMAXPROCS to the quota only while the count is
// taken; the deferred undo restores the previous value before returning.
func DefaultMarkWorkerCount(logf func(string, ...any)) int {
	undo, err := maxprocs.Set(maxprocs.Logger(logf))
	if err != nil {
		// maxprocs.Set only fails to discover a cgroup quota; GOMAXPROCS
		// is left untouched and we fall back to a conservative default.
		return 1
	}
	defer undo()

	n := 1
	if procs := runtime.GOMAXPROCS(0); procs > 1 {
		n = procs - 1
	}
	return n
}
