package heap

import "github.com/rs/zerolog"

// Config holds the startup configuration for a Heap. It is immutable once
// passed to New: nothing in this package re-reads it mid-run, and nothing
// in this package consults environment variables (§6).
type Config struct {
	StartingSize uint64
	MaximumSize  uint64
	// GrowthLimit bounds allocation before the driver falls back to the
	// soft-reference pass (§4.3 step 1). Zero means "equal to
	// MaximumSize".
	GrowthLimit uint64

	PreVerify        bool
	PostVerify       bool
	VerifyCardTable  bool
	AllocProfEnabled bool
}

func (c Config) growthLimit() uint64 {
	if c.GrowthLimit == 0 {
		return c.MaximumSize
	}
	return c.GrowthLimit
}

// Collaborators bundles the external collaborators this package drives.
// Source, Engine, Cards, Threads and RefProcessor are required; Debug,
// Safepoint, Logger and Abort are optional.
type Collaborators struct {
	Source       HeapSource
	Engine       MarkSweepEngine
	Cards        CardTable
	Threads      ThreadRegistry
	RefProcessor ReferenceProcessor

	// Debug, if non-nil, receives a Snapshot after every cycle.
	Debug DebugSink
	// Safepoint, if non-nil, is drained during every cycle's quiescent
	// window (§4.5 step 14).
	Safepoint SafepointHook

	// Logger receives the structured and stable-text GC report lines and
	// fatal-abort diagnostics. The zero value is a no-op logger.
	Logger zerolog.Logger

	// Abort is called for structural invariant failures that make the
	// heap unrecoverable (§7). It must not return. The default panics
	// with a *FatalError.
	Abort func(msg string)
}
