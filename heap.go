package heap

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gomanaged/heap/internal/reftab"
)

// Heap is the GC coordinator: the single point through which mutators
// allocate and the collector reclaims. Unlike the runtime it is modeled on,
// it is an explicit value a caller constructs rather than a process-wide
// singleton (see SPEC_FULL.md §3).
type Heap struct {
	cfg Config

	source  HeapSource
	engine  MarkSweepEngine
	cards   CardTable
	threads ThreadRegistry
	refproc ReferenceProcessor
	debug   DebugSink
	safept  SafepointHook
	log     zerolog.Logger
	abort   func(string)

	// mu is the heap lock (C1): guards running, the per-cycle discovered
	// lists, finalizableRefs, and allocation profiling counters.
	mu      sync.Mutex
	gcDone  *sync.Cond // paired with mu, broadcast when running -> false
	running bool

	// workerMu is the "worker lock": held by the driver for the duration
	// of a cycle to exclude in-flight finalizer/enqueue execution, and
	// held by the worker around each dispatched action.
	workerMu sync.Mutex

	finalizableRefs []Ptr
	softRefs        []Ptr
	weakRefs        []Ptr
	phantomRefs     []Ptr

	queues  *reftab.Queues
	tracked *reftab.TrackedSet

	// allocation profiling counters (C3/§3 alloc_prof).
	allocCount     uint64
	allocFailCount uint64

	// attached tracks which ThreadIDs are on the thread list, for the OOM
	// escalator's attached-vs-pre-built split (§4.6).
	attached map[ThreadID]struct{}
	// throwingOOME guards against recursive OOM construction per thread
	// (§4.6).
	throwingOOME map[ThreadID]bool
}

// New constructs a Heap. It does not start a worker goroutine; call
// StartWorker for that.
func New(cfg Config, collab Collaborators) (*Heap, error) {
	if collab.Source == nil || collab.Engine == nil || collab.Cards == nil ||
		collab.Threads == nil || collab.RefProcessor == nil {
		return nil, fmt.Errorf("heap: Source, Engine, Cards, Threads and RefProcessor are required")
	}
	if cfg.MaximumSize == 0 {
		return nil, fmt.Errorf("heap: MaximumSize must be > 0")
	}
	if cfg.StartingSize > cfg.MaximumSize {
		return nil, fmt.Errorf("heap: StartingSize > MaximumSize")
	}

	logger := collab.Logger
	if reflect.DeepEqual(logger, zerolog.Logger{}) {
		logger = zerolog.Nop()
	}

	abort := collab.Abort
	if abort == nil {
		abort = defaultAbort
	}

	h := &Heap{
		cfg:          cfg,
		source:       collab.Source,
		engine:       collab.Engine,
		cards:        collab.Cards,
		threads:      collab.Threads,
		refproc:      collab.RefProcessor,
		debug:        collab.Debug,
		safept:       collab.Safepoint,
		log:          logger,
		abort:        abort,
		queues:       reftab.NewQueues(),
		tracked:      reftab.NewTrackedSet(),
		attached:     make(map[ThreadID]struct{}),
		throwingOOME: make(map[ThreadID]bool),
	}
	h.gcDone = sync.NewCond(&h.mu)
	return h, nil
}

// defaultAbort panics with a *FatalError; it is never os.Exit so tests can
// recover it.
func defaultAbort(msg string) {
	panic(&FatalError{Msg: msg})
}

// FatalError is raised by the default Abort for structural invariant
// failures (§7): finalizer-table overflow, mark-step setup failure, a
// wedged worker at GC entry, or a verification failure.
type FatalError struct{ Msg string }

func (e *FatalError) Error() string { return "heap: fatal: " + e.Msg }

// fatal logs and aborts. It never returns.
//
// The log event is emitted at Error level, not zerolog's Fatal level:
// zerolog.Event.Msg calls os.Exit(1) itself once the level is Fatal, which
// would terminate the process before h.abort ever runs. Termination is
// h.abort's job alone, so a caller can inject a recoverable one in tests.
func (h *Heap) fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.log.Error().
		Bool("running", h.running).
		Uint64("allocCount", h.allocCount).
		Msg(msg)
	h.abort(msg)
	panic("heap: abort returned") // unreachable unless Abort misbehaves
}

// LockHeap acquires the heap lock for coarse external synchronization (§6).
func (h *Heap) LockHeap() { h.mu.Lock() }

// UnlockHeap releases the heap lock.
func (h *Heap) UnlockHeap() { h.mu.Unlock() }

// IsValidObject reports whether p is 8-byte aligned and known to the heap
// source. It does not take the heap lock: membership is answered by
// HeapSource.Contains.
func (h *Heap) IsValidObject(p Ptr) bool {
	if p == Nil || uintptr(p)%8 != 0 {
		return false
	}
	return h.source.Contains(p)
}

// ObjectSize returns the exact size of the chunk backing p.
func (h *Heap) ObjectSize(p Ptr) uintptr {
	return h.source.ChunkSize(p)
}
