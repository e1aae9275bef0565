// Command gcheapdemo drives a heap.Heap end to end: it starts a heap over
// the reference domain packages, allocates from several goroutines (which
// triggers collections when allocation fails), and prints the stable GC
// report lines to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gomanaged/heap"
	"github.com/gomanaged/heap/internal/cardtable"
	"github.com/gomanaged/heap/internal/heapsource"
	"github.com/gomanaged/heap/internal/markengine"
	"github.com/gomanaged/heap/internal/refproc"
	"github.com/gomanaged/heap/internal/sizing"
	"github.com/gomanaged/heap/internal/threadreg"
)

func main() {
	var (
		startingSize = flag.Uint64("starting-size", 1<<20, "initial heap footprint in bytes")
		maximumSize  = flag.Uint64("maximum-size", 0, "heap ceiling in bytes; 0 picks a default from host memory")
		growthLimit  = flag.Uint64("growth-limit", 0, "growth limit in bytes; 0 means equal to maximum-size")
		workers      = flag.Int("mutators", 0, "number of allocating goroutines; 0 picks a default from GOMAXPROCS")
		duration     = flag.Duration("duration", 3*time.Second, "how long to run")
		preVerify    = flag.Bool("pre-verify", false, "verify roots before each mark step")
		postVerify   = flag.Bool("post-verify", false, "verify engine state after each bitmap swap, before the sweep")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	maxSize := *maximumSize
	if maxSize == 0 {
		maxSize = sizing.DefaultMaximumSize(64 << 20)
	}
	nWorkers := *workers
	if nWorkers == 0 {
		nWorkers = sizing.DefaultMarkWorkerCount(func(f string, a ...any) {
			logger.Debug().Msgf(f, a...)
		})
	}

	source, err := heapsource.New(*startingSize, maxSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("heapsource.New failed")
	}
	graph := newDemoGraph()
	engine := markengine.New(source, graph)
	cards := cardtable.New(0, maxSize)
	threads := threadreg.New()
	rp := refproc.New(source, graph)

	h, err := heap.New(heap.Config{
		StartingSize:    *startingSize,
		MaximumSize:     maxSize,
		GrowthLimit:     *growthLimit,
		PreVerify:       *preVerify,
		PostVerify:      *postVerify,
		VerifyCardTable: false,
	}, heap.Collaborators{
		Source:       source,
		Engine:       engine,
		Cards:        cards,
		Threads:      threads,
		RefProcessor: rp,
		Debug:        heap.NewLoggingDebugSink(logger),
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("heap.New failed")
	}
	defer h.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	h.StartWorker(ctx, func(p heap.Ptr, op heap.WorkerOp) {
		switch op {
		case heap.WorkerOpFinalize:
			logger.Debug().Uint64("ptr", uint64(p)).Msg("worker: finalize")
			graph.forget(p)
		case heap.WorkerOpEnqueue:
			logger.Debug().Uint64("ptr", uint64(p)).Msg("worker: reference enqueue")
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func(mutator int) {
			defer wg.Done()
			id := h.Attach()
			defer h.Detach(id)

			rnd := rand.New(rand.NewSource(int64(mutator) + 1))
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				size := uintptr(16 + rnd.Intn(4096))
				flags := heap.AllocFlags(0)
				if rnd.Intn(20) == 0 {
					flags |= heap.FlagFinalizable
				}
				p, err := h.Alloc(id, size, flags)
				if err != nil {
					logger.Warn().Err(err).Msg("alloc failed")
					continue
				}
				if rnd.Intn(3) != 0 {
					graph.root(p) // keep some objects alive as roots
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	fmt.Fprintln(os.Stderr, "gcheapdemo: done")
}
