package heap

import (
	"fmt"
	"strings"
)

// report emits the stable-format log line from §6, plus a
// structured zerolog event carrying the same fields machine-readably
// (SPEC_FULL.md §10's ambient logging addition). The stable text line is
// the contract; the structured record is extra.
func (h *Heap) report(s Snapshot) {
	line := formatReportLine(s)

	evt := h.log.Info().
		Str("event", "gc").
		Str("reason", s.Reason.String()).
		Uint64("objectsFreed", s.ObjectsFreed).
		Uint64("bytesFreed", s.BytesFreed).
		Uint64("bytesAllocated", s.BytesAllocated).
		Uint64("footprint", s.Footprint)
	for i, ns := range s.PauseDurationNS {
		evt = evt.Int64(fmt.Sprintf("pause%dNS", i), ns)
	}
	if s.ConcurrentNS > 0 {
		evt = evt.Int64("concurrentNS", s.ConcurrentNS)
	}
	evt.Msg(line)
}

// formatReportLine renders the stable-for-testing format:
//
//	"<REASON> freed [<]<K>K, <P>% free <A>K/<F>K, paused <T>ms"
//
// with "paused <R>ms+<D>ms" for a concurrent cycle's two pause intervals.
func formatReportLine(s Snapshot) string {
	var freed string
	switch {
	case s.BytesFreed == 0:
		freed = "0K"
	case s.BytesFreed < 1024:
		freed = "< 1K"
	default:
		freed = fmt.Sprintf("%dK", s.BytesFreed/1024)
	}

	var percentFree uint64
	if s.Footprint > 0 && s.Footprint >= s.BytesAllocated {
		percentFree = (s.Footprint - s.BytesAllocated) * 100 / s.Footprint
	}

	var paused string
	switch len(s.PauseDurationNS) {
	case 2:
		paused = fmt.Sprintf("%dms+%dms", s.PauseDurationNS[0]/1e6, s.PauseDurationNS[1]/1e6)
	case 1:
		paused = fmt.Sprintf("%dms", s.PauseDurationNS[0]/1e6)
	default:
		paused = "0ms"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s freed %s, %d%% free %dK/%dK, paused %s",
		s.Reason.String(), freed, percentFree, s.BytesAllocated/1024, s.Footprint/1024, paused)
	return b.String()
}
