package heap

import "github.com/rs/zerolog"

// LoggingDebugSink is a reference DebugSink: it emits each post-GC
// Snapshot as a structured zerolog event at debug level, for the
// "monitoring dumps" step (§4.5 step 27) when no richer external
// monitoring sink (the spec's "debug/monitoring sinks" collaborator) is
// wired up.
type LoggingDebugSink struct {
	log zerolog.Logger
}

func NewLoggingDebugSink(log zerolog.Logger) *LoggingDebugSink {
	return &LoggingDebugSink{log: log}
}

func (s *LoggingDebugSink) EmitHeapInfo(snap Snapshot) {
	s.log.Debug().
		Str("event", "heap_info").
		Str("reason", snap.Reason.String()).
		Uint64("objectsFreed", snap.ObjectsFreed).
		Uint64("bytesFreed", snap.BytesFreed).
		Uint64("bytesAllocated", snap.BytesAllocated).
		Uint64("footprint", snap.Footprint).
		Msg("ddm heap info snapshot")
}
