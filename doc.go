// Package heap implements the coordinator for a mark-sweep managed-object
// runtime: the component that mediates between mutator goroutines
// allocating objects and a mark-sweep collector reclaiming them.
//
// It owns the global allocation lock, drives stop-the-world (and optionally
// concurrent) mark-sweep cycles, enforces out-of-memory semantics, and hands
// finalizable and reference-bearing objects off to a worker. The page
// allocator, the tracer, the card table, and thread suspension are supplied
// by the caller through the interfaces in collaborators.go; reference
// implementations live under internal/ for tests and cmd/gcheapdemo.
package heap
