// ABOUTME: Fill cycle counters
// ABOUTME: Lock-free counters readable from any goroutine
package stream

import "sync/atomic"

// Stats is a snapshot of a session's fill counters
type Stats struct {
	Cycles  uint64 // buffers filled and queued
	Skipped uint64 // notifications without a writable buffer
	Empty   uint64 // queued cycles with zero frames
	Frames  uint64 // frames produced
}

type counters struct {
	cycles  atomic.Uint64
	skipped atomic.Uint64
	empty   atomic.Uint64
	frames  atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Cycles:  c.cycles.Load(),
		Skipped: c.skipped.Load(),
		Empty:   c.empty.Load(),
		Frames:  c.frames.Load(),
	}
}
