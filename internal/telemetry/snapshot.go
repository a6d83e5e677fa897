// Package telemetry implements the publish side of the boundary: the
// atomically-swapped snapshot cells every task publishes its state
// through (per spec.md §5's "no component holds a lock across a
// channel send" rule), plus a bounded event bus for stream_events().
package telemetry

import "sync/atomic"

// SnapshotCell is a single-writer, many-reader publish slot for a
// value of type T. A writer task swaps in a new snapshot atomically;
// readers get a consistent, immutable value with no lock held across
// the read. The zero value is ready to use and reads as the zero T
// until the first Publish.
type SnapshotCell[T any] struct {
	p atomic.Pointer[T]
}

// Publish swaps in a new snapshot. Safe for a single writer; concurrent
// writers each still publish atomically but the orchestrator owns
// which task writes which cell (spec.md's "no component mutates
// another's state directly").
func (c *SnapshotCell[T]) Publish(v T) {
	c.p.Store(&v)
}

// Load returns the most recently published snapshot and true, or the
// zero value and false if nothing has been published yet.
func (c *SnapshotCell[T]) Load() (T, bool) {
	v := c.p.Load()
	if v == nil {
		var zero T
		return zero, false
	}
	return *v, true
}
