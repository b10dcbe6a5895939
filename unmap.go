// Package ocl provides asynchronous mapped-memory access to compute devices.
//
// This file implements the fluent unmap command API.
// Builders are immutable - each method returns a new builder with the updated configuration.
package ocl

import (
	"context"
)

// UnmapBuilder configures and enqueues one unmap command for a mapped
// region: zero or more setters, then Enq exactly once. The builder is
// immutable - each method returns a new builder with the updated
// configuration - and carries no state of its own beyond the overrides, so
// all lifecycle rules live with the region.
//
// Obtained from MappedRegion.Unmap:
//
//	var done ocl.Event
//	err := region.Unmap().
//	    WaitList(ocl.NewEventList(gate)).
//	    ResultEvent(&done).
//	    Enq(ctx)
type UnmapBuilder[T Prm] struct {
	region *MappedRegion[T]
	queue  *Queue
	wait   *EventList
	dest   *Event
}

// Queue overrides the queue the unmap is enqueued on.
// Default: the region's queue.
func (b UnmapBuilder[T]) Queue(q *Queue) UnmapBuilder[T] {
	b.queue = q
	return b
}

// WaitList sets the wait list for the unmap command; nil clears it.
// Setting one when the region already carries a map-time unmap wait list is
// a programming error that panics at Enq.
func (b UnmapBuilder[T]) WaitList(ewl *EventList) UnmapBuilder[T] {
	b.wait = ewl
	return b
}

// ResultEvent sets the destination for the unmap command's completion
// event; nil clears it. After a successful Enq, ev tracks the command;
// anything it previously tracked is replaced. The destination shares the
// command's one completion event with the region's completion target.
func (b UnmapBuilder[T]) ResultEvent(ev *Event) UnmapBuilder[T] {
	b.dest = ev
	return b
}

// Enq enqueues the unmap command. The builder is spent afterwards: the
// region is unmapped, and any further Enq reports ErrAlreadyUnmapped.
func (b UnmapBuilder[T]) Enq(ctx context.Context) error {
	return b.region.EnqueueUnmap(ctx, b.queue, b.wait, b.dest)
}
