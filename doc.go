// Package ocl provides asynchronous mapped-memory access to compute devices.
//
// A caller maps a device buffer into host memory, reads and writes it as a
// typed slice, and schedules an unmap that either blocks until the device
// has finished or signals completion through an event, without touching
// native handles or reference counts. The package is substrate-agnostic:
// all device work goes through the driver package interfaces, with the emu
// package providing a complete in-process device.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	dev, _ := emu.New()
//	defer dev.Close()
//
//	d := ocl.NewDevice(dev)
//	q, _ := ocl.NewQueue(d)
//	defer q.Close()
//
//	buf, _ := ocl.NewBufferOf[float32](ctx, q, 1024)
//	defer buf.Release()
//
//	region, _ := ocl.Map[float32](buf).Enq(ctx)
//	defer region.Close()
//
//	data := region.Slice()
//	for i := range data {
//	    data[i] = float32(i)
//	}
//
//	if err := region.Unmap().Enq(ctx); err != nil {
//	    // the region stays valid only for metadata queries now
//	}
//
// # Region Lifecycle
//
// A MappedRegion moves through exactly one map, any number of slice
// accesses, and exactly one unmap. After the unmap is enqueued, Slice
// panics and a second unmap reports ErrAlreadyUnmapped. Close (or the
// finalizer backstop) issues a bare best-effort unmap for regions dropped
// without one.
//
// # Completion Modes
//
// An unmap's completion target (a user event set via UnmapTarget at map
// time) is settled in one of two modes:
//
//   - Deferred (default): the enqueue returns immediately; a driver
//     callback settles the target when the device finishes.
//   - Blocking: the enqueue waits for the device and settles the target
//     before returning.
//
//	done, _ := ocl.NewUserEvent(d)
//	region, _ := ocl.Map[int32](buf).
//	    UnmapTarget(done).
//	    Mode(ocl.Deferred).
//	    Enq(ctx)
//	// ... fill region ...
//	_ = region.Unmap().Enq(ctx)
//	<-done.Done() // unmap finished on the device
//
// # Key Features
//
//   - Typed zero-copy slice views over device mappings (Prm scalar types)
//   - Dual-mode unmap completion (blocking / callback-driven)
//   - Fluent, immutable map and unmap command builders
//   - Wait lists and out-events for cross-command ordering
//   - Pluggable substrate (driver interfaces, emu reference device)
//   - Structured logging, metrics hooks, and binary command tracing
package ocl
