package benchmark_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/math-rock/ocl"
	"github.com/math-rock/ocl/emu"
)

func newBenchQueue(b *testing.B, queueOpts ...ocl.QueueOption) *ocl.Queue {
	b.Helper()

	ed, err := emu.New()
	if err != nil {
		b.Fatalf("emu device: %v", err)
	}
	dev := ocl.NewDevice(ed)
	b.Cleanup(func() { _ = dev.Close() })

	q, err := ocl.NewQueue(dev, queueOpts...)
	if err != nil {
		b.Fatalf("queue: %v", err)
	}
	return q
}

// BenchmarkMapUnmap measures one full map/touch/unmap cycle across
// region sizes.
func BenchmarkMapUnmap(b *testing.B) {
	ctx := context.Background()

	sizes := []int{1 << 10, 1 << 14, 1 << 20}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dB", size), func(b *testing.B) {
			q := newBenchQueue(b)
			buf, err := ocl.NewBuffer(ctx, q, int64(size))
			if err != nil {
				b.Fatal(err)
			}

			b.SetBytes(int64(size))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				region, err := ocl.Map[byte](buf).Enq(ctx)
				if err != nil {
					b.Fatal(err)
				}
				region.Slice()[0] = byte(i)
				if err := region.Unmap().Enq(ctx); err != nil {
					b.Fatal(err)
				}
			}
			b.StopTimer()

			if err := q.Finish(ctx); err != nil {
				b.Fatal(err)
			}
		})
	}
}

// BenchmarkCompletionModes compares the cost of a blocking unmap
// against a deferred one that is awaited through its target event.
func BenchmarkCompletionModes(b *testing.B) {
	ctx := context.Background()
	const size = 1 << 14

	b.Run("Blocking", func(b *testing.B) {
		q := newBenchQueue(b, ocl.WithDefaultCompletionMode(ocl.Blocking))
		dev := q.Device()
		buf, err := ocl.NewBuffer(ctx, q, size)
		if err != nil {
			b.Fatal(err)
		}

		b.SetBytes(size)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			target, err := ocl.NewUserEvent(dev)
			if err != nil {
				b.Fatal(err)
			}
			region, err := ocl.Map[byte](buf).UnmapTarget(target).Enq(ctx)
			if err != nil {
				b.Fatal(err)
			}
			if err := region.Unmap().Enq(ctx); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Deferred", func(b *testing.B) {
		q := newBenchQueue(b)
		dev := q.Device()
		buf, err := ocl.NewBuffer(ctx, q, size)
		if err != nil {
			b.Fatal(err)
		}

		b.SetBytes(size)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			target, err := ocl.NewUserEvent(dev)
			if err != nil {
				b.Fatal(err)
			}
			region, err := ocl.Map[byte](buf).UnmapTarget(target).Enq(ctx)
			if err != nil {
				b.Fatal(err)
			}
			if err := region.Unmap().Enq(ctx); err != nil {
				b.Fatal(err)
			}
			if err := target.Wait(ctx); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkQueueOrdering pits the single-worker in-order stream against
// the pooled out-of-order dispatch under parallel load.
func BenchmarkQueueOrdering(b *testing.B) {
	ctx := context.Background()
	const size = 4 << 10

	run := func(b *testing.B, queueOpts ...ocl.QueueOption) {
		q := newBenchQueue(b, queueOpts...)
		buf, err := ocl.NewBuffer(ctx, q, 256<<10)
		if err != nil {
			b.Fatal(err)
		}

		b.SetBytes(size)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				// Read-only maps have no copy-back, so parallel
				// iterations over one range never write shared bytes.
				region, err := ocl.Map[byte](buf).Range(0, size).Flags(ocl.MapRead).Enq(ctx)
				if err != nil {
					b.Fatal(err)
				}
				if err := region.Unmap().Enq(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
		b.StopTimer()

		if err := q.Finish(ctx); err != nil {
			b.Fatal(err)
		}
	}

	b.Run("InOrder", func(b *testing.B) { run(b) })
	b.Run("OutOfOrder", func(b *testing.B) { run(b, ocl.WithOutOfOrder()) })
}
