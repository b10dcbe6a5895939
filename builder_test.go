package ocl_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/math-rock/ocl"
	"github.com/math-rock/ocl/driver"
	"github.com/math-rock/ocl/testutil"
)

func TestMapDefaultsCoverWholeBuffer(t *testing.T) {
	q, fq := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)

	region, err := ocl.Map[uint32](buf).Enq(ctx)
	require.NoError(t, err)
	defer region.Close()

	assert.Equal(t, 16, region.Len())

	maps := fq.MapCalls()
	require.Len(t, maps, 1)
	assert.Equal(t, int64(0), maps[0].OffsetBytes)
	assert.Equal(t, int64(64), maps[0].LengthBytes)
	assert.Equal(t, driver.MapRead|driver.MapWrite, maps[0].Flags)
	assert.Nil(t, maps[0].Wait)
}

func TestMapRangeAndFlags(t *testing.T) {
	q, fq := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)

	region, err := ocl.Map[uint32](buf).
		Range(4, 8).
		Flags(ocl.MapWrite).
		Enq(ctx)
	require.NoError(t, err)
	defer region.Close()

	assert.Equal(t, 8, region.Len())
	assert.Equal(t, int64(32), region.SizeBytes())

	maps := fq.MapCalls()
	require.Len(t, maps, 1)
	assert.Equal(t, int64(16), maps[0].OffsetBytes)
	assert.Equal(t, int64(32), maps[0].LengthBytes)
	assert.Equal(t, driver.MapWrite, maps[0].Flags)
}

func TestMapRangeLengthZeroRunsToEnd(t *testing.T) {
	q, _ := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)

	region, err := ocl.Map[uint32](buf).Range(12, 0).Enq(ctx)
	require.NoError(t, err)
	defer region.Close()

	assert.Equal(t, 4, region.Len())
}

func TestMapInvalidLength(t *testing.T) {
	q, fq := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)

	_, err := ocl.Map[uint32](buf).Range(0, -3).Enq(ctx)
	var invalid *ocl.ErrInvalidLength
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, -3, invalid.Length)

	// An offset at the end leaves nothing to map.
	_, err = ocl.Map[uint32](buf).Range(16, 0).Enq(ctx)
	require.ErrorAs(t, err, &invalid)

	assert.Empty(t, fq.MapCalls())
}

func TestMapOutOfRange(t *testing.T) {
	q, fq := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)

	_, err := ocl.Map[uint32](buf).Range(8, 16).Enq(ctx)
	var oor *ocl.ErrOutOfRange
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, 8, oor.Offset)
	assert.Equal(t, 16, oor.Length)
	assert.Equal(t, 16, oor.Capacity)

	_, err = ocl.Map[uint32](buf).Range(-1, 4).Enq(ctx)
	require.ErrorAs(t, err, &oor)

	assert.Empty(t, fq.MapCalls())
}

func TestMapElementSizeScalesRange(t *testing.T) {
	q, fq := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)

	region, err := ocl.Map[float64](buf).Range(2, 4).Enq(ctx)
	require.NoError(t, err)
	defer region.Close()

	assert.Equal(t, 4, region.Len())
	assert.Equal(t, int64(32), region.SizeBytes())

	maps := fq.MapCalls()
	require.Len(t, maps, 1)
	assert.Equal(t, int64(16), maps[0].OffsetBytes)
	assert.Equal(t, int64(32), maps[0].LengthBytes)
}

func TestMapQueueAndModeOverride(t *testing.T) {
	fd := testutil.NewDevice()
	dev := ocl.NewDevice(fd)
	t.Cleanup(func() { _ = dev.Close() })
	ctx := context.Background()

	q1, err := ocl.NewQueue(dev, ocl.WithDefaultCompletionMode(ocl.Blocking))
	require.NoError(t, err)
	q2, err := ocl.NewQueue(dev)
	require.NoError(t, err)

	buf, err := ocl.NewBuffer(ctx, q1, 64)
	require.NoError(t, err)

	// The map runs on the override queue and inherits its default mode.
	region, err := ocl.Map[uint32](buf).Queue(q2).Enq(ctx)
	require.NoError(t, err)
	assert.Same(t, q2, region.Queue())
	assert.Equal(t, ocl.Deferred, region.Mode())
	require.NoError(t, region.Close())

	// Without an override the buffer's queue and its default mode apply;
	// an explicit mode wins over both.
	region, err = ocl.Map[uint32](buf).Enq(ctx)
	require.NoError(t, err)
	assert.Same(t, q1, region.Queue())
	assert.Equal(t, ocl.Blocking, region.Mode())
	require.NoError(t, region.Close())

	region, err = ocl.Map[uint32](buf).Mode(ocl.Deferred).Enq(ctx)
	require.NoError(t, err)
	assert.Equal(t, ocl.Deferred, region.Mode())
	require.NoError(t, region.Close())

	queues := fd.Queues()
	require.Len(t, queues, 2)
	assert.Len(t, queues[0].MapCalls(), 2)
	assert.Len(t, queues[1].MapCalls(), 1)
}

func TestMapUnmapTargetMustBeUserEvent(t *testing.T) {
	q, fq := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)

	// Fill a destination slot with a command completion event, which is
	// host-observable but not host-settable.
	region, err := ocl.Map[uint32](buf).Enq(ctx)
	require.NoError(t, err)
	var done ocl.Event
	require.NoError(t, region.Unmap().ResultEvent(&done).Enq(ctx))
	require.False(t, done.IsEmpty())

	_, err = ocl.Map[uint32](buf).UnmapTarget(&done).Enq(ctx)
	assert.ErrorIs(t, err, ocl.ErrNotUserEvent)

	// The rejected map never reached the driver.
	assert.Len(t, fq.MapCalls(), 1)
}

func TestMapEnqueueFailure(t *testing.T) {
	q, fq := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)

	errInjected := errors.New("injected")
	fq.FailNextMap(errInjected)

	_, err := ocl.Map[uint32](buf).Enq(ctx)
	assert.ErrorIs(t, err, errInjected)
}

func TestMapMisalignedMappingRolledBack(t *testing.T) {
	q, fq := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)

	fq.MisalignNextMap()
	_, err := ocl.Map[uint32](buf).Enq(ctx)

	var misaligned *ocl.ErrMisalignedMapping
	require.ErrorAs(t, err, &misaligned)
	assert.Equal(t, 4, misaligned.Align)

	// The unusable mapping was handed straight back.
	unmaps := fq.UnmapCalls()
	require.Len(t, unmaps, 1)
	assert.Nil(t, unmaps[0].Wait)
	assert.False(t, unmaps[0].WantEvent)
}

func TestMapSingleByteElementsTolerateAnyAddress(t *testing.T) {
	q, fq := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)

	// Alignment is a property of the element type: a byte view has no
	// alignment to violate.
	fq.MisalignNextMap()
	region, err := ocl.Map[byte](buf).Enq(ctx)
	require.NoError(t, err)
	defer region.Close()

	assert.Equal(t, 64, region.Len())
}

func TestMapWaitListBlocksUntilSettled(t *testing.T) {
	q, fq := newFakeQueue(t)
	buf := newTestBuffer(t, q)

	gate, err := ocl.NewUserEvent(q.Device())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = ocl.Map[uint32](buf).WaitList(ocl.NewEventList(gate)).Enq(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The call reached the driver and blocked there on the gate.
	maps := fq.MapCalls()
	require.Len(t, maps, 1)
	assert.Equal(t, []uint64{gate.ID()}, maps[0].Wait)
}

func TestUnmapBuilderSettersClearWithNil(t *testing.T) {
	q, fq := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)
	gate := settledGate(t, q)

	region, err := ocl.Map[uint32](buf).Enq(ctx)
	require.NoError(t, err)

	var done ocl.Event
	err = region.Unmap().
		WaitList(ocl.NewEventList(gate)).
		WaitList(nil).
		ResultEvent(&done).
		ResultEvent(nil).
		Enq(ctx)
	require.NoError(t, err)

	assert.True(t, done.IsEmpty())

	unmaps := fq.UnmapCalls()
	require.Len(t, unmaps, 1)
	assert.Nil(t, unmaps[0].Wait)
	assert.False(t, unmaps[0].WantEvent)
}

func TestUnmapBuilderIsImmutable(t *testing.T) {
	q, fq := newFakeQueue(t)
	ctx := context.Background()
	buf := newTestBuffer(t, q)
	gate := settledGate(t, q)

	region, err := ocl.Map[uint32](buf).Enq(ctx)
	require.NoError(t, err)

	base := region.Unmap()
	derived := base.WaitList(ocl.NewEventList(gate))
	_ = derived

	// Enqueueing the base builder shows no trace of the derived one.
	require.NoError(t, base.Enq(ctx))
	unmaps := fq.UnmapCalls()
	require.Len(t, unmaps, 1)
	assert.Nil(t, unmaps[0].Wait)
}

func TestNewBufferOf(t *testing.T) {
	q, _ := newFakeQueue(t)
	ctx := context.Background()

	buf, err := ocl.NewBufferOf[float64](ctx, q, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(80), buf.SizeBytes())
	assert.Same(t, q, buf.Queue())

	_, err = ocl.NewBufferOf[float64](ctx, q, 0)
	var invalid *ocl.ErrInvalidLength
	assert.ErrorAs(t, err, &invalid)
}
