package testutil_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/math-rock/ocl/driver"
	"github.com/math-rock/ocl/testutil"
)

func newTestQueue(t *testing.T, optFns ...func(o *testutil.Options)) (*testutil.Device, *testutil.Queue, driver.Buffer) {
	t.Helper()

	fd := testutil.NewDevice(optFns...)
	t.Cleanup(func() { _ = fd.Close() })

	dq, err := fd.CreateQueue(driver.QueueConfig{InOrder: true})
	require.NoError(t, err)

	buf, err := fd.CreateBuffer(context.Background(), 64)
	require.NoError(t, err)

	q, ok := dq.(*testutil.Queue)
	require.True(t, ok)
	return fd, q, buf
}

func TestDeviceHandles(t *testing.T) {
	fd := testutil.NewDevice(func(o *testutil.Options) {
		o.Name = "scripted"
		o.MemSize = 4096
	})

	assert.Equal(t, "scripted", fd.Name())
	assert.Equal(t, uint64(4096), fd.GlobalMemSize())

	_, err := fd.CreateBuffer(context.Background(), 0)
	require.Error(t, err)

	ue, err := fd.NewUserEvent()
	require.NoError(t, err)
	require.NoError(t, ue.SetComplete())
	assert.ErrorIs(t, ue.SetError(errors.New("late")), driver.ErrEventSettled)

	require.NoError(t, fd.Close())
	require.NoError(t, fd.Close())

	_, err = fd.CreateQueue(driver.QueueConfig{})
	assert.ErrorIs(t, err, driver.ErrDeviceClosed)
	_, err = fd.CreateBuffer(context.Background(), 16)
	assert.ErrorIs(t, err, driver.ErrDeviceClosed)
}

func TestQueueRecordsCalls(t *testing.T) {
	fd, q, buf := newTestQueue(t)
	ctx := context.Background()

	gate, err := fd.NewUserEvent()
	require.NoError(t, err)
	require.NoError(t, gate.SetComplete())

	m, err := q.EnqueueMap(ctx, driver.MapRequest{
		Buffer:      buf,
		OffsetBytes: 8,
		LengthBytes: 16,
		Flags:       driver.MapWrite,
		WaitList:    []driver.Event{gate},
	})
	require.NoError(t, err)
	assert.Len(t, m.Bytes(), 16)

	ev, err := q.EnqueueUnmap(ctx, buf, m, []driver.Event{gate}, true)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, driver.StatusComplete, ev.Status())

	maps := q.MapCalls()
	require.Len(t, maps, 1)
	assert.Equal(t, buf.ID(), maps[0].BufferID)
	assert.Equal(t, int64(8), maps[0].OffsetBytes)
	assert.Equal(t, int64(16), maps[0].LengthBytes)
	assert.Equal(t, driver.MapWrite, maps[0].Flags)
	assert.Equal(t, []uint64{gate.ID()}, maps[0].Wait)

	unmaps := q.UnmapCalls()
	require.Len(t, unmaps, 1)
	assert.Equal(t, buf.ID(), unmaps[0].BufferID)
	assert.Equal(t, m.ID(), unmaps[0].MappingID)
	assert.Equal(t, []uint64{gate.ID()}, unmaps[0].Wait)
	assert.True(t, unmaps[0].WantEvent)

	require.NoError(t, q.Finish(ctx))
	assert.Equal(t, 1, q.FinishCount())
}

func TestQueueConsumesMappings(t *testing.T) {
	_, q, buf := newTestQueue(t)
	ctx := context.Background()

	m, err := q.EnqueueMap(ctx, driver.MapRequest{Buffer: buf, LengthBytes: 64})
	require.NoError(t, err)

	ev, err := q.EnqueueUnmap(ctx, buf, m, nil, false)
	require.NoError(t, err)
	assert.Nil(t, ev)

	_, err = q.EnqueueUnmap(ctx, buf, m, nil, false)
	assert.ErrorIs(t, err, driver.ErrDoubleUnmap)

	// Both attempts are visible to the test.
	assert.Len(t, q.UnmapCalls(), 2)
}

func TestManualSettle(t *testing.T) {
	_, q, buf := newTestQueue(t, func(o *testutil.Options) {
		o.ManualSettle = true
	})
	ctx := context.Background()

	m, err := q.EnqueueMap(ctx, driver.MapRequest{Buffer: buf, LengthBytes: 64})
	require.NoError(t, err)

	ev, err := q.EnqueueUnmap(ctx, buf, m, nil, true)
	require.NoError(t, err)
	assert.Equal(t, driver.StatusSubmitted, ev.Status())

	fired := make(chan driver.CommandStatus, 1)
	require.NoError(t, ev.OnComplete(func(s driver.CommandStatus) { fired <- s }))

	events := q.Events()
	require.Len(t, events, 1)
	require.NoError(t, events[0].Complete())
	assert.ErrorIs(t, events[0].Complete(), driver.ErrEventSettled)

	select {
	case s := <-fired:
		assert.Equal(t, driver.StatusComplete, s)
	case <-time.After(time.Second):
		t.Fatal("completion callback never ran")
	}
	require.NoError(t, ev.Wait(ctx))
}

func TestFailureInjection(t *testing.T) {
	_, q, buf := newTestQueue(t)
	ctx := context.Background()

	errInjected := errors.New("injected")

	q.FailNextMap(errInjected)
	_, err := q.EnqueueMap(ctx, driver.MapRequest{Buffer: buf, LengthBytes: 64})
	assert.ErrorIs(t, err, errInjected)

	m, err := q.EnqueueMap(ctx, driver.MapRequest{Buffer: buf, LengthBytes: 64})
	require.NoError(t, err)

	q.FailNextUnmap(errInjected)
	_, err = q.EnqueueUnmap(ctx, buf, m, nil, true)
	assert.ErrorIs(t, err, errInjected)
	assert.Empty(t, q.Events())

	// The injection is one-shot and does not consume the mapping.
	_, err = q.EnqueueUnmap(ctx, buf, m, nil, false)
	require.NoError(t, err)
}

func TestMisalignNextMap(t *testing.T) {
	_, q, buf := newTestQueue(t)
	ctx := context.Background()

	q.MisalignNextMap()
	m, err := q.EnqueueMap(ctx, driver.MapRequest{Buffer: buf, LengthBytes: 32})
	require.NoError(t, err)
	assert.Len(t, m.Bytes(), 32)
}

func TestCloseFailsUnsettledEvents(t *testing.T) {
	_, q, buf := newTestQueue(t, func(o *testutil.Options) {
		o.ManualSettle = true
	})
	ctx := context.Background()

	m, err := q.EnqueueMap(ctx, driver.MapRequest{Buffer: buf, LengthBytes: 64})
	require.NoError(t, err)

	ev, err := q.EnqueueUnmap(ctx, buf, m, nil, true)
	require.NoError(t, err)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.Equal(t, driver.StatusFailed, ev.Status())
	assert.ErrorIs(t, ev.Wait(ctx), driver.ErrQueueClosed)

	_, err = q.EnqueueMap(ctx, driver.MapRequest{Buffer: buf, LengthBytes: 64})
	assert.ErrorIs(t, err, driver.ErrQueueClosed)
}
