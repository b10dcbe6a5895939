package emu

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/math-rock/ocl/driver"
	"github.com/math-rock/ocl/internal/conv"
	"github.com/math-rock/ocl/internal/hostmem"
)

// No call to WaitN may exceed the limiter burst, so transfers consume
// tokens in chunks of at most this size.
const transferBurst = 1 << 20

// taskQueueHint sizes the in-order task queue; it grows past this.
const taskQueueHint = 64

// command is one unit of queued work. run executes after every event in
// wait has settled; ev, when set, tracks the command's completion.
// abort, when set, runs instead of run if the command never gets to
// execute, so resources claimed at enqueue time are not stranded.
type command struct {
	ev    *event
	wait  []driver.Event
	run   func(ctx context.Context) error
	abort func()
}

// queue executes commands against the device. In-order queues drain a
// FIFO with a single worker goroutine; out-of-order queues dispatch
// every command to a shared worker pool and order comes from wait
// lists alone.
type queue struct {
	id      uint64
	device  *Device
	inOrder bool

	tasks   *queuepkg.Queue // in-order command stream
	pool    *ants.Pool      // out-of-order dispatch
	limiter *rate.Limiter   // nil when transfers are unthrottled

	ctx    context.Context // queue lifetime, canceled by Close
	cancel context.CancelFunc

	mappings cmap.ConcurrentMap[uint64, *mapping]
	inflight sync.WaitGroup // commands accepted but not yet settled
	workerWg sync.WaitGroup
	closed   atomic.Bool
}

func newQueue(d *Device, cfg driver.QueueConfig) (*queue, error) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &queue{
		id:       d.nextID.Add(1),
		device:   d,
		inOrder:  cfg.InOrder,
		ctx:      ctx,
		cancel:   cancel,
		mappings: cmap.NewWithCustomShardingFunction[uint64, *mapping](shardID),
	}

	if d.transferRate > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(d.transferRate), transferBurst)
	}

	if cfg.InOrder {
		q.tasks = queuepkg.New(taskQueueHint)
		q.workerWg.Add(1)
		go q.worker()
	} else {
		pool, err := ants.NewPool(poolSize())
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create worker pool: %w", err)
		}
		q.pool = pool
	}

	return q, nil
}

// poolSize is generous so commands blocked on user events do not starve
// runnable ones.
func poolSize() int {
	n := runtime.NumCPU() * 16
	if n < 64 {
		n = 64
	}
	return n
}

// ID returns the queue's identity within the device.
func (q *queue) ID() uint64 { return q.id }

// worker drains the in-order task queue until it is disposed.
func (q *queue) worker() {
	defer q.workerWg.Done()

	for {
		items, err := q.tasks.Get(1)
		if err != nil {
			return // disposed
		}
		cmd, ok := items[0].(*command)
		if !ok {
			continue
		}
		q.execute(cmd)
	}
}

// submit hands a command to the execution machinery.
func (q *queue) submit(cmd *command) error {
	q.inflight.Add(1)
	if cmd.ev != nil {
		cmd.ev.setStatus(driver.StatusSubmitted)
	}

	if q.inOrder {
		if err := q.tasks.Put(cmd); err != nil {
			q.inflight.Done()
			return driver.ErrQueueClosed
		}
		return nil
	}

	if err := q.pool.Submit(func() { q.execute(cmd) }); err != nil {
		q.inflight.Done()
		return driver.ErrQueueClosed
	}
	return nil
}

// execute runs one command on a worker goroutine and settles its event.
func (q *queue) execute(cmd *command) {
	defer q.inflight.Done()

	if err := q.awaitList(cmd.wait); err != nil {
		if cmd.abort != nil {
			cmd.abort()
		}
		q.settleCommand(cmd, err)
		return
	}
	if cmd.ev != nil {
		cmd.ev.setStatus(driver.StatusRunning)
	}
	q.settleCommand(cmd, cmd.run(q.ctx))
}

func (q *queue) settleCommand(cmd *command, err error) {
	if cmd.ev == nil {
		return
	}
	if err != nil {
		cmd.ev.settle(driver.StatusFailed, err)
	} else {
		cmd.ev.settle(driver.StatusComplete, nil)
	}
}

// awaitList blocks until every wait event settles. A failed or
// unreachable dependency fails the dependent command.
func (q *queue) awaitList(wait []driver.Event) error {
	for _, ev := range wait {
		if ev == nil {
			continue
		}
		if err := ev.Wait(q.ctx); err != nil {
			return fmt.Errorf("wait event %d: %w", ev.ID(), err)
		}
	}
	return nil
}

// throttle models transfer bandwidth by draining limiter tokens, one
// burst-sized chunk at a time.
func (q *queue) throttle(ctx context.Context, n int) error {
	if q.limiter == nil {
		return nil
	}
	for n > 0 {
		chunk := n
		if chunk > transferBurst {
			chunk = transferBurst
		}
		if err := q.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// EnqueueMap maps a buffer region into staging memory. The call blocks
// until the command ran and the region is host-visible.
func (q *queue) EnqueueMap(ctx context.Context, req driver.MapRequest) (driver.Mapping, error) {
	if q.closed.Load() {
		return nil, driver.ErrQueueClosed
	}
	b, ok := req.Buffer.(*buffer)
	if !ok || b.device != q.device {
		return nil, driver.ErrInvalidHandle
	}
	if b.released.Load() {
		return nil, driver.ErrInvalidHandle
	}
	if req.OffsetBytes < 0 || req.LengthBytes <= 0 || req.OffsetBytes+req.LengthBytes > b.size {
		return nil, driver.ErrOutOfRange
	}

	var m *mapping
	ev := newEvent(q.device.nextID.Add(1))
	cmd := &command{
		ev:   ev,
		wait: req.WaitList,
		run: func(ctx context.Context) error {
			mm, err := q.mapIn(ctx, b, req)
			if err != nil {
				return err
			}
			m = mm
			return nil
		},
	}
	if err := q.submit(cmd); err != nil {
		return nil, err
	}

	if err := ev.Wait(ctx); err != nil {
		// The command may still run after the caller gave up; discard
		// the orphaned mapping once it settles.
		go func() {
			<-ev.done
			if m != nil {
				if mm, ok := q.mappings.Pop(m.id); ok {
					_ = mm.staging.Close()
				}
			}
		}()
		return nil, err
	}
	return m, nil
}

// mapIn performs the map command: allocate staging memory and copy the
// region in. Runs on a worker goroutine.
func (q *queue) mapIn(ctx context.Context, b *buffer, req driver.MapRequest) (*mapping, error) {
	offset, err := conv.Int64ToInt(req.OffsetBytes)
	if err != nil {
		return nil, err
	}
	length, err := conv.Int64ToInt(req.LengthBytes)
	if err != nil {
		return nil, err
	}

	if err := q.throttle(ctx, length); err != nil {
		return nil, err
	}

	staging, err := hostmem.Alloc(length, q.device.pinStaging)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate staging memory: %w", err)
	}

	b.mu.RLock()
	data := b.bytes()
	if data == nil {
		b.mu.RUnlock()
		_ = staging.Close()
		return nil, driver.ErrInvalidHandle
	}
	copy(staging.Bytes(), data[offset:offset+length])
	b.mu.RUnlock()

	m := &mapping{
		id:      q.device.nextID.Add(1),
		buffer:  b,
		offset:  offset,
		length:  length,
		flags:   req.Flags,
		staging: staging,
	}
	q.mappings.Set(m.id, m)
	return m, nil
}

// EnqueueUnmap submits the unmap command for a mapping and returns
// immediately. The mapping is claimed here, synchronously, so a second
// unmap of the same mapping fails with ErrDoubleUnmap no matter how the
// commands interleave.
func (q *queue) EnqueueUnmap(ctx context.Context, buf driver.Buffer, dm driver.Mapping, wait []driver.Event, wantEvent bool) (driver.Event, error) {
	if q.closed.Load() {
		return nil, driver.ErrQueueClosed
	}
	m, ok := dm.(*mapping)
	if !ok {
		return nil, driver.ErrInvalidHandle
	}
	if b, ok := buf.(*buffer); !ok || b != m.buffer {
		return nil, driver.ErrInvalidHandle
	}
	if _, claimed := q.mappings.Pop(m.id); !claimed {
		return nil, driver.ErrDoubleUnmap
	}

	var ev *event
	if wantEvent {
		ev = newEvent(q.device.nextID.Add(1))
	}
	cmd := &command{
		ev:   ev,
		wait: wait,
		run: func(ctx context.Context) error {
			return q.unmapOut(ctx, m)
		},
		abort: func() { _ = m.staging.Close() },
	}
	if err := q.submit(cmd); err != nil {
		// The command never entered the queue; restore the claim so the
		// mapping can still be unmapped later.
		q.mappings.Set(m.id, m)
		return nil, err
	}

	if ev == nil {
		return nil, nil
	}
	return ev, nil
}

// unmapOut performs the unmap command: copy writable staging bytes back
// into the buffer and free the staging memory. Runs on a worker
// goroutine.
func (q *queue) unmapOut(ctx context.Context, m *mapping) error {
	if err := q.throttle(ctx, m.length); err != nil {
		_ = m.staging.Close()
		return err
	}

	if m.flags&driver.MapWrite != 0 {
		b := m.buffer
		b.mu.RLock()
		if data := b.bytes(); data != nil {
			copy(data[m.offset:m.offset+m.length], m.staging.Bytes())
		}
		b.mu.RUnlock()
	}
	return m.staging.Close()
}

// Finish blocks until every command enqueued so far has settled.
func (q *queue) Finish(ctx context.Context) error {
	if q.closed.Load() {
		return driver.ErrQueueClosed
	}

	if q.inOrder {
		// A marker command; once it ran, everything before it ran.
		ev := newEvent(q.device.nextID.Add(1))
		cmd := &command{ev: ev, run: func(context.Context) error { return nil }}
		if err := q.submit(cmd); err != nil {
			return err
		}
		return ev.Wait(ctx)
	}

	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue: commands already running finish (their
// transfers abort), commands still queued fail with ErrQueueClosed, and
// staging memory of mappings that were never unmapped is reclaimed.
// Close is idempotent.
func (q *queue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}

	q.cancel()

	if q.inOrder {
		// Commands still in the disposed queue never reach the worker;
		// fail their events so waiters unblock.
		for _, item := range q.tasks.Dispose() {
			if cmd, ok := item.(*command); ok {
				if cmd.abort != nil {
					cmd.abort()
				}
				q.settleCommand(cmd, driver.ErrQueueClosed)
				q.inflight.Done()
			}
		}
		q.workerWg.Wait()
	} else {
		q.pool.Release()
	}

	q.inflight.Wait()

	for item := range q.mappings.IterBuffered() {
		_ = item.Val.staging.Close()
	}
	q.mappings.Clear()

	q.device.queues.Remove(q.id)
	return nil
}
