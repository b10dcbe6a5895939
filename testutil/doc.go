// Package testutil provides a scriptable fake driver for tests.
//
// This package is intended for use in tests only. The fake implements the
// driver interfaces without any execution model: it records every call it
// receives, hands out host-backed mappings, and lets tests control when
// completion events settle and which calls fail.
//
// # Recording
//
//	fd := testutil.NewDevice()
//	q, _ := fd.CreateQueue(driver.QueueConfig{InOrder: true})
//	fq := q.(*testutil.Queue)
//	// ... exercise code under test ...
//	calls := fq.UnmapCalls() // every unmap, with wait list IDs and the event flag
//
// # Manual settlement
//
//	fd := testutil.NewDevice(func(o *testutil.Options) { o.ManualSettle = true })
//	// ... enqueue an unmap that wants an event ...
//	fq.Events()[0].Complete() // the test decides when the command "finishes"
//
// # Failure injection
//
//	fq.FailNextUnmap(errInjected) // the next EnqueueUnmap returns errInjected
//
// The fake performs no data transfer and enforces no ordering: unmap wait
// lists are recorded, not awaited. EnqueueMap is the one exception, since
// its contract is to block on the wait list. For end-to-end behavior tests
// use the emu package instead.
package testutil
