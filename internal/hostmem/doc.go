// Package hostmem provides page-backed host memory for device arenas.
//
// # Overview
//
// An emulated device needs a contiguous, stable block of host memory to stand
// in for device global memory. Allocating it with mmap keeps the block outside
// the Go garbage collector's control, so mapped views handed to callers never
// move, and lets the block be pinned (mlock) the way real drivers pin host
// staging memory.
//
// # Usage
//
//	a, err := hostmem.Alloc(64<<20, true)
//	if err != nil { ... }
//	defer a.Close()
//
//	// Stable backing store for mapped views
//	data := a.Bytes()
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): anonymous private mmap(2), pinned with mlock(2)
//   - Windows: VirtualAlloc with demand paging, pinned with VirtualLock
//
// Pinning is best effort: it can fail under RLIMIT_MEMLOCK or an unprivileged
// process, in which case the arena still works unpinned and Pinned() reports
// false.
//
// # Thread Safety
//
// Bytes() is safe for concurrent use. Close() is idempotent and protected by
// atomic operations, but callers must ensure no goroutine touches the slice
// after Close() returns.
package hostmem
