// Package fs abstracts the file operations of the trace recorder for
// testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: An open trace file with read/write/seek/sync capabilities
//   - [FileSystem]: The operations needed to place and open trace files
//
// # Implementations
//
//   - [LocalFS]: Production implementation using the standard os package
//   - [FaultyFS]: Test utility that injects I/O errors by file pattern
//
// Production code uses fs.Default (which is [LocalFS]):
//
//	file, err := fs.Default.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
//
// Tests inject [FaultyFS] to exercise failure paths:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".trace", fs.Fault{FailOnSync: true, Err: errDiskFull})
//	// inject ffs into component under test
//
// The package intentionally takes no context.Context: local file
// operations are not interruptible at the syscall level.
package fs
