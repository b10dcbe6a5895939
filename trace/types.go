package trace

import (
	"time"

	"github.com/math-rock/ocl/internal/fs"
)

// FlushMode defines when buffered records reach the trace file.
type FlushMode int

const (
	// FlushAsync represents asynchronous flushing.
	// Records stay buffered until Close or an explicit Flush. Fastest,
	// but a crash loses everything still in the buffer.
	FlushAsync FlushMode = iota

	// FlushGrouped represents grouped flushing.
	// A background worker flushes at regular intervals, or earlier when
	// enough records accumulate. Amortizes flush cost across records.
	// Recommended for most workloads.
	FlushGrouped

	// FlushSync represents synchronous flushing.
	// Every record is flushed and fsynced before Record returns.
	// Slowest but loses nothing on crash. Use when replaying a crash
	// is the whole point of the trace.
	FlushSync
)

// Op represents the type of command in the trace.
type Op uint8

const (
	// OpMap represents a map command.
	OpMap Op = iota
	// OpUnmap represents an unmap command.
	OpUnmap
	// OpFinish represents a queue finish.
	OpFinish
)

// String returns a human-readable operation name.
func (o Op) String() string {
	switch o {
	case OpMap:
		return "map"
	case OpUnmap:
		return "unmap"
	case OpFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// Record is a single command in the trace.
//
// Seq and UnixNano are assigned by the Recorder when the record is
// written; values set by the caller are overwritten.
type Record struct {
	Op        Op
	Seq       uint64 // Sequence number for ordering
	UnixNano  int64  // Wall-clock capture time
	QueueID   uint64
	BufferID  uint64
	MappingID uint64
	EventID   uint64   // 0 when the command produced no completion event
	Wait      []uint64 // Event IDs the command waited on
	Payload   []byte   // Mapped bytes at unmap time, when capture is enabled
}

// Options contains configuration for the trace recorder.
type Options struct {
	// Path is the directory where the trace file is stored.
	Path string

	// FS is the file system the recorder writes through. Nil means the
	// local file system; tests inject a faulty one to exercise error
	// paths.
	FS fs.FileSystem

	// Compress enables zstd stream compression of the record stream.
	// Traces of large workloads shrink considerably; replay is slightly
	// slower.
	Compress bool

	// CompressionLevel sets the zstd compression level (1-22).
	// Default (3) provides good balance. Higher = better compression but slower.
	CompressionLevel int

	// CapturePayload stores a copy of the mapped bytes in every unmap
	// record. This makes traces self-contained for replay but grows them
	// by the size of each mapped region. Payloads are LZ4 block
	// compressed independently of Compress.
	CapturePayload bool

	// FlushMode controls flush behavior (Async, Grouped, Sync).
	// Default is FlushGrouped.
	FlushMode FlushMode

	// GroupFlushInterval is the maximum time a record stays buffered in
	// FlushGrouped mode.
	// Default: 10ms
	GroupFlushInterval time.Duration

	// GroupFlushMaxRecords is the maximum records to buffer before an
	// immediate flush in FlushGrouped mode.
	// Default: 100 records
	GroupFlushMaxRecords int
}

// DefaultOptions returns default trace options.
var DefaultOptions = Options{
	Path:                 ".",
	Compress:             false,
	CompressionLevel:     3, // zstd default level
	CapturePayload:       false,
	FlushMode:            FlushGrouped,
	GroupFlushInterval:   10 * time.Millisecond,
	GroupFlushMaxRecords: 100,
}
