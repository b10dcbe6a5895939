// Package trace provides a binary command log for queue debugging and replay.
//
// A Recorder appends one record per map, unmap, and finish command to a
// single trace file. Records carry the queue, buffer, mapping, and event
// IDs involved, the wait list of the command, and optionally a copy of
// the mapped bytes at unmap time, so a trace can reconstruct the exact
// command stream an application issued.
//
// Features:
//   - Self-describing file header (compression and capture settings)
//   - Optional zstd stream compression of the record stream
//   - LZ4 block compression of captured payloads
//   - Configurable flush behavior for performance vs completeness tradeoff
//   - Sequential ordering via sequence numbers
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/math-rock/ocl/internal/fs"
)

// traceFileName is the file created under Options.Path.
const traceFileName = "ocl.trace"

// ErrClosed is returned when recording to a closed recorder.
var ErrClosed = errors.New("trace recorder is closed")

// Recorder appends command records to a trace file.
type Recorder struct {
	mu               sync.Mutex
	file             fs.File
	writer           io.Writer     // May be compressed or direct
	bufWriter        *bufio.Writer // Buffered writer for performance
	compressor       *zstd.Encoder
	decompressor     *zstd.Decoder
	seq              uint64
	filePath         string
	compressed       bool
	compressionLevel int
	capturePayload   bool
	dataOffset       int64 // start of record stream (after header)

	// Grouped flush support (background goroutine lifecycle)
	flushMode       FlushMode
	flushInterval   time.Duration
	flushMaxRecords int
	flushTicker     *time.Ticker
	flushStopCh     chan struct{}  // Shutdown signal for worker goroutine
	flushPending    int            // Records since last flush
	flushWg         sync.WaitGroup // Tracks worker goroutine lifecycle
}

// FilePath returns the path to the trace file.
func (r *Recorder) FilePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filePath
}

// New creates a new trace recorder.
//
// Opening an existing trace file appends to it; the compression and
// payload capture settings recorded in its header take precedence over
// the options.
func New(optFns ...func(o *Options)) (*Recorder, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.Default
	}

	// Ensure directory exists
	if err := fsys.MkdirAll(opts.Path, 0750); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}

	filePath := filepath.Join(opts.Path, traceFileName)

	// Open or create the trace file (we manage seek explicitly)
	file, err := fsys.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat trace file: %w", err)
	}

	r := &Recorder{
		file:             file,
		filePath:         filePath,
		compressionLevel: opts.CompressionLevel,
		capturePayload:   opts.CapturePayload,
		flushMode:        opts.FlushMode,
		flushInterval:    opts.GroupFlushInterval,
		flushMaxRecords:  opts.GroupFlushMaxRecords,
	}

	if err := r.initializeFile(st, opts); err != nil {
		_ = file.Close()
		return nil, err
	}

	// Position at the start of the record stream before initializing codecs.
	if _, err := r.file.Seek(r.dataOffset, 0); err != nil {
		_ = r.file.Close()
		return nil, fmt.Errorf("failed to seek trace data offset: %w", err)
	}

	// Set up compression if enabled
	if r.compressed {
		level := zstd.EncoderLevelFromZstd(r.compressionLevel)
		compressor, err := zstd.NewWriter(r.file, zstd.WithEncoderLevel(level))
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create compressor: %w", err)
		}
		r.compressor = compressor
		r.bufWriter = bufio.NewWriter(compressor)
		r.writer = r.bufWriter

		// Create decompressor for the open-time scan
		decompressor, err := zstd.NewReader(nil)
		if err != nil {
			_ = compressor.Close()
			_ = file.Close()
			return nil, fmt.Errorf("failed to create decompressor: %w", err)
		}
		r.decompressor = decompressor
	} else {
		// No compression - use buffered writer directly
		r.bufWriter = bufio.NewWriter(r.file)
		r.writer = r.bufWriter
	}

	// Read existing records to determine the next sequence number
	if err := r.scanForSeq(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to scan trace: %w", err)
	}

	// Start flush goroutine if in grouped mode
	if r.flushMode == FlushGrouped && r.flushInterval > 0 {
		r.flushStopCh = make(chan struct{})
		r.flushTicker = time.NewTicker(r.flushInterval)
		r.flushWg.Add(1)
		go r.flushWorker()
	}

	return r, nil
}

// initializeFile handles the file opening and initialization logic for the trace.
func (r *Recorder) initializeFile(info os.FileInfo, opts Options) error {
	if info.Size() == 0 {
		return r.writeNewHeader(opts)
	}
	return r.readExistingHeader()
}

func (r *Recorder) writeNewHeader(opts Options) error {
	hdrLen, err := writeTraceHeader(r.file, traceHeaderInfo{
		Compressed:       opts.Compress,
		CompressionLevel: opts.CompressionLevel,
		CapturePayload:   opts.CapturePayload,
	})
	if err != nil {
		return fmt.Errorf("failed to write trace header: %w", err)
	}
	r.dataOffset = hdrLen
	r.compressed = opts.Compress
	return nil
}

func (r *Recorder) readExistingHeader() error {
	hdrInfo, valid, err := readTraceHeader(r.file)
	if err != nil {
		return fmt.Errorf("failed to read trace header: %w", err)
	}
	if !valid {
		return fmt.Errorf("invalid trace header")
	}
	r.dataOffset = hdrInfo.HeaderLen
	r.compressed = hdrInfo.Compressed
	r.compressionLevel = hdrInfo.CompressionLevel
	r.capturePayload = hdrInfo.CapturePayload
	return nil
}

// CapturesPayload reports whether unmap records carry a copy of the
// mapped bytes. Fixed for the lifetime of the trace file.
func (r *Recorder) CapturesPayload() bool {
	return r.capturePayload
}

// Record appends one record to the trace.
//
// Seq and UnixNano are assigned here; any values the caller set are
// overwritten. The payload is dropped unless the recorder captures
// payloads.
func (r *Recorder) Record(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return ErrClosed
	}

	r.seq++
	rec.Seq = r.seq
	rec.UnixNano = time.Now().UnixNano()
	if !r.capturePayload {
		rec.Payload = nil
	}

	if err := encodeRecord(r.writer, &rec); err != nil {
		return fmt.Errorf("failed to encode trace record: %w", err)
	}

	return r.flushIfNeeded()
}

// Flush forces buffered records out to the file.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return ErrClosed
	}

	r.flushPending = 0
	return r.flushLocked()
}

// flushIfNeeded pushes buffered records toward the file based on the
// configured flush mode.
//
// Unlike a durability log, recording must never stall the command path,
// so grouped mode only counts the record and lets the worker (or the
// batch threshold) do the flushing; it does not block until the flush
// happened.
func (r *Recorder) flushIfNeeded() error {
	switch r.flushMode {
	case FlushAsync:
		// No flush - fastest but records sit in the buffer until Close
		return nil

	case FlushSync:
		// Immediate flush and fsync - slowest but loses nothing
		if err := r.flushLocked(); err != nil {
			return err
		}
		return r.file.Sync()

	case FlushGrouped:
		r.flushPending++

		// Trigger immediate flush if batch size threshold reached
		if r.flushPending >= r.flushMaxRecords {
			return r.doGroupFlush()
		}
		return nil

	default:
		return nil
	}
}

// doGroupFlush performs the actual flush and resets the pending counter.
// Caller must hold r.mu.
func (r *Recorder) doGroupFlush() error {
	if r.flushPending == 0 {
		return nil
	}

	if err := r.flushLocked(); err != nil {
		return err
	}

	r.flushPending = 0
	return nil
}

func (r *Recorder) flushLocked() error {
	if err := r.bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if r.compressed {
		if err := r.compressor.Flush(); err != nil {
			return fmt.Errorf("failed to flush compressor: %w", err)
		}
	}
	return nil
}

// flushWorker runs in a background goroutine and performs periodic flushes.
func (r *Recorder) flushWorker() {
	defer r.flushWg.Done()

	// Safety check: ticker must exist
	if r.flushTicker == nil {
		return
	}

	for {
		select {
		case <-r.flushStopCh:
			// Final flush before shutdown
			r.mu.Lock()
			_ = r.doGroupFlush()
			r.mu.Unlock()
			return

		case <-r.flushTicker.C:
			r.mu.Lock()
			_ = r.doGroupFlush()
			r.mu.Unlock()
		}
	}
}

// scanForSeq scans the trace to find the highest sequence number and
// drops any torn tail record a crashed recorder left behind.
func (r *Recorder) scanForSeq() error {
	// Seek to the start of the record stream for reading
	if _, err := r.file.Seek(r.dataOffset, 0); err != nil {
		return err
	}

	var reader io.Reader
	if r.compressed {
		// Reset decompressor for the file
		if err := r.decompressor.Reset(r.file); err != nil {
			return fmt.Errorf("failed to reset decompressor: %w", err)
		}
		reader = r.decompressor
	} else {
		reader = r.file
	}

	var maxSeq uint64
	lastGood := r.dataOffset

	for {
		var rec Record
		if err := decodeRecord(reader, &rec); err != nil {
			// Clean EOF or a torn/corrupt tail - stop here either way
			break
		}
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
		if !r.compressed {
			// The unbuffered read position is the end of the last intact
			// record.
			pos, err := r.file.Seek(0, io.SeekCurrent)
			if err != nil {
				return err
			}
			lastGood = pos
		}
	}

	r.seq = maxSeq

	if !r.compressed {
		// Truncate a torn tail so appended records stay reachable. Inside
		// a compressed stream the cut cannot land on a frame boundary, so
		// those traces keep their tail.
		st, err := r.file.Stat()
		if err != nil {
			return err
		}
		if st.Size() > lastGood {
			if err := r.file.Truncate(lastGood); err != nil {
				return fmt.Errorf("failed to truncate torn trace tail: %w", err)
			}
		}
	}

	// Seek back to end for appending
	if _, err := r.file.Seek(0, 2); err != nil {
		return err
	}

	return nil
}

// Close closes the trace file gracefully.
//
// This method:
// 1. Signals the flush worker to stop (if running)
// 2. Waits for the worker to finish (ensuring clean shutdown)
// 3. Flushes any buffered records
// 4. Closes the file
//
// After Close() returns, the recorder is no longer usable.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check if already closed (idempotency)
	if r.file == nil {
		return nil
	}

	// Stop flush worker if running (only once)
	if r.flushTicker != nil {
		// Signal worker to stop first
		close(r.flushStopCh)
		r.mu.Unlock()
		r.flushWg.Wait() // Wait for worker to finish (ensures no goroutine leak)
		r.mu.Lock()
		// Now safe to stop and nil the ticker
		r.flushTicker.Stop()
		r.flushTicker = nil
	}

	// Flush bufWriter before closing
	if r.bufWriter != nil {
		if err := r.bufWriter.Flush(); err != nil {
			return fmt.Errorf("failed to flush buffer: %w", err)
		}
	}

	// Close compressor if using compression
	if r.compressed && r.compressor != nil {
		if err := r.compressor.Close(); err != nil {
			return fmt.Errorf("failed to close compressor: %w", err)
		}
	}

	// Close decompressor if it exists
	if r.decompressor != nil {
		r.decompressor.Close()
	}

	err := r.file.Close()
	r.file = nil // Mark as closed
	return err
}
