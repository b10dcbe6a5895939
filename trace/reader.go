package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/math-rock/ocl/internal/fs"
)

// Reader replays records from a trace file in recorded order.
type Reader struct {
	file           fs.File
	reader         io.Reader
	decompressor   *zstd.Decoder
	compressed     bool
	capturePayload bool
}

// Open opens a trace file for replay.
//
// filePath is the trace file itself, not the directory it lives in.
func Open(filePath string) (*Reader, error) {
	file, err := fs.Default.OpenFile(filePath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	hdrInfo, valid, err := readTraceHeader(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if !valid {
		_ = file.Close()
		return nil, fmt.Errorf("invalid trace file: missing header")
	}

	if _, err := file.Seek(hdrInfo.HeaderLen, 0); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to seek trace data offset: %w", err)
	}

	r := &Reader{
		file:           file,
		compressed:     hdrInfo.Compressed,
		capturePayload: hdrInfo.CapturePayload,
	}

	if r.compressed {
		decompressor, err := zstd.NewReader(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create decompressor: %w", err)
		}
		r.decompressor = decompressor
		r.reader = decompressor
	} else {
		r.reader = bufio.NewReader(file)
	}

	return r, nil
}

// CapturesPayload reports whether the trace was recorded with payload
// capture enabled.
func (r *Reader) CapturesPayload() bool {
	return r.capturePayload
}

// Next returns the next record in the trace.
//
// It returns io.EOF after the last record. A torn trailing record, as
// left behind by a crashed recorder, also ends the stream. A record
// whose checksum does not match yields an error wrapping ErrCorrupt.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := decodeRecord(r.reader, &rec); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to decode trace record: %w", err)
	}
	return rec, nil
}

// Records reads all remaining records in the trace.
func (r *Reader) Records() ([]Record, error) {
	var records []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

// Close closes the trace file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	if r.decompressor != nil {
		r.decompressor.Close()
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// ReadAll opens a trace file and returns every record in it.
func ReadAll(filePath string) ([]Record, error) {
	r, err := Open(filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return r.Records()
}
