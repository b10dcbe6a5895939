package trace

import (
	"encoding/binary"
	"fmt"
	"io"
)

var (
	traceMagic          = [4]byte{'O', 'C', 'T', '0'}
	traceHeaderVersion  = uint16(1)
	traceHeaderFixedLen = 16
)

type traceHeaderInfo struct {
	Compressed       bool
	CompressionLevel int
	CapturePayload   bool
	HeaderLen        int64
}

func writeTraceHeader(w io.Writer, info traceHeaderInfo) (int64, error) {
	var flags uint16
	if info.Compressed {
		flags |= 1
	}
	if info.CapturePayload {
		flags |= 2
	}
	level := uint8(0)
	if info.Compressed {
		level = uint8(info.CompressionLevel)
	}

	buf := make([]byte, 0, traceHeaderFixedLen)
	buf = append(buf, traceMagic[:]...)
	var fixed [12]byte
	binary.LittleEndian.PutUint16(fixed[0:2], traceHeaderVersion)
	binary.LittleEndian.PutUint16(fixed[2:4], flags)
	fixed[4] = level
	// fixed[5:12] reserved
	buf = append(buf, fixed[:]...)

	if _, err := w.Write(buf); err != nil {
		return 0, fmt.Errorf("failed to write trace header: %w", err)
	}
	return int64(len(buf)), nil
}

func readTraceHeader(f io.ReadSeeker) (traceHeaderInfo, bool, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return traceHeaderInfo{}, false, fmt.Errorf("failed to seek trace: %w", err)
	}

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		if err == io.EOF {
			return traceHeaderInfo{}, false, nil
		}
		return traceHeaderInfo{}, false, fmt.Errorf("failed to read trace header magic: %w", err)
	}
	if magic != traceMagic {
		return traceHeaderInfo{}, false, fmt.Errorf("unsupported trace format: invalid header magic")
	}

	fixed := make([]byte, traceHeaderFixedLen-4)
	if _, err := io.ReadFull(f, fixed); err != nil {
		return traceHeaderInfo{}, true, fmt.Errorf("failed to read trace header: %w", err)
	}

	version := binary.LittleEndian.Uint16(fixed[0:2])
	if version != traceHeaderVersion {
		return traceHeaderInfo{}, true, fmt.Errorf("unsupported trace header version: %d", version)
	}
	flags := binary.LittleEndian.Uint16(fixed[2:4])
	compressed := (flags & 1) != 0
	capturePayload := (flags & 2) != 0
	level := int(fixed[4])
	// fixed[5:12] reserved

	return traceHeaderInfo{
		Compressed:       compressed,
		CompressionLevel: level,
		CapturePayload:   capturePayload,
		HeaderLen:        int64(traceHeaderFixedLen),
	}, true, nil
}
