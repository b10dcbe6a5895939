package trace

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/math-rock/ocl/internal/conv"
	"github.com/math-rock/ocl/internal/hash"
)

// ErrCorrupt is returned when a record fails its checksum. A torn tail
// left by a crashed recorder is reported as end of stream instead.
var ErrCorrupt = errors.New("corrupt trace record")

// encodeRecord writes a record as a checksummed frame.
// Frame: [BodyLen:4][CRC32C:4][Body], where the checksum covers Body.
// Body: [Op:1][Seq:8][UnixNano:8][QueueID:8][BufferID:8][MappingID:8][EventID:8]
// [WaitLen:4][Wait:N*8][PayloadRawLen:4][PayloadStoredLen:4][Payload:N]
//
// A stored length of zero means the payload bytes are written uncompressed;
// a raw length of zero means the record carries no payload at all.
func encodeRecord(w io.Writer, rec *Record) error {
	var body bytes.Buffer
	if err := encodeBody(&body, rec); err != nil {
		return err
	}

	bodyLen, err := conv.IntToUint32(body.Len())
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, bodyLen); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, hash.CRC32C(body.Bytes())); err != nil {
		return err
	}
	_, err = w.Write(body.Bytes())
	return err
}

func encodeBody(w io.Writer, rec *Record) error {
	// Operation type (1 byte)
	if err := binary.Write(w, binary.LittleEndian, rec.Op); err != nil {
		return err
	}

	// Sequence number (8 bytes)
	if err := binary.Write(w, binary.LittleEndian, rec.Seq); err != nil {
		return err
	}

	// Capture time (8 bytes)
	if err := binary.Write(w, binary.LittleEndian, rec.UnixNano); err != nil {
		return err
	}

	// Object IDs (8 bytes each)
	if err := binary.Write(w, binary.LittleEndian, rec.QueueID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, rec.BufferID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, rec.MappingID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, rec.EventID); err != nil {
		return err
	}

	// Wait list (4 bytes length + N * 8 bytes)
	waitLen, err := conv.IntToUint32(len(rec.Wait))
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, waitLen); err != nil {
		return err
	}
	if waitLen > 0 {
		if err := binary.Write(w, binary.LittleEndian, rec.Wait); err != nil {
			return err
		}
	}

	return encodePayload(w, rec.Payload)
}

// encodePayload writes the payload as an LZ4 block with a size prefix,
// falling back to the raw bytes when compression does not pay off.
func encodePayload(w io.Writer, payload []byte) error {
	rawLen, err := conv.IntToUint32(len(payload))
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, rawLen); err != nil {
		return err
	}
	if rawLen == 0 {
		return binary.Write(w, binary.LittleEndian, uint32(0))
	}

	compressed := compressPayload(payload)
	if compressed == nil {
		// Stored uncompressed
		if err := binary.Write(w, binary.LittleEndian, uint32(0)); err != nil {
			return err
		}
		_, err := w.Write(payload)
		return err
	}

	storedLen, err := conv.IntToUint32(len(compressed))
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, storedLen); err != nil {
		return err
	}
	_, err = w.Write(compressed)
	return err
}

// compressPayload compresses payload with LZ4.
// It returns nil when the payload is incompressible or compression saves
// less than 10 percent, so the caller stores the raw bytes instead.
func compressPayload(payload []byte) []byte {
	bound := lz4.CompressBlockBound(len(payload))
	compressed := make([]byte, bound)

	n, err := lz4.CompressBlock(payload, compressed, nil)
	if err != nil || n == 0 {
		return nil
	}
	if float64(n) > float64(len(payload))*0.9 {
		return nil
	}
	return compressed[:n]
}

// decodeRecord reads one checksummed frame.
//
// io.EOF means a clean end of stream; io.ErrUnexpectedEOF a frame cut
// short (torn tail); ErrCorrupt a complete frame whose checksum does
// not match.
func decodeRecord(reader io.Reader, rec *Record) error {
	var bodyLen, sum uint32
	if err := binary.Read(reader, binary.LittleEndian, &bodyLen); err != nil {
		return err
	}
	if err := binary.Read(reader, binary.LittleEndian, &sum); err != nil {
		return eofTorn(err)
	}

	n, err := conv.Uint32ToInt(bodyLen)
	if err != nil {
		return err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(reader, body); err != nil {
		return eofTorn(err)
	}
	if hash.CRC32C(body) != sum {
		return ErrCorrupt
	}

	return decodeBody(bytes.NewReader(body), rec)
}

// eofTorn maps a mid-frame EOF to ErrUnexpectedEOF so callers can tell a
// torn tail from a clean end of stream.
func eofTorn(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func decodeBody(reader io.Reader, rec *Record) error {
	// Operation type (1 byte)
	if err := binary.Read(reader, binary.LittleEndian, &rec.Op); err != nil {
		return err
	}

	// Sequence number (8 bytes)
	if err := binary.Read(reader, binary.LittleEndian, &rec.Seq); err != nil {
		return err
	}

	// Capture time (8 bytes)
	if err := binary.Read(reader, binary.LittleEndian, &rec.UnixNano); err != nil {
		return err
	}

	// Object IDs (8 bytes each)
	if err := binary.Read(reader, binary.LittleEndian, &rec.QueueID); err != nil {
		return err
	}
	if err := binary.Read(reader, binary.LittleEndian, &rec.BufferID); err != nil {
		return err
	}
	if err := binary.Read(reader, binary.LittleEndian, &rec.MappingID); err != nil {
		return err
	}
	if err := binary.Read(reader, binary.LittleEndian, &rec.EventID); err != nil {
		return err
	}

	// Wait list
	var waitLen uint32
	if err := binary.Read(reader, binary.LittleEndian, &waitLen); err != nil {
		return err
	}
	if waitLen > 0 {
		n, err := conv.Uint32ToInt(waitLen)
		if err != nil {
			return err
		}
		rec.Wait = make([]uint64, n)
		if err := binary.Read(reader, binary.LittleEndian, rec.Wait); err != nil {
			return err
		}
	}

	payload, err := decodePayload(reader)
	if err != nil {
		return err
	}
	rec.Payload = payload
	return nil
}

// decodePayload reads a size-prefixed payload block written by encodePayload.
func decodePayload(reader io.Reader) ([]byte, error) {
	var rawLen, storedLen uint32
	if err := binary.Read(reader, binary.LittleEndian, &rawLen); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.LittleEndian, &storedLen); err != nil {
		return nil, err
	}
	if rawLen == 0 {
		return nil, nil
	}

	if storedLen == 0 {
		// Uncompressed payload
		payload := make([]byte, rawLen)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}

	compressed := make([]byte, storedLen)
	if _, err := io.ReadFull(reader, compressed); err != nil {
		return nil, err
	}
	payload := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(compressed, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	if uint32(n) != rawLen {
		return nil, errors.New("decompressed payload size mismatch")
	}
	return payload, nil
}
