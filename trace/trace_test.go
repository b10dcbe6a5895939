package trace

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/math-rock/ocl/internal/fs"
)

func TestTraceRecorder(t *testing.T) {
	dir := t.TempDir()

	rec, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}

	records := []Record{
		{Op: OpMap, QueueID: 1, BufferID: 10, MappingID: 100},
		{Op: OpUnmap, QueueID: 1, BufferID: 10, MappingID: 100, EventID: 7, Wait: []uint64{3, 4}},
		{Op: OpFinish, QueueID: 1},
	}
	for _, r := range records {
		if err := rec.Record(r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	replayed, err := ReadAll(rec.FilePath())
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(replayed) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(replayed))
	}

	for i, r := range replayed {
		if r.Seq != uint64(i+1) {
			t.Errorf("Record %d: expected seq %d, got %d", i, i+1, r.Seq)
		}
		if r.Op != records[i].Op {
			t.Errorf("Record %d: expected op %v, got %v", i, records[i].Op, r.Op)
		}
		if r.UnixNano == 0 {
			t.Errorf("Record %d: capture time not assigned", i)
		}
	}

	if got := replayed[1].EventID; got != 7 {
		t.Errorf("Expected event ID 7, got %d", got)
	}
	if got := replayed[1].Wait; len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("Wait list did not survive replay: %v", got)
	}
}

func TestTraceCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()

	rec, err := New(func(o *Options) {
		o.Path = dir
		o.Compress = true
		o.CapturePayload = true
	})
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}

	// Repetitive payload exercises the LZ4 path, a short one the raw
	// fallback.
	long := bytes.Repeat([]byte("abcd"), 4096)
	short := []byte{1, 2, 3}

	if err := rec.Record(Record{Op: OpUnmap, MappingID: 1, Payload: long}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Record(Record{Op: OpUnmap, MappingID: 2, Payload: short}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := Open(rec.FilePath())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if !r.CapturesPayload() {
		t.Error("Expected payload capture flag in header")
	}

	replayed, err := r.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(replayed) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(replayed))
	}
	if !bytes.Equal(replayed[0].Payload, long) {
		t.Error("Compressed payload did not survive replay")
	}
	if !bytes.Equal(replayed[1].Payload, short) {
		t.Error("Raw payload did not survive replay")
	}
}

func TestTracePayloadDroppedWithoutCapture(t *testing.T) {
	dir := t.TempDir()

	rec, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}

	if err := rec.Record(Record{Op: OpUnmap, Payload: []byte("secret")}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	replayed, err := ReadAll(rec.FilePath())
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(replayed) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(replayed))
	}
	if replayed[0].Payload != nil {
		t.Errorf("Expected payload to be dropped, got %q", replayed[0].Payload)
	}
}

func TestTraceAppendContinuesSequence(t *testing.T) {
	dir := t.TempDir()

	rec, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	if err := rec.Record(Record{Op: OpMap}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Record(Record{Op: OpUnmap}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen with conflicting options; the header written at creation
	// wins.
	rec, err = New(func(o *Options) {
		o.Path = dir
		o.CapturePayload = true
	})
	if err != nil {
		t.Fatalf("Failed to reopen recorder: %v", err)
	}
	if rec.CapturesPayload() {
		t.Error("Header capture setting should take precedence on reopen")
	}
	if err := rec.Record(Record{Op: OpFinish}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	replayed, err := ReadAll(rec.FilePath())
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(replayed) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(replayed))
	}
	for i, r := range replayed {
		if r.Seq != uint64(i+1) {
			t.Errorf("Record %d: expected seq %d, got %d", i, i+1, r.Seq)
		}
	}
}

func TestTraceFlushSyncVisibleBeforeClose(t *testing.T) {
	dir := t.TempDir()

	rec, err := New(func(o *Options) {
		o.Path = dir
		o.FlushMode = FlushSync
	})
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	defer rec.Close()

	if err := rec.Record(Record{Op: OpMap}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// The record must be on disk while the recorder is still open.
	replayed, err := ReadAll(rec.FilePath())
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(replayed) != 1 {
		t.Errorf("Expected 1 record before Close, got %d", len(replayed))
	}
}

func TestTraceGroupedFlushThreshold(t *testing.T) {
	dir := t.TempDir()

	// Interval long enough that only the batch threshold can flush.
	rec, err := New(func(o *Options) {
		o.Path = dir
		o.FlushMode = FlushGrouped
		o.GroupFlushInterval = time.Hour
		o.GroupFlushMaxRecords = 2
	})
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	defer rec.Close()

	if err := rec.Record(Record{Op: OpMap}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Record(Record{Op: OpUnmap}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	replayed, err := ReadAll(rec.FilePath())
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(replayed) != 2 {
		t.Errorf("Expected threshold flush of 2 records, got %d", len(replayed))
	}
}

func TestTraceRecordAfterClose(t *testing.T) {
	dir := t.TempDir()

	rec, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := rec.Record(Record{Op: OpMap}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	// Double close is a no-op
	if err := rec.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestTraceTornTailTruncatedOnReopen(t *testing.T) {
	dir := t.TempDir()

	rec, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	if err := rec.Record(Record{Op: OpMap}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Record(Record{Op: OpUnmap}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Simulate a crash mid-write: a partial frame at the end of the file.
	f, err := os.OpenFile(rec.FilePath(), os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("Failed to open trace for corruption: %v", err)
	}
	if _, err := f.Write([]byte{0x34, 0x12}); err != nil {
		t.Fatalf("Failed to append torn frame: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen drops the torn tail, so the new record follows the intact
	// ones.
	rec, err = New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to reopen recorder: %v", err)
	}
	if err := rec.Record(Record{Op: OpFinish}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	replayed, err := ReadAll(rec.FilePath())
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(replayed) != 3 {
		t.Fatalf("Expected 3 records after torn tail repair, got %d", len(replayed))
	}
	for i, r := range replayed {
		if r.Seq != uint64(i+1) {
			t.Errorf("Record %d: expected seq %d, got %d", i, i+1, r.Seq)
		}
	}
	if replayed[2].Op != OpFinish {
		t.Errorf("Expected appended record last, got %v", replayed[2].Op)
	}
}

func TestTraceCorruptRecordSurfaces(t *testing.T) {
	dir := t.TempDir()

	rec, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	if err := rec.Record(Record{Op: OpMap, QueueID: 42}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Flip one byte inside the record body; the frame stays complete so
	// only the checksum can catch it.
	data, err := os.ReadFile(rec.FilePath())
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(rec.FilePath(), data, 0600); err != nil {
		t.Fatalf("Failed to write corrupted trace: %v", err)
	}

	_, err = ReadAll(rec.FilePath())
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt, got %v", err)
	}
}

func TestTraceRecordSurfacesWriteFailure(t *testing.T) {
	dir := t.TempDir()

	ffs := fs.NewFaultyFS(nil)
	errDisk := errors.New("disk gone")
	// Enough for the header, not for a record.
	ffs.AddRule(traceFileName, fs.Fault{FailAfterBytes: 20, Err: errDisk})

	rec, err := New(func(o *Options) {
		o.Path = dir
		o.FS = ffs
		o.FlushMode = FlushSync
	})
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	defer rec.Close()

	if err := rec.Record(Record{Op: OpMap}); !errors.Is(err, errDisk) {
		t.Errorf("Expected injected write error, got %v", err)
	}
}

func TestTraceRecordSurfacesSyncFailure(t *testing.T) {
	dir := t.TempDir()

	ffs := fs.NewFaultyFS(nil)
	errSync := errors.New("sync refused")
	ffs.AddRule(traceFileName, fs.Fault{FailAfterBytes: -1, FailOnSync: true, Err: errSync})

	rec, err := New(func(o *Options) {
		o.Path = dir
		o.FS = ffs
		o.FlushMode = FlushSync
	})
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	defer rec.Close()

	if err := rec.Record(Record{Op: OpMap}); !errors.Is(err, errSync) {
		t.Errorf("Expected injected sync error, got %v", err)
	}
}

func TestOpString(t *testing.T) {
	cases := map[Op]string{
		OpMap:    "map",
		OpUnmap:  "unmap",
		OpFinish: "finish",
		Op(99):   "unknown",
	}
	for op, want := range cases {
		if got := op.String(); got != want {
			t.Errorf("Op(%d).String() = %q, want %q", op, got, want)
		}
	}
}
