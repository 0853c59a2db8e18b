package translog

import (
	"os"
	"path/filepath"
	"testing"

	"translog/pkg/tlerrors"
)

// sealGeneration writes the given ops into a fresh generation file and
// returns its reader.
func sealGeneration(t *testing.T, dir string, gen int64, uuid string, ops []Operation) *Reader {
	t.Helper()
	w, err := newWriter(filepath.Join(dir, generationFileName(gen)), gen, uuid, 4096, nil)
	if err != nil {
		t.Fatalf("newWriter failed: %v", err)
	}
	for _, op := range ops {
		if _, err := w.Add(op); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	r, err := w.closeIntoReader()
	if err != nil {
		t.Fatalf("closeIntoReader failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestReaderRejectsUUIDMismatch(t *testing.T) {
	dir := t.TempDir()
	r := sealGeneration(t, dir, 1, "uuid-a", []Operation{{SeqNo: 0, Term: 1, Op: OpIndex}})
	_ = r.Close()

	_, err := openReader(filepath.Join(dir, generationFileName(1)), "uuid-b", false)
	if !tlerrors.IsCorruption(err) {
		t.Fatalf("expected CorruptionError for uuid mismatch, got %v", err)
	}
}

func TestReaderRejectsGarbageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, generationFileName(1))
	if err := os.WriteFile(path, []byte("this is not a translog file at all"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := openReader(path, "", false)
	if !tlerrors.IsCorruption(err) {
		t.Fatalf("expected CorruptionError for garbage file, got %v", err)
	}
}

func TestReaderTruncatesPartialTail(t *testing.T) {
	dir := t.TempDir()
	r := sealGeneration(t, dir, 1, "uuid-a", []Operation{
		{SeqNo: 0, Term: 1, Op: OpIndex, Payload: []byte("a")},
		{SeqNo: 1, Term: 1, Op: OpIndex, Payload: []byte("b")},
	})
	validSize := r.SizeInBytes()
	_ = r.Close()

	// Simulate a crash mid-append: half a record at the end of the file.
	path := filepath.Join(dir, generationFileName(1))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if _, err := f.Write([]byte{42, 0, 0, 0, 1, 2, 3}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = f.Close()

	// Without tail recovery the file is corrupt.
	if _, err := openReader(path, "uuid-a", false); !tlerrors.IsCorruption(err) {
		t.Fatalf("expected CorruptionError, got %v", err)
	}

	// With tail recovery the partial record is dropped.
	recovered, err := openReader(path, "uuid-a", true)
	if err != nil {
		t.Fatalf("openReader with tail recovery failed: %v", err)
	}
	defer recovered.Close()

	if recovered.TotalOperations() != 2 {
		t.Fatalf("expected 2 ops after recovery, got %d", recovered.TotalOperations())
	}
	if recovered.SizeInBytes() != validSize {
		t.Fatalf("expected size %d after truncation, got %d", validSize, recovered.SizeInBytes())
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != validSize {
		t.Fatalf("file not physically truncated: %d vs %d", info.Size(), validSize)
	}
}

func TestSnapshotExhaustionIsStable(t *testing.T) {
	dir := t.TempDir()
	r := sealGeneration(t, dir, 1, "uuid-a", []Operation{{SeqNo: 0, Term: 1, Op: OpIndex}})

	snap := r.newSnapshot(0, -1, 0)
	op, err := snap.Next()
	if err != nil || op == nil {
		t.Fatalf("expected one op, got op=%v err=%v", op, err)
	}
	for i := 0; i < 3; i++ {
		op, err := snap.Next()
		if err != nil {
			t.Fatalf("Next after exhaustion failed: %v", err)
		}
		if op != nil {
			t.Fatalf("expected exhausted snapshot, got op %+v", op)
		}
	}
}

func TestSnapshotNextAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	r := sealGeneration(t, dir, 1, "uuid-a", []Operation{{SeqNo: 0, Term: 1, Op: OpIndex}})

	snap := r.newSnapshot(0, -1, 0)
	_ = snap.Close()
	if _, err := snap.Next(); err != tlerrors.ErrSnapshotClosed {
		t.Fatalf("expected ErrSnapshotClosed, got %v", err)
	}
}

func TestSnapshotSkipsBelowFromSeqNo(t *testing.T) {
	dir := t.TempDir()
	r := sealGeneration(t, dir, 1, "uuid-a", []Operation{
		{SeqNo: 0, Term: 1, Op: OpIndex},
		{SeqNo: 1, Term: 1, Op: OpIndex},
		{SeqNo: 2, Term: 1, Op: OpIndex},
	})

	snap := r.newSnapshot(2, -1, 0)
	op, err := snap.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if op == nil || op.SeqNo != 2 {
		t.Fatalf("expected seq-no 2, got %+v", op)
	}
	if snap.SkippedOperations() != 2 {
		t.Fatalf("expected 2 skipped, got %d", snap.SkippedOperations())
	}
	if snap.TotalOperations() != 3 {
		t.Fatalf("expected 3 total, got %d", snap.TotalOperations())
	}
}
