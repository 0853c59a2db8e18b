package translog

import (
	"os"
	"path/filepath"
	"testing"

	"translog/pkg/types"
)

func newTestWriter(t *testing.T, dir string, gen types.GenerationID, uuid string) *Writer {
	t.Helper()
	w, err := newWriter(filepath.Join(dir, generationFileName(gen)), gen, uuid, 4096, nil)
	if err != nil {
		t.Fatalf("newWriter failed: %v", err)
	}
	return w
}

// addOps appends sequential ops with the given term and returns the last location.
func addOps(t *testing.T, w *Writer, term types.Term, seqNos ...types.SeqNo) Location {
	t.Helper()
	var last Location
	for _, s := range seqNos {
		loc, err := w.Add(Operation{SeqNo: s, Term: term, Op: OpIndex, Payload: []byte("payload")})
		if err != nil {
			t.Fatalf("Add(seq=%d) failed: %v", s, err)
		}
		last = loc
	}
	return last
}

func TestWriterAddAndSync(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, 1, "test-uuid")
	defer w.Close()

	loc := addOps(t, w, 1, 0, 1, 2)
	if loc.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", loc.Generation)
	}
	if w.NumOps() != 3 {
		t.Fatalf("expected 3 ops, got %d", w.NumOps())
	}

	info, err := w.Sync()
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if info.offset != loc.Offset+loc.Size {
		t.Fatalf("synced offset %d, expected %d", info.offset, loc.Offset+loc.Size)
	}
	if info.minSeqNo != 0 || info.maxSeqNo != 2 {
		t.Fatalf("unexpected seq-no range [%d, %d]", info.minSeqNo, info.maxSeqNo)
	}

	// Already durable, nothing to do.
	synced, _, err := w.SyncUpTo(loc.Offset + loc.Size)
	if err != nil {
		t.Fatalf("SyncUpTo failed: %v", err)
	}
	if synced {
		t.Fatal("SyncUpTo should not have synced again")
	}
}

func TestWriterCloseIntoReader(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, 1, "test-uuid")

	addOps(t, w, 1, 0, 1, 2, 3)

	r, err := w.closeIntoReader()
	if err != nil {
		t.Fatalf("closeIntoReader failed: %v", err)
	}
	defer r.Close()

	if r.Generation() != 1 {
		t.Fatalf("expected generation 1, got %d", r.Generation())
	}
	if r.TotalOperations() != 4 {
		t.Fatalf("expected 4 ops, got %d", r.TotalOperations())
	}
	if r.MinSeqNo() != 0 || r.MaxSeqNo() != 3 {
		t.Fatalf("unexpected seq-no range [%d, %d]", r.MinSeqNo(), r.MaxSeqNo())
	}

	// Sealed: further appends must fail.
	if _, err := w.Add(Operation{SeqNo: 4, Term: 1, Op: OpIndex}); err == nil {
		t.Fatal("expected error appending to sealed writer")
	}
}

func TestWriterViewReader(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, 1, "test-uuid")
	defer w.Close()

	addOps(t, w, 1, 0, 1)

	view, err := w.newViewReader()
	if err != nil {
		t.Fatalf("newViewReader failed: %v", err)
	}
	defer view.Close()

	// Appends after the view was taken are invisible to it.
	addOps(t, w, 1, 2, 3)

	snap := view.newSnapshot(0, types.NoSeqNo, 0)
	var got []types.SeqNo
	for {
		op, err := snap.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if op == nil {
			break
		}
		got = append(got, op.SeqNo)
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("expected seq-nos [0 1], got %v", got)
	}
}

func TestWriterTracksPersistedSeqNos(t *testing.T) {
	dir := t.TempDir()
	marked := &fakeTracker{}
	w, err := newWriter(filepath.Join(dir, generationFileName(1)), 1, "test-uuid", 4096, marked)
	if err != nil {
		t.Fatalf("newWriter failed: %v", err)
	}
	defer w.Close()

	addOps(t, w, 2, 0, 1, 2)
	if len(marked.seqNos) != 0 {
		t.Fatal("nothing should be marked persisted before sync")
	}

	if _, err := w.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(marked.seqNos) != 3 {
		t.Fatalf("expected 3 marked seq-nos, got %d", len(marked.seqNos))
	}

	// Syncing again must not re-mark.
	if _, err := w.Sync(); err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	if len(marked.seqNos) != 3 {
		t.Fatalf("expected 3 marked seq-nos after no-op sync, got %d", len(marked.seqNos))
	}
}

type fakeTracker struct {
	seqNos []types.SeqNo
}

func (f *fakeTracker) MarkPersisted(seqNo types.SeqNo, term types.Term) {
	f.seqNos = append(f.seqNos, seqNo)
}

func TestWriterRefusesDuplicateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, generationFileName(1))
	if err := os.WriteFile(path, []byte("existing"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := newWriter(path, 1, "test-uuid", 4096, nil); err == nil {
		t.Fatal("expected error creating writer over existing file")
	}
}
