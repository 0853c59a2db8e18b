package tracker

import (
	"sync"
	"testing"

	"translog/pkg/types"
)

func TestTrackerAdvancesContiguously(t *testing.T) {
	tr := New(types.NoSeqNo)

	tr.MarkPersisted(0, 1)
	tr.MarkPersisted(1, 1)
	if got := tr.Checkpoint(); got != 1 {
		t.Fatalf("expected checkpoint 1, got %d", got)
	}

	// A gap at 2 stalls the watermark.
	tr.MarkPersisted(3, 1)
	tr.MarkPersisted(4, 1)
	if got := tr.Checkpoint(); got != 1 {
		t.Fatalf("expected checkpoint to stall at 1, got %d", got)
	}
	if got := tr.MaxSeqNo(); got != 4 {
		t.Fatalf("expected max seq-no 4, got %d", got)
	}

	// Filling the gap releases the whole run.
	tr.MarkPersisted(2, 1)
	if got := tr.Checkpoint(); got != 4 {
		t.Fatalf("expected checkpoint 4, got %d", got)
	}
}

func TestTrackerStartsFromRecoveredCheckpoint(t *testing.T) {
	tr := New(9)
	if got := tr.Checkpoint(); got != 9 {
		t.Fatalf("expected checkpoint 9, got %d", got)
	}

	// Marks at or below the recovered watermark are no-ops.
	tr.MarkPersisted(5, 1)
	if got := tr.Checkpoint(); got != 9 {
		t.Fatalf("expected checkpoint to stay 9, got %d", got)
	}

	tr.MarkPersisted(10, 2)
	if got := tr.Checkpoint(); got != 10 {
		t.Fatalf("expected checkpoint 10, got %d", got)
	}
}

func TestTrackerConcurrentMarks(t *testing.T) {
	const n = 1000
	tr := New(types.NoSeqNo)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for s := offset; s < n; s += 4 {
				tr.MarkPersisted(types.SeqNo(s), 1)
			}
		}(w)
	}
	wg.Wait()

	if got := tr.Checkpoint(); got != n-1 {
		t.Fatalf("expected checkpoint %d, got %d", n-1, got)
	}
	if got := tr.MaxSeqNo(); got != n-1 {
		t.Fatalf("expected max seq-no %d, got %d", n-1, got)
	}
}
