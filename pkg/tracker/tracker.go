package tracker

import (
	"sync"

	"github.com/zhangyunhao116/skipmap"

	"translog/pkg/clock"
	"translog/pkg/types"
)

// LocalCheckpointTracker tracks which sequence numbers have been made
// durable and advances a contiguous "persisted checkpoint" watermark: the
// highest seq-no such that it and everything below it is on disk. The
// watermark feeds the checkpoint file and the retention floor.
//
// Markers may arrive out of order and from multiple goroutines; gaps from
// concurrent writers close as the missing seq-nos land.
type LocalCheckpointTracker struct {
	persisted *skipmap.Int64Map[types.Term]
	maxSeqNo  *clock.AtomicClock

	mu         sync.Mutex
	checkpoint *clock.AtomicClock
}

// New creates a tracker with the persisted checkpoint at initCheckpoint
// (types.NoSeqNo for an empty log).
func New(initCheckpoint types.SeqNo) *LocalCheckpointTracker {
	return &LocalCheckpointTracker{
		persisted:  skipmap.NewInt64[types.Term](),
		maxSeqNo:   clock.NewAtomic(initCheckpoint),
		checkpoint: clock.NewAtomic(initCheckpoint),
	}
}

// MarkPersisted records that the operation with the given seq-no and term is
// durable, and advances the checkpoint past any now-contiguous run.
func (t *LocalCheckpointTracker) MarkPersisted(seqNo types.SeqNo, term types.Term) {
	t.maxSeqNo.Observe(seqNo)
	if seqNo <= t.checkpoint.Val() {
		return
	}
	t.persisted.Store(seqNo, term)
	t.advance()
}

func (t *LocalCheckpointTracker) advance() {
	// Single advancer at a time; concurrent markers have already stored
	// their seq-nos, so whoever holds the lock moves the watermark for all.
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		next := t.checkpoint.Val() + 1
		if _, ok := t.persisted.LoadAndDelete(next); !ok {
			return
		}
		t.checkpoint.Set(next)
	}
}

// ObserveMaxSeqNo advances the max-seq-no watermark without marking
// anything durable, used when re-opening a log from its checkpoint.
func (t *LocalCheckpointTracker) ObserveMaxSeqNo(seqNo types.SeqNo) {
	t.maxSeqNo.Observe(seqNo)
}

// Checkpoint returns the highest seq-no below which everything is durable.
func (t *LocalCheckpointTracker) Checkpoint() types.SeqNo {
	return t.checkpoint.Val()
}

// MaxSeqNo returns the highest seq-no ever marked, durable run or not.
func (t *LocalCheckpointTracker) MaxSeqNo() types.SeqNo {
	return t.maxSeqNo.Val()
}

// PendingTermFor reports the term recorded for a persisted-but-not-yet-
// contiguous seq-no, for diagnostics.
func (t *LocalCheckpointTracker) PendingTermFor(seqNo types.SeqNo) (types.Term, bool) {
	return t.persisted.Load(seqNo)
}
