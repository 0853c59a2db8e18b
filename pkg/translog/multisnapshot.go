package translog

import (
	"translog/pkg/tlerrors"
	"translog/pkg/types"
)

// MultiSnapshot presents an ordered set of generation snapshots, oldest
// generation first, as one logical replay stream. Replay order is write
// order: generation by generation, file order within a generation, never
// re-sorted by sequence number. Later writes must land after earlier ones,
// and write order already guarantees that as long as rollover preserved
// generation ordering.
//
// Not safe for concurrent use.
type MultiSnapshot struct {
	snapshots []*TranslogSnapshot
	index     int
	totalOps  int

	// seqNoToTerm cross-checks that one sequence number never surfaces with
	// two different primary terms within a single replay. Built only under
	// strict verification; replay output is identical without it.
	seqNoToTerm map[types.SeqNo]types.Term

	onClose func() error
	closed  bool
}

// newMultiSnapshot takes exclusive ownership of the snapshot array. onClose
// releases whatever pin kept the underlying generations from being deleted;
// it is invoked exactly once, on the first Close.
func newMultiSnapshot(snapshots []*TranslogSnapshot, onClose func() error, strict bool) *MultiSnapshot {
	total := 0
	for _, s := range snapshots {
		total += s.TotalOperations()
	}
	m := &MultiSnapshot{
		snapshots: snapshots,
		totalOps:  total,
		onClose:   onClose,
	}
	if strict {
		m.seqNoToTerm = make(map[types.SeqNo]types.Term)
	}
	return m
}

// TotalOperations is the sum over all generations, fixed at construction;
// generations are immutable once snapshotted.
func (m *MultiSnapshot) TotalOperations() int { return m.totalOps }

// SkippedOperations sums the per-generation skip counts at call time.
func (m *MultiSnapshot) SkippedOperations() int {
	skipped := 0
	for _, s := range m.snapshots {
		skipped += s.SkippedOperations()
	}
	return skipped
}

// Next returns the next operation of the logical stream, or (nil, nil) once
// every generation is exhausted. Calling Next after Close is a programming
// error and fails fast.
func (m *MultiSnapshot) Next() (*Operation, error) {
	if m.closed {
		return nil, tlerrors.ErrSnapshotClosed
	}
	for ; m.index < len(m.snapshots); m.index++ {
		for {
			op, err := m.snapshots[m.index].Next()
			if err != nil {
				return nil, err
			}
			if op == nil {
				break // generation exhausted, move to the next one
			}
			if err := m.verify(op); err != nil {
				return nil, err
			}
			return op, nil
		}
	}
	return nil, nil
}

// verify enforces the seq-no to primary-term invariant across generation
// boundaries. A mismatch is never resolved by picking a value: it means the
// log is inconsistent and replaying it could corrupt state.
func (m *MultiSnapshot) verify(op *Operation) error {
	if m.seqNoToTerm == nil {
		return nil
	}
	if prev, ok := m.seqNoToTerm[op.SeqNo]; ok && prev != op.Term {
		return tlerrors.Invariantf(
			"seq-no %d seen with primary term %d and again with %d", op.SeqNo, prev, op.Term)
	}
	m.seqNoToTerm[op.SeqNo] = op.Term
	return nil
}

// Close releases the generation pin exactly once; closing again is a no-op.
func (m *MultiSnapshot) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	for _, s := range m.snapshots {
		_ = s.Close()
	}
	if m.onClose == nil {
		return nil
	}
	return m.onClose()
}
