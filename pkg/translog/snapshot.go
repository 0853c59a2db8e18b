package translog

import (
	"translog/pkg/tlerrors"
	"translog/pkg/types"
)

// Snapshot is a point-in-time, forward-only view over logged operations,
// drained by recovery and replication callers: Next until exhausted, then
// Close.
type Snapshot interface {
	// TotalOperations is the number of operations physically covered,
	// including skipped ones.
	TotalOperations() int
	// SkippedOperations is the number excluded from logical replay so far.
	SkippedOperations() int
	// Next returns the next operation, or (nil, nil) when exhausted.
	Next() (*Operation, error)
	// Close releases the snapshot's hold on the underlying generations.
	Close() error
}

var (
	_ Snapshot = (*TranslogSnapshot)(nil)
	_ Snapshot = (*MultiSnapshot)(nil)
)

// TranslogSnapshot is a forward-only cursor over one generation, in file
// order. Not safe for concurrent use; a snapshot belongs to a single
// goroutine from construction to Close.
type TranslogSnapshot struct {
	src    *Reader
	offset int64

	totalOps  int
	readOps   int
	skipped   int
	fromSeqNo types.SeqNo

	// term-aware trim recorded by the coordinator: operations above
	// trimAboveSeqNo written under a term below trimBelowTerm are superseded
	// and excluded from replay.
	trimAboveSeqNo types.SeqNo
	trimBelowTerm  types.Term

	closed bool
}

// TotalOperations is the number of operations physically present in the
// generation, including skipped ones.
func (s *TranslogSnapshot) TotalOperations() int { return s.totalOps }

// SkippedOperations is the number of operations read so far and excluded
// from logical replay.
func (s *TranslogSnapshot) SkippedOperations() int { return s.skipped }

// Next returns the next replayable operation in file order, or (nil, nil)
// once the generation is exhausted. Exhaustion is stable: further calls keep
// returning (nil, nil). A checksum failure surfaces as a CorruptionError and
// is fatal to the replay attempt.
func (s *TranslogSnapshot) Next() (*Operation, error) {
	if s.closed {
		return nil, tlerrors.ErrSnapshotClosed
	}
	for s.readOps < s.totalOps {
		op, next, err := s.src.readRecord(s.offset)
		if err != nil {
			return nil, err
		}
		s.offset = next
		s.readOps++

		if s.excluded(op) {
			s.skipped++
			continue
		}
		return &op, nil
	}
	return nil, nil
}

func (s *TranslogSnapshot) excluded(op Operation) bool {
	if op.SeqNo < s.fromSeqNo {
		return true
	}
	if s.trimBelowTerm > 0 && op.SeqNo > s.trimAboveSeqNo && op.Term < s.trimBelowTerm {
		return true
	}
	return false
}

// Close marks the snapshot unusable. Releasing the underlying generation
// pin is the owning MultiSnapshot's job, via its onClose handle.
func (s *TranslogSnapshot) Close() error {
	s.closed = true
	return nil
}
