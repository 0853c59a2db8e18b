package tlerrors

import (
	"errors"
	"fmt"
)

var (
	ErrClosed          = errors.New("translog: closed")
	ErrSnapshotClosed  = errors.New("translog: snapshot closed")
	ErrInvalidArgument = errors.New("translog: invalid argument")

	// ErrRolloverFailed means a rollover sealed the active generation but
	// could not open the next one. The log accepts no further writes until
	// it is reopened; already sealed generations stay replayable.
	ErrRolloverFailed = errors.New("translog: rollover failed")
)

// CorruptionError reports bytes on disk that failed validation: a checksum
// mismatch, a malformed record or an unexpected header. It is fatal to the
// current recovery attempt; the bytes will not get better on retry.
type CorruptionError struct {
	File   string
	Offset int64
	Reason string
	Err    error
}

func (e *CorruptionError) Error() string {
	msg := fmt.Sprintf("translog: corrupted data in %s at offset %d: %s", e.File, e.Offset, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// IsCorruption reports whether err wraps a CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// InvariantError reports a broken internal consistency rule, such as one
// sequence number carrying two different primary terms within a single
// replay. It signals a bug or undetected corruption and must never be
// swallowed or resolved by picking one of the values.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "translog: invariant violation: " + e.Reason
}

// Invariantf builds an InvariantError from a format string.
func Invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Reason: fmt.Sprintf(format, args...)}
}
