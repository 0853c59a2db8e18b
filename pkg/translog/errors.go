package translog

import (
	"errors"

	"translog/pkg/tlerrors"
)

var errTooLargeRecord = errors.New("translog: record too large")

func corrupted(file string, offset int64, reason string, err error) error {
	return &tlerrors.CorruptionError{File: file, Offset: offset, Reason: reason, Err: err}
}
