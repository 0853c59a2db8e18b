package translog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"translog/pkg/tlerrors"
	"translog/pkg/types"
)

// Reader is an immutable, fully validated view of one rolled generation
// file. Concurrent snapshots share a Reader; every read goes through ReadAt
// with a snapshot-owned offset, so there is no shared cursor.
type Reader struct {
	file      *os.File
	path      string
	header    fileHeader
	headerLen int64

	// size is the end of valid data; for a recovered tail generation it may
	// be short of the physical file size before truncation.
	size     int64
	totalOps int
	minSeqNo types.SeqNo
	maxSeqNo types.SeqNo
	modTime  time.Time

	closed atomic.Bool
}

// openReader validates the whole generation file up front: header, then
// every record checksum. With recoverTail set, a partially written tail
// (crash mid-append) is truncated at the last valid record boundary instead
// of being reported as corruption; that mode is only correct for the
// generation that was active at crash time.
func openReader(path string, expectUUID string, recoverTail bool) (*Reader, error) {
	flag := os.O_RDONLY
	if recoverTail {
		flag = os.O_RDWR
	}
	file, err := os.OpenFile(path, flag, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open generation file: %w", err)
	}

	r, err := scanGeneration(file, path, expectUUID, recoverTail)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return r, nil
}

func scanGeneration(file *os.File, path, expectUUID string, recoverTail bool) (*Reader, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat generation file: %w", err)
	}

	br := bufio.NewReader(file)
	header, headerLen, err := readHeader(br, path)
	if err != nil {
		return nil, err
	}
	if expectUUID != "" && header.uuid != expectUUID {
		return nil, corrupted(path, 0,
			fmt.Sprintf("translog uuid mismatch: file has %q, expected %q", header.uuid, expectUUID), nil)
	}

	r := &Reader{
		file:      file,
		path:      path,
		header:    header,
		headerLen: headerLen,
		size:      headerLen,
		minSeqNo:  types.NoSeqNo,
		maxSeqNo:  types.NoSeqNo,
		modTime:   info.ModTime(),
	}

	// Validate record by record. r.size always points at the last known-good
	// record boundary.
	sizeBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(br, sizeBuf); err != nil {
			if errors.Is(err, io.EOF) {
				return r, nil // clean end on a record boundary
			}
			return r.tail(recoverTail, corrupted(path, r.size, "truncated record size prefix", err))
		}
		bodyLen := binary.LittleEndian.Uint32(sizeBuf)
		if int64(bodyLen) < recordFixedLen-4 || int64(bodyLen) > info.Size()-r.size-4 {
			return r.tail(recoverTail, corrupted(path, r.size,
				fmt.Sprintf("implausible record size %d", bodyLen), nil))
		}
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(br, body); err != nil {
			return r.tail(recoverTail, corrupted(path, r.size, "truncated record body", err))
		}
		op, err := decodeRecordBody(body, path, r.size)
		if err != nil {
			return r.tail(recoverTail, err)
		}

		r.observe(op)
		r.size += 4 + int64(bodyLen)
		r.totalOps++
	}
}

func (r *Reader) observe(op Operation) {
	if r.minSeqNo == types.NoSeqNo || op.SeqNo < r.minSeqNo {
		r.minSeqNo = op.SeqNo
	}
	if op.SeqNo > r.maxSeqNo {
		r.maxSeqNo = op.SeqNo
	}
}

// tail handles an invalid record at the end of the scan: truncate when
// recovering the active-at-crash generation, otherwise surface corruption.
func (r *Reader) tail(recoverTail bool, cause error) (*Reader, error) {
	if !recoverTail {
		return nil, cause
	}
	if err := r.file.Truncate(r.size); err != nil {
		return nil, fmt.Errorf("failed to truncate partial tail: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync truncated generation: %w", err)
	}
	return r, nil
}

func (r *Reader) Generation() types.GenerationID { return r.header.generation }
func (r *Reader) TotalOperations() int           { return r.totalOps }
func (r *Reader) SizeInBytes() int64             { return r.size }
func (r *Reader) MinSeqNo() types.SeqNo          { return r.minSeqNo }
func (r *Reader) MaxSeqNo() types.SeqNo          { return r.maxSeqNo }

// readRecord reads the record starting at offset and returns it together
// with the offset of the next record.
func (r *Reader) readRecord(offset int64) (Operation, int64, error) {
	if r.closed.Load() {
		return Operation{}, 0, tlerrors.ErrClosed
	}
	sizeBuf := make([]byte, 4)
	if _, err := r.file.ReadAt(sizeBuf, offset); err != nil {
		return Operation{}, 0, fmt.Errorf("failed to read record size at %d: %w", offset, err)
	}
	bodyLen := binary.LittleEndian.Uint32(sizeBuf)
	if int64(bodyLen) < recordFixedLen-4 || offset+4+int64(bodyLen) > r.size {
		return Operation{}, 0, corrupted(r.path, offset,
			fmt.Sprintf("implausible record size %d", bodyLen), nil)
	}
	body := make([]byte, bodyLen)
	if _, err := r.file.ReadAt(body, offset+4); err != nil {
		return Operation{}, 0, fmt.Errorf("failed to read record body at %d: %w", offset, err)
	}
	op, err := decodeRecordBody(body, r.path, offset)
	if err != nil {
		return Operation{}, 0, err
	}
	return op, offset + 4 + int64(bodyLen), nil
}

// newSnapshot returns a forward-only cursor over this generation. Operations
// below fromSeqNo, and operations discarded by a term-aware trim, are
// counted as skipped rather than returned.
func (r *Reader) newSnapshot(fromSeqNo types.SeqNo, trimAboveSeqNo types.SeqNo, trimBelowTerm types.Term) *TranslogSnapshot {
	return &TranslogSnapshot{
		src:            r,
		offset:         r.headerLen,
		totalOps:       r.totalOps,
		fromSeqNo:      fromSeqNo,
		trimAboveSeqNo: trimAboveSeqNo,
		trimBelowTerm:  trimBelowTerm,
	}
}

func (r *Reader) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		return r.file.Close()
	}
	return nil
}
