package translog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"translog/pkg/tlerrors"
	"translog/pkg/types"
)

// iSyncTracker is the slice of the checkpoint tracker the writer needs:
// marking sequence numbers durable once their bytes are fsynced.
type iSyncTracker interface {
	MarkPersisted(seqNo types.SeqNo, term types.Term)
}

type pendingSeqNo struct {
	seqNo types.SeqNo
	term  types.Term
}

// ckpInfo is the writer state a checkpoint save needs, captured under the
// writer lock so offset and counts are mutually consistent.
type ckpInfo struct {
	offset   int64
	numOps   int
	minSeqNo types.SeqNo
	maxSeqNo types.SeqNo
}

// Writer owns the active generation file. Appends are serialized by the
// writer lock: an operation is either fully in the buffer or not at all,
// never a partial interleave.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	path string

	header    fileHeader
	headerLen int64

	writtenOffset int64 // file size including still-buffered bytes
	syncedOffset  int64 // durable watermark
	numOps        int
	minSeqNo      types.SeqNo
	maxSeqNo      types.SeqNo

	// appended since the last fsync; drained into the tracker on sync
	pending []pendingSeqNo
	scratch []byte

	created time.Time
	tracker iSyncTracker
	closed  bool
}

func newWriter(path string, generation types.GenerationID, logUUID string, bufferSize int, tracker iSyncTracker) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation file: %w", err)
	}

	header := fileHeader{generation: generation, uuid: logUUID}
	if err := header.writeTo(file); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to write generation header: %w", err)
	}
	// The header must be durable before anything references the generation.
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to sync generation header: %w", err)
	}

	headerLen := header.encodedLen()
	return &Writer{
		file:          file,
		buf:           bufio.NewWriterSize(file, bufferSize),
		path:          path,
		header:        header,
		headerLen:     headerLen,
		writtenOffset: headerLen,
		syncedOffset:  headerLen,
		minSeqNo:      types.NoSeqNo,
		maxSeqNo:      types.NoSeqNo,
		created:       time.Now(),
		tracker:       tracker,
	}, nil
}

// Add appends one operation to the generation and returns its location. The
// bytes may still be buffered; callers needing durability follow up with
// SyncUpTo or Sync.
func (w *Writer) Add(op Operation) (Location, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return Location{}, tlerrors.ErrClosed
	}

	record, err := appendRecord(w.scratch[:0], op)
	if err != nil {
		return Location{}, err
	}
	w.scratch = record[:0]

	if _, err := w.buf.Write(record); err != nil {
		return Location{}, fmt.Errorf("failed to append to generation %d: %w", w.header.generation, err)
	}

	loc := Location{
		Generation: w.header.generation,
		Offset:     w.writtenOffset,
		Size:       int64(len(record)),
	}
	w.writtenOffset += int64(len(record))
	w.numOps++
	if w.minSeqNo == types.NoSeqNo || op.SeqNo < w.minSeqNo {
		w.minSeqNo = op.SeqNo
	}
	if op.SeqNo > w.maxSeqNo {
		w.maxSeqNo = op.SeqNo
	}
	w.pending = append(w.pending, pendingSeqNo{seqNo: op.SeqNo, term: op.Term})

	return loc, nil
}

// Sync flushes the buffer and fsyncs the file, then reports the sequence
// numbers it made durable to the tracker.
func (w *Writer) Sync() (ckpInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.syncLocked(); err != nil {
		return ckpInfo{}, err
	}
	return w.infoLocked(), nil
}

// SyncUpTo fsyncs only if offset is not durable yet. Returns whether a sync
// actually ran.
func (w *Writer) SyncUpTo(offset int64) (bool, ckpInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if offset <= w.syncedOffset {
		return false, w.infoLocked(), nil
	}
	if err := w.syncLocked(); err != nil {
		return false, ckpInfo{}, err
	}
	return true, w.infoLocked(), nil
}

func (w *Writer) syncLocked() error {
	if w.closed {
		return tlerrors.ErrClosed
	}
	if w.syncedOffset == w.writtenOffset {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush generation %d: %w", w.header.generation, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync generation %d: %w", w.header.generation, err)
	}
	w.syncedOffset = w.writtenOffset

	if w.tracker != nil {
		for _, p := range w.pending {
			w.tracker.MarkPersisted(p.seqNo, p.term)
		}
	}
	w.pending = w.pending[:0]
	return nil
}

func (w *Writer) infoLocked() ckpInfo {
	return ckpInfo{
		offset:   w.syncedOffset,
		numOps:   w.numOps,
		minSeqNo: w.minSeqNo,
		maxSeqNo: w.maxSeqNo,
	}
}

func (w *Writer) Generation() types.GenerationID { return w.header.generation }

func (w *Writer) SizeInBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writtenOffset
}

func (w *Writer) NumOps() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numOps
}

func (w *Writer) MaxSeqNo() types.SeqNo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxSeqNo
}

// newViewReader captures a point-in-time readable view of the active
// generation: the buffer is flushed (not fsynced; reads come from the page
// cache) and a dedicated read handle is opened, capped at the current
// offset. The caller owns closing the returned Reader.
func (w *Writer) newViewReader() (*Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, tlerrors.ErrClosed
	}
	if err := w.buf.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush generation %d: %w", w.header.generation, err)
	}

	file, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open generation view: %w", err)
	}
	return &Reader{
		file:      file,
		path:      w.path,
		header:    w.header,
		headerLen: w.headerLen,
		size:      w.writtenOffset,
		totalOps:  w.numOps,
		minSeqNo:  w.minSeqNo,
		maxSeqNo:  w.maxSeqNo,
		modTime:   w.created,
	}, nil
}

// closeIntoReader seals the generation: final sync, close the write handle,
// reopen read-only. The generation is immutable from here on.
func (w *Writer) closeIntoReader() (*Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, tlerrors.ErrClosed
	}
	if err := w.syncLocked(); err != nil {
		return nil, err
	}
	w.closed = true
	if err := w.file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close generation %d: %w", w.header.generation, err)
	}

	return openReader(w.path, w.header.uuid, false)
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if err := w.syncLocked(); err != nil {
		return err
	}
	w.closed = true
	return w.file.Close()
}
