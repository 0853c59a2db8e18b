// Package translog implements a durable, ordered, replayable log of write
// operations. Every operation is appended to the active generation file and
// checksummed; rolled generations are immutable and replayed through
// point-in-time snapshots until retention deletes them.
package translog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"translog/pkg/config"
	"translog/pkg/metrics"
	"translog/pkg/tlerrors"
	"translog/pkg/tracker"
	"translog/pkg/types"
)

// Translog coordinates the active generation writer, the rolled generation
// readers, snapshot pinning and retention. Safe for concurrent use; the
// snapshots it hands out are not.
type Translog struct {
	cfg       config.TranslogConfig
	dir       string
	uuid      string
	collector metrics.Collector
	tracker   *tracker.LocalCheckpointTracker
	ckp       *checkpointFile

	// mu guards the structure: writer swap, readers list, pins, trim
	// markers, closed. Appends take it shared; rollover and trim take it
	// exclusively, so no append straddles a rollover boundary.
	mu      sync.RWMutex
	writer  *Writer
	readers []*Reader // oldest generation first
	pins    map[types.GenerationID]int

	trimmedAboveSeqNo types.SeqNo
	trimmedBelowTerm  types.Term

	// wedged is set when a rollover seals the active generation but fails
	// to open the next one; the log then refuses writes until reopened.
	wedged error
	closed bool
}

// stateErrLocked reports whether the log can serve operations. Callers hold
// mu in either mode; wedged and closed are only written under the exclusive
// lock.
func (t *Translog) stateErrLocked() error {
	if t.closed {
		return tlerrors.ErrClosed
	}
	return t.wedged
}

// Stats is a point-in-time summary of the log.
type Stats struct {
	UUID                string             `json:"uuid"`
	Generation          types.GenerationID `json:"generation"`
	MinGeneration       types.GenerationID `json:"min_generation"`
	TotalOperations     int                `json:"total_operations"`
	SizeInBytes         int64              `json:"size_in_bytes"`
	MaxSeqNo            types.SeqNo        `json:"max_seq_no"`
	PersistedCheckpoint types.SeqNo        `json:"persisted_checkpoint"`
}

// GenerationInfo describes one physical generation file.
type GenerationInfo struct {
	Generation  types.GenerationID `json:"generation"`
	Operations  int                `json:"operations"`
	SizeInBytes int64              `json:"size_in_bytes"`
	MinSeqNo    types.SeqNo        `json:"min_seq_no"`
	MaxSeqNo    types.SeqNo        `json:"max_seq_no"`
	Active      bool               `json:"active"`
	Pins        int                `json:"pins"`
}

func generationFileName(gen types.GenerationID) string {
	return fmt.Sprintf("translog-%d.tlog", gen)
}

// Open opens the translog in cfg.Dir, recovering existing generations, or
// initializes a fresh log when the directory holds none.
func Open(cfg config.TranslogConfig, collector metrics.Collector) (*Translog, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: empty translog dir", tlerrors.ErrInvalidArgument)
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	dir := filepath.Clean(cfg.Dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create translog directory: %w", err)
	}

	t := &Translog{
		cfg:               cfg,
		dir:               dir,
		collector:         collector,
		ckp:               newCheckpointFile(dir),
		pins:              make(map[types.GenerationID]int),
		trimmedAboveSeqNo: types.NoSeqNo,
	}

	exists, err := t.ckp.Load()
	if err != nil {
		return nil, err
	}
	if exists {
		err = t.recover()
	} else {
		err = t.initialize()
	}
	if err != nil {
		t.releaseFiles()
		return nil, err
	}

	collector.SetGauge("translog_generation", t.writer.Generation())
	return t, nil
}

// clearStaleGenerations deletes generation files above the highest
// generation the checkpoint acknowledges. A crash between creating the next
// generation file and saving the checkpoint leaves an empty orphan that
// would otherwise collide with the file recovery is about to create; no
// operation in such a file was ever acknowledged, so dropping it is safe.
func (t *Translog) clearStaleGenerations(above types.GenerationID) error {
	matches, err := filepath.Glob(filepath.Join(t.dir, "translog-*.tlog"))
	if err != nil {
		return fmt.Errorf("failed to list generation files: %w", err)
	}
	for _, path := range matches {
		var gen types.GenerationID
		if _, err := fmt.Sscanf(filepath.Base(path), "translog-%d.tlog", &gen); err != nil {
			continue
		}
		if gen <= above {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale generation %d: %w", gen, err)
		}
		slog.Warn("removed stale generation file", "generation", gen, "path", path)
	}
	return nil
}

func (t *Translog) initialize() error {
	t.uuid = uuid.NewString()
	t.tracker = tracker.New(types.NoSeqNo)

	// Without a checkpoint nothing in the directory was ever acknowledged.
	if err := t.clearStaleGenerations(0); err != nil {
		return err
	}

	w, err := newWriter(filepath.Join(t.dir, generationFileName(1)), 1, t.uuid, t.cfg.BufferSizeBytes, t.tracker)
	if err != nil {
		return err
	}
	t.writer = w

	if err := t.saveCheckpoint(w.infoLocked()); err != nil {
		return err
	}
	slog.Info("initialized fresh translog", "dir", t.dir, "uuid", t.uuid)
	return nil
}

// recover reopens every retained generation. The generation that was active
// at shutdown or crash time gets its partial tail truncated at the last
// valid checksum boundary; a fresh generation is then opened for new writes.
func (t *Translog) recover() error {
	ckp := t.ckp.Current()
	t.uuid = ckp.UUID
	t.tracker = tracker.New(ckp.PersistedCheckpoint)
	t.trimmedAboveSeqNo = ckp.TrimmedAboveSeqNo
	t.trimmedBelowTerm = ckp.TrimmedBelowTerm

	if err := t.clearStaleGenerations(ckp.Generation); err != nil {
		return err
	}

	for gen := ckp.MinGeneration; gen <= ckp.Generation; gen++ {
		path := filepath.Join(t.dir, generationFileName(gen))
		r, err := openReader(path, t.uuid, gen == ckp.Generation)
		if err != nil {
			// Retention unlinks a generation before it re-saves the
			// checkpoint, so a crash in that window leaves the checkpoint
			// naming an already deleted prefix. Those generations were
			// fully below the persisted checkpoint; skip them.
			if errors.Is(err, os.ErrNotExist) && len(t.readers) == 0 && gen < ckp.Generation {
				slog.Warn("skipping trimmed generation missing from disk", "generation", gen)
				continue
			}
			return fmt.Errorf("failed to recover generation %d: %w", gen, err)
		}
		if r.Generation() != gen {
			_ = r.Close()
			return corrupted(path, 0,
				fmt.Sprintf("file claims generation %d, expected %d", r.Generation(), gen), nil)
		}
		t.readers = append(t.readers, r)
		t.tracker.ObserveMaxSeqNo(r.MaxSeqNo())
	}

	next := ckp.Generation + 1
	w, err := newWriter(filepath.Join(t.dir, generationFileName(next)), next, t.uuid, t.cfg.BufferSizeBytes, t.tracker)
	if err != nil {
		return err
	}
	t.writer = w

	if err := t.saveCheckpoint(w.infoLocked()); err != nil {
		return err
	}
	slog.Info("recovered translog",
		"dir", t.dir,
		"generations", len(t.readers),
		"next_generation", next,
		"persisted_checkpoint", ckp.PersistedCheckpoint)
	return nil
}

func (t *Translog) releaseFiles() {
	for _, r := range t.readers {
		_ = r.Close()
	}
	if t.writer != nil {
		_ = t.writer.Close()
	}
}

// saveCheckpoint persists the current log metadata. info must come from the
// active writer.
func (t *Translog) saveCheckpoint(info ckpInfo) error {
	minGen := t.writer.Generation()
	if len(t.readers) > 0 {
		minGen = t.readers[0].Generation()
	}
	return t.ckp.Save(Checkpoint{
		UUID:                t.uuid,
		Generation:          t.writer.Generation(),
		MinGeneration:       minGen,
		Offset:              info.offset,
		NumOps:              info.numOps,
		MinSeqNo:            info.minSeqNo,
		MaxSeqNo:            info.maxSeqNo,
		PersistedCheckpoint: t.tracker.Checkpoint(),
		TrimmedAboveSeqNo:   t.trimmedAboveSeqNo,
		TrimmedBelowTerm:    t.trimmedBelowTerm,
	})
}

// Add appends one operation and returns its durable position marker. The
// bytes may still be buffered; call EnsureSynced with the returned location
// before acknowledging the write.
func (t *Translog) Add(op Operation) (Location, error) {
	t.mu.RLock()
	if err := t.stateErrLocked(); err != nil {
		t.mu.RUnlock()
		return Location{}, err
	}
	w := t.writer
	loc, err := w.Add(op)
	var needRoll bool
	if err == nil && t.cfg.RolloverSizeBytes > 0 {
		needRoll = loc.Offset+loc.Size >= t.cfg.RolloverSizeBytes
	}
	t.mu.RUnlock()

	if err != nil {
		return Location{}, err
	}
	t.collector.IncCounter("translog_appends_total", 1)
	t.collector.IncCounter("translog_appended_bytes_total", loc.Size)

	if needRoll {
		if rerr := t.maybeRoll(loc.Generation); rerr != nil {
			slog.Error("size-triggered rollover failed", "generation", loc.Generation, "error", rerr)
		}
	}
	return loc, nil
}

// maybeRoll rolls the active generation if gen is still the active one;
// concurrent appends racing past the threshold trigger only one roll.
func (t *Translog) maybeRoll(gen types.GenerationID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.wedged != nil || t.writer.Generation() != gen {
		return nil
	}
	return t.rollLocked()
}

// Sync makes everything appended so far durable and persists the checkpoint.
func (t *Translog) Sync() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.stateErrLocked(); err != nil {
		return err
	}
	info, err := t.writer.Sync()
	if err != nil {
		return err
	}
	t.collector.IncCounter("translog_syncs_total", 1)
	return t.saveCheckpoint(info)
}

// EnsureSynced blocks until the operation at loc is durable. Generations
// below the active one were fully synced when they rolled.
func (t *Translog) EnsureSynced(loc Location) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.stateErrLocked(); err != nil {
		return err
	}
	if loc.Generation < t.writer.Generation() {
		return nil
	}
	if loc.Generation > t.writer.Generation() {
		return fmt.Errorf("%w: location from future generation %d", tlerrors.ErrInvalidArgument, loc.Generation)
	}
	synced, info, err := t.writer.SyncUpTo(loc.Offset + loc.Size)
	if err != nil {
		return err
	}
	if !synced {
		return nil
	}
	t.collector.IncCounter("translog_syncs_total", 1)
	return t.saveCheckpoint(info)
}

// RollGeneration seals the active generation and opens the next one.
func (t *Translog) RollGeneration() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.stateErrLocked(); err != nil {
		return err
	}
	return t.rollLocked()
}

func (t *Translog) rollLocked() error {
	sealed, err := t.writer.closeIntoReader()
	if err != nil {
		return fmt.Errorf("failed to seal generation %d: %w", t.writer.Generation(), err)
	}
	t.readers = append(t.readers, sealed)

	next := sealed.Generation() + 1
	w, err := newWriter(filepath.Join(t.dir, generationFileName(next)), next, t.uuid, t.cfg.BufferSizeBytes, t.tracker)
	if err != nil {
		// The log cannot accept writes without an active generation. The
		// sealed readers stay replayable and Close still works; everything
		// else fails with ErrRolloverFailed until the log is reopened.
		t.wedged = fmt.Errorf("%w: cannot open generation %d: %v", tlerrors.ErrRolloverFailed, next, err)
		slog.Error("rollover left the log without an active generation", "generation", next, "error", err)
		return t.wedged
	}
	t.writer = w

	t.collector.IncCounter("translog_rollovers_total", 1)
	t.collector.SetGauge("translog_generation", next)
	slog.Info("rolled translog generation",
		"sealed", sealed.Generation(),
		"sealed_ops", sealed.TotalOperations(),
		"active", next)

	return t.saveCheckpoint(ckpInfo{offset: w.headerLen, numOps: 0, minSeqNo: types.NoSeqNo, maxSeqNo: types.NoSeqNo})
}

// NewSnapshot returns a point-in-time replay stream over every operation
// with seq-no >= fromSeqNo, oldest generation first. The covered generations
// are pinned against deletion until the snapshot is closed.
func (t *Translog) NewSnapshot(fromSeqNo types.SeqNo) (*MultiSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.stateErrLocked(); err != nil {
		return nil, err
	}

	var (
		snapshots []*TranslogSnapshot
		pinned    []types.GenerationID
		view      *Reader
	)
	for _, r := range t.readers {
		if r.TotalOperations() == 0 || r.MaxSeqNo() < fromSeqNo {
			continue
		}
		snapshots = append(snapshots, r.newSnapshot(fromSeqNo, t.trimmedAboveSeqNo, t.trimmedBelowTerm))
		pinned = append(pinned, r.Generation())
	}
	if t.writer.NumOps() > 0 && t.writer.MaxSeqNo() >= fromSeqNo {
		v, err := t.writer.newViewReader()
		if err != nil {
			return nil, err
		}
		view = v
		snapshots = append(snapshots, v.newSnapshot(fromSeqNo, t.trimmedAboveSeqNo, t.trimmedBelowTerm))
	}

	for _, gen := range pinned {
		t.pins[gen]++
	}

	var once sync.Once
	onClose := func() error {
		once.Do(func() {
			t.mu.Lock()
			for _, gen := range pinned {
				if t.pins[gen] > 1 {
					t.pins[gen]--
				} else {
					delete(t.pins, gen)
				}
			}
			t.mu.Unlock()
			if view != nil {
				_ = view.Close()
			}
		})
		return nil
	}

	t.collector.IncCounter("translog_snapshots_total", 1)
	return newMultiSnapshot(snapshots, onClose, t.cfg.StrictVerification), nil
}

// TrimOperations excludes operations that were superseded by a primary
// failover from future snapshots: anything above aboveSeqNo written under a
// term below belowTerm. The bytes stay on disk; only replay skips them.
func (t *Translog) TrimOperations(belowTerm types.Term, aboveSeqNo types.SeqNo) error {
	if belowTerm <= 0 || aboveSeqNo < types.NoSeqNo {
		return fmt.Errorf("%w: trim below term %d above seq-no %d", tlerrors.ErrInvalidArgument, belowTerm, aboveSeqNo)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.stateErrLocked(); err != nil {
		return err
	}
	if belowTerm < t.trimmedBelowTerm {
		return fmt.Errorf("%w: cannot lower trim term from %d to %d", tlerrors.ErrInvalidArgument, t.trimmedBelowTerm, belowTerm)
	}

	t.trimmedBelowTerm = belowTerm
	if t.trimmedAboveSeqNo == types.NoSeqNo || aboveSeqNo < t.trimmedAboveSeqNo {
		t.trimmedAboveSeqNo = aboveSeqNo
	}

	t.writer.mu.Lock()
	info := t.writer.infoLocked()
	t.writer.mu.Unlock()
	return t.saveCheckpoint(info)
}

// TrimUnreferencedReaders deletes rolled generations no longer needed: not
// pinned by any open snapshot, fully below the persisted checkpoint, and
// outside the retention budget. Deletion proceeds oldest-first and stops at
// the first generation that must stay, keeping the retained range
// contiguous.
func (t *Translog) TrimUnreferencedReaders() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.stateErrLocked(); err != nil {
		return err
	}

	totalBytes := t.writer.SizeInBytes()
	for _, r := range t.readers {
		totalBytes += r.SizeInBytes()
	}

	now := time.Now()
	removed := 0
	for i, r := range t.readers {
		if t.pins[r.Generation()] > 0 {
			break
		}
		if r.MaxSeqNo() > t.tracker.Checkpoint() {
			break // still needed to recover above the durable watermark
		}
		if len(t.readers)-i <= t.cfg.Retention.MinGenerations {
			break
		}
		overAge := now.Sub(r.modTime) > t.cfg.Retention.MaxAge
		overSize := totalBytes > t.cfg.Retention.MaxTotalBytes
		if !overAge && !overSize {
			break
		}

		if err := r.Close(); err != nil {
			return fmt.Errorf("failed to close generation %d: %w", r.Generation(), err)
		}
		if err := os.Remove(r.path); err != nil {
			return fmt.Errorf("failed to delete generation %d: %w", r.Generation(), err)
		}
		totalBytes -= r.SizeInBytes()
		removed++
		slog.Info("deleted translog generation", "generation", r.Generation(), "size", r.SizeInBytes())
	}
	if removed == 0 {
		return nil
	}

	t.readers = append([]*Reader(nil), t.readers[removed:]...)
	t.collector.IncCounter("translog_generations_deleted_total", int64(removed))

	t.writer.mu.Lock()
	info := t.writer.infoLocked()
	t.writer.mu.Unlock()
	return t.saveCheckpoint(info)
}

// Stats returns a point-in-time summary.
func (t *Translog) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{
		UUID:                t.uuid,
		Generation:          t.writer.Generation(),
		MinGeneration:       t.writer.Generation(),
		PersistedCheckpoint: t.tracker.Checkpoint(),
	}
	// MaxSeqNo comes from the files, not the tracker: the tracker only
	// learns seq-nos at fsync time, stats must also see buffered appends.
	maxSeqNo := types.NoSeqNo
	// A wedged writer was already sealed into the last reader; counting it
	// again would double the final generation.
	if t.wedged == nil {
		s.TotalOperations = t.writer.NumOps()
		s.SizeInBytes = t.writer.SizeInBytes()
		maxSeqNo = t.writer.MaxSeqNo()
	}
	if len(t.readers) > 0 {
		s.MinGeneration = t.readers[0].Generation()
	}
	for _, r := range t.readers {
		s.TotalOperations += r.TotalOperations()
		s.SizeInBytes += r.SizeInBytes()
		if r.MaxSeqNo() > maxSeqNo {
			maxSeqNo = r.MaxSeqNo()
		}
	}
	s.MaxSeqNo = maxSeqNo
	return s
}

// Generations lists every retained generation, oldest first, active last.
func (t *Translog) Generations() []GenerationInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]GenerationInfo, 0, len(t.readers)+1)
	for _, r := range t.readers {
		out = append(out, GenerationInfo{
			Generation:  r.Generation(),
			Operations:  r.TotalOperations(),
			SizeInBytes: r.SizeInBytes(),
			MinSeqNo:    r.MinSeqNo(),
			MaxSeqNo:    r.MaxSeqNo(),
			Pins:        t.pins[r.Generation()],
		})
	}
	if t.wedged == nil {
		t.writer.mu.Lock()
		info := t.writer.infoLocked()
		size := t.writer.writtenOffset
		t.writer.mu.Unlock()
		out = append(out, GenerationInfo{
			Generation:  t.writer.Generation(),
			Operations:  info.numOps,
			SizeInBytes: size,
			MinSeqNo:    info.minSeqNo,
			MaxSeqNo:    info.maxSeqNo,
			Active:      true,
		})
	}
	return out
}

// Close syncs and releases every file. Idempotent.
func (t *Translog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var firstErr error
	if t.wedged == nil {
		if info, err := t.writer.Sync(); err != nil {
			firstErr = err
		} else if err := t.saveCheckpoint(info); err != nil {
			firstErr = err
		}
	}
	if err := t.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, r := range t.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
