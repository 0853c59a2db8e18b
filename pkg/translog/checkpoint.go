package translog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"translog/pkg/types"
)

const checkpointFileName = "checkpoint.json"

// Checkpoint is the durable metadata of the log: which generations exist,
// how far the active one is synced, and the watermarks recovery needs.
type Checkpoint struct {
	UUID          string              `json:"uuid"`
	Generation    types.GenerationID  `json:"generation"`
	MinGeneration types.GenerationID  `json:"min_generation"`
	Offset        int64               `json:"offset"`
	NumOps        int                 `json:"num_ops"`
	MinSeqNo      types.SeqNo         `json:"min_seq_no"`
	MaxSeqNo      types.SeqNo         `json:"max_seq_no"`

	// PersistedCheckpoint is the highest seq-no below which every operation
	// is durable; the retention floor.
	PersistedCheckpoint types.SeqNo `json:"persisted_checkpoint"`

	// Term-aware trim markers; see Translog.TrimOperations.
	TrimmedAboveSeqNo types.SeqNo `json:"trimmed_above_seq_no"`
	TrimmedBelowTerm  types.Term  `json:"trimmed_below_term"`
}

// checkpointFile manages the on-disk checkpoint under a mutex. Saves are
// atomic: write a temp file, fsync it, rename over the old one, fsync the
// directory. A crash leaves either the old or the new checkpoint, never a
// torn one.
type checkpointFile struct {
	mu   sync.Mutex
	dir  string
	path string
	data Checkpoint
}

func newCheckpointFile(dir string) *checkpointFile {
	return &checkpointFile{
		dir:  dir,
		path: filepath.Join(dir, checkpointFileName),
	}
}

// Load reads the checkpoint from disk. Returns false if none exists yet
// (fresh log).
func (c *checkpointFile) Load() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &c.data); err != nil {
		return false, corrupted(c.path, 0, "failed to parse checkpoint", err)
	}
	if c.data.UUID == "" || c.data.Generation < c.data.MinGeneration {
		return false, corrupted(c.path, 0, "inconsistent checkpoint contents", nil)
	}
	return true, nil
}

// Save persists ckp atomically and keeps it as the in-memory copy.
func (c *checkpointFile) Save(ckp Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Concurrent sync barriers may race to checkpoint the same generation;
	// never replace a checkpoint with one that is behind it.
	if ckp.UUID == c.data.UUID && ckp.Generation == c.data.Generation && ckp.Offset < c.data.Offset {
		return nil
	}

	data, err := json.Marshal(ckp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	if err := syncDir(c.dir); err != nil {
		return err
	}

	c.data = ckp
	return nil
}

func (c *checkpointFile) Current() Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open dir for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync dir: %w", err)
	}
	return nil
}
