package types

// SeqNo is a per-shard monotonically assigned identifier for a write
// operation, used to establish a total order of writes. Assigned streams may
// contain gaps from concurrency.
type SeqNo = int64

// Term counts primary elections for a shard lineage; it qualifies sequence
// numbers to resolve ambiguity after failover.
type Term = int64

// GenerationID identifies one physical translog file. Monotonically
// increasing, never reused within a log.
type GenerationID = int64

const (
	// NoSeqNo marks "no operations recorded" in checkpoints and trackers.
	NoSeqNo SeqNo = -1

	// UnassignedSeqNo marks an operation that was never given a sequence number.
	UnassignedSeqNo SeqNo = -2
)
