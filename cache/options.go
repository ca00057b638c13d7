package cache

// Tier identifies one layer of the resolution chain.
type Tier int

const (
	// TierStrong is the byte-bounded LRU holding strong references.
	TierStrong Tier = iota
	// TierOverflow is the entry-bounded tier of reclaimable handles.
	TierOverflow
	// TierDisk is the persistent directory-backed tier.
	TierDisk
	// TierRemote is the fetch source consulted after every cache tier missed.
	TierRemote
)

func (t Tier) String() string {
	switch t {
	case TierStrong:
		return "strong"
	case TierOverflow:
		return "overflow"
	case TierDisk:
		return "disk"
	case TierRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// EvictReason explains why an entry left a tier.
type EvictReason int

const (
	// EvictCapacity: removed from the strong tier to satisfy its byte budget.
	EvictCapacity EvictReason = iota
	// EvictOverflow: the eldest overflow entry dropped when the entry count was exceeded.
	EvictOverflow
	// EvictReclaimed: the overflow handle resolved to "gone" on read.
	EvictReclaimed
	// EvictCleared: dropped by an explicit Clear.
	EvictCleared
	// EvictSweep: deleted by the disk tier's batch sweep.
	EvictSweep
	// EvictCorrupt: a disk entry failed to decode and was deleted.
	EvictCorrupt
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictOverflow:
		return "overflow"
	case EvictReclaimed:
		return "reclaimed"
	case EvictCleared:
		return "cleared"
	case EvictSweep:
		return "sweep"
	case EvictCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Condition is a degraded state observed by a tier. Conditions never change
// the hit/miss contract; they only surface through Metrics and logs.
type Condition int

const (
	// ConditionLowSpace: a write was refused or a sweep left too little free space.
	ConditionLowSpace Condition = iota
	// ConditionCorrupt: a stored or fetched payload failed to decode.
	ConditionCorrupt
	// ConditionIOError: a read, write or stat failed.
	ConditionIOError
	// ConditionFetchFailed: the remote source returned an error.
	ConditionFetchFailed
	// ConditionUnavailable: the tier has no usable storage and runs as a no-op.
	ConditionUnavailable
)

func (c Condition) String() string {
	switch c {
	case ConditionLowSpace:
		return "low_space"
	case ConditionCorrupt:
		return "corrupt"
	case ConditionIOError:
		return "io_error"
	case ConditionFetchFailed:
		return "fetch_failed"
	case ConditionUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Metrics exposes per-tier observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit(t Tier)
	Miss(t Tier)
	Evict(t Tier, reason EvictReason)
	Size(t Tier, entries int, cost int64)
	Condition(t Tier, c Condition)
}

// DefaultOverflowCapacity is the overflow tier's entry limit when none is configured.
const DefaultOverflowCapacity = 15

// Options configures a Memory cache. Zero values are safe except MaxSize;
// defaults are applied in NewMemory():
//   - OverflowCapacity <= 0 => DefaultOverflowCapacity
//   - nil Handle            => Pin (strong handles, deterministic LRU by count)
//   - nil Cost              => SizeOf
//   - nil Metrics           => NoopMetrics
type Options[K comparable, V any] struct {
	// MaxSize is the strong tier's byte budget. Must be > 0.
	// sysinfo.MemoryBudget() returns the recommended 1/8 of available memory.
	MaxSize int64

	// OverflowCapacity is the overflow tier's entry limit.
	OverflowCapacity int

	// Handle wraps a demoted value. Use Weak for pointer values that the
	// garbage collector may reclaim independently of the cache.
	Handle func(v V) Handle[V]

	// Cost returns the byte cost of v. Negative results are treated as 0.
	Cost func(v V) int64

	// OnEvict is called when a key leaves memory entirely (dropped from the
	// overflow tier, reclaimed or cleared). It runs under the cache lock;
	// keep callbacks lightweight and do not call back into the cache.
	OnEvict func(k K, reason EvictReason)

	Metrics Metrics
}
