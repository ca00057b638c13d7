package cache

import (
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/tiercache/internal/util"
)

// Stats is a point-in-time snapshot of Memory counters.
type Stats struct {
	StrongHits   uint64
	OverflowHits uint64
	Misses       uint64
	Promotions   uint64 // overflow -> strong
	Demotions    uint64 // strong -> overflow
}

// memoryStats keeps hot counters on separate cache lines.
type memoryStats struct {
	strongHits   util.PaddedAtomicUint64
	overflowHits util.PaddedAtomicUint64
	misses       util.PaddedAtomicUint64
	promotions   util.PaddedAtomicUint64
	demotions    util.PaddedAtomicUint64
}

// Memory is the two-level in-memory cache: a byte-bounded strong LRU whose
// evictions are demoted into an entry-bounded overflow tier of reclaimable
// handles. A single mutex covers both tiers, so a concurrent reader never
// observes a key missing from both while it is being promoted.
type Memory[K comparable, V any] struct {
	mu     sync.Mutex
	strong *LRU[K, V]
	over   *Overflow[K, V]

	closed atomic.Bool
	stats  memoryStats

	opt  Options[K, V]
	cost func(v V) int64
}

var _ Cache[string, []byte] = (*Memory[string, []byte])(nil)

// NewMemory constructs a Memory cache. It panics if opt.MaxSize <= 0.
func NewMemory[K comparable, V any](opt Options[K, V]) *Memory[K, V] {
	if opt.MaxSize <= 0 {
		panic("cache: MaxSize must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	m := &Memory[K, V]{opt: opt, cost: opt.Cost}
	if m.cost == nil {
		m.cost = SizeOf[V]
	}
	m.over = NewOverflow(opt.OverflowCapacity, OverflowOptions[K, V]{
		Handle: opt.Handle,
		Cost:   m.cost,
		OnDrop: m.dropped,
	})
	m.strong = NewLRU(opt.MaxSize, LRUOptions[K, V]{
		Cost:    opt.Cost,
		OnEvict: m.demote,
	})
	return m
}

// Get returns the value for k. A strong hit marks k most recently used; an
// overflow hit promotes k back into the strong tier. A value costing more
// than MaxSize could never stay in the strong tier, so it is served from
// the overflow tier without promotion.
func (m *Memory[K, V]) Get(k K) (V, bool) {
	if m.closed.Load() {
		var zero V
		return zero, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.strong.Get(k); ok {
		m.stats.strongHits.Add(1)
		m.opt.Metrics.Hit(TierStrong)
		return v, true
	}
	m.opt.Metrics.Miss(TierStrong)

	v, ok := m.over.Get(k)
	if !ok {
		m.stats.misses.Add(1)
		m.opt.Metrics.Miss(TierOverflow)
		m.reportSize()
		return v, false
	}
	m.stats.overflowHits.Add(1)
	m.opt.Metrics.Hit(TierOverflow)
	if m.cost(v) > m.strong.MaxSize() {
		return v, true
	}

	// Promote. Removing first keeps the demotions triggered by Put from
	// finding a stale copy of k in the overflow tier.
	m.over.Remove(k)
	m.stats.promotions.Add(1)
	m.strong.Put(k, v)
	m.reportSize()
	return v, true
}

// Set stores k→v in the strong tier. Any older copy of k held by the
// overflow tier is discarded.
func (m *Memory[K, V]) Set(k K, v V) {
	if m.closed.Load() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.over.Remove(k)
	m.strong.Put(k, v)
	m.reportSize()
}

// Remove deletes k from both tiers and reports whether it was present.
func (m *Memory[K, V]) Remove(k K) bool {
	if m.closed.Load() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.strong.Remove(k)
	b := m.over.Remove(k)
	m.reportSize()
	return a || b
}

// Len returns the number of entries in both tiers.
func (m *Memory[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strong.Len() + m.over.Len()
}

// Size returns the byte cost held by the strong tier.
func (m *Memory[K, V]) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strong.Size()
}

// Clear drops every overflow entry.
func (m *Memory[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.over.Clear()
	m.reportSize()
}

// Stats returns a snapshot of the hit, miss and movement counters.
func (m *Memory[K, V]) Stats() Stats {
	return Stats{
		StrongHits:   m.stats.strongHits.Load(),
		OverflowHits: m.stats.overflowHits.Load(),
		Misses:       m.stats.misses.Load(),
		Promotions:   m.stats.promotions.Load(),
		Demotions:    m.stats.demotions.Load(),
	}
}

// Close marks the cache as closed. Future operations are ignored.
func (m *Memory[K, V]) Close() error {
	m.closed.Store(true)
	return nil
}

// -------------------- internals (called with mu held) --------------------

// demote receives strong-tier evictions.
func (m *Memory[K, V]) demote(k K, v V, reason EvictReason) {
	m.stats.demotions.Add(1)
	m.opt.Metrics.Evict(TierStrong, reason)
	m.over.Put(k, v)
}

// dropped receives overflow-tier evictions; k has now left memory.
func (m *Memory[K, V]) dropped(k K, reason EvictReason) {
	m.opt.Metrics.Evict(TierOverflow, reason)
	if m.opt.OnEvict != nil {
		m.opt.OnEvict(k, reason)
	}
}

func (m *Memory[K, V]) reportSize() {
	m.opt.Metrics.Size(TierStrong, m.strong.Len(), m.strong.Size())
	m.opt.Metrics.Size(TierOverflow, m.over.Len(), m.over.Size())
}
