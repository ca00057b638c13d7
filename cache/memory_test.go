package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// recMetrics records evictions and hits per tier.
type recMetrics struct {
	NoopMetrics
	mu     sync.Mutex
	hits   map[Tier]int
	evicts map[Tier]int
	cost   map[Tier]int64
}

func newRecMetrics() *recMetrics {
	return &recMetrics{hits: map[Tier]int{}, evicts: map[Tier]int{}, cost: map[Tier]int64{}}
}

func (r *recMetrics) Hit(t Tier) {
	r.mu.Lock()
	r.hits[t]++
	r.mu.Unlock()
}

func (r *recMetrics) Size(t Tier, _ int, cost int64) {
	r.mu.Lock()
	r.cost[t] = cost
	r.mu.Unlock()
}

func (r *recMetrics) Evict(t Tier, _ EvictReason) {
	r.mu.Lock()
	r.evicts[t]++
	r.mu.Unlock()
}

func newTestMemory(maxSize int64) *Memory[string, string] {
	return NewMemory[string, string](Options[string, string]{MaxSize: maxSize})
}

// Basic Set/Get/Remove semantics.
func TestMemory_BasicSetGetRemove(t *testing.T) {
	t.Parallel()

	m := newTestMemory(64)
	t.Cleanup(func() { _ = m.Close() })

	m.Set("a", "1")
	if v, ok := m.Get("a"); !ok || v != "1" {
		t.Fatalf("Get a want 1, got %q ok=%v", v, ok)
	}
	m.Set("a", "11")
	if v, _ := m.Get("a"); v != "11" {
		t.Fatalf("Get a want 11, got %q", v)
	}
	if !m.Remove("a") {
		t.Fatal("Remove a must be true")
	}
	if _, ok := m.Get("a"); ok {
		t.Fatal("a must be absent after Remove")
	}
}

// An entry evicted from the strong tier is still served by the overflow tier.
func TestMemory_DemotionPath(t *testing.T) {
	t.Parallel()

	rm := newRecMetrics()
	m := NewMemory[string, string](Options[string, string]{MaxSize: 2, Metrics: rm})
	t.Cleanup(func() { _ = m.Close() })

	m.Set("a", "1")
	m.Set("b", "2")
	m.Set("c", "3") // evicts a from strong -> overflow

	if m.strong.Len() != 2 || m.over.Len() != 1 {
		t.Fatalf("want 2 strong + 1 overflow, got %d + %d", m.strong.Len(), m.over.Len())
	}
	if v, ok := m.Get("a"); !ok || v != "1" {
		t.Fatalf("demoted a must be served, got %q ok=%v", v, ok)
	}
	if rm.hits[TierOverflow] != 1 {
		t.Fatalf("want one overflow hit, got %d", rm.hits[TierOverflow])
	}
	if s := m.Stats(); s.Demotions < 1 || s.Promotions != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

// Repeated Gets of an overflow-served key promote it exactly once; later
// Gets are strong hits.
func TestMemory_PromotionIdempotent(t *testing.T) {
	t.Parallel()

	m := newTestMemory(3)
	t.Cleanup(func() { _ = m.Close() })

	for _, k := range []string{"a", "b", "c", "d"} {
		m.Set(k, k)
	}
	// a was demoted.
	for i := 0; i < 5; i++ {
		if _, ok := m.Get("a"); !ok {
			t.Fatalf("Get #%d of a missed", i)
		}
	}
	s := m.Stats()
	if s.Promotions != 1 || s.OverflowHits != 1 || s.StrongHits != 4 {
		t.Fatalf("want 1 promotion, 1 overflow hit, 4 strong hits, got %+v", s)
	}
	// Promoting a pushed b down; the total is unchanged.
	if m.Len() != 4 {
		t.Fatalf("len want 4, got %d", m.Len())
	}
}

// Demoted values keep their cost in the overflow size report.
func TestMemory_ReportsOverflowCost(t *testing.T) {
	t.Parallel()

	rm := newRecMetrics()
	m := NewMemory[string, string](Options[string, string]{MaxSize: 4, Metrics: rm})
	t.Cleanup(func() { _ = m.Close() })

	m.Set("a", "aaa")
	m.Set("b", "bbbb") // a -> overflow
	rm.mu.Lock()
	strong, over := rm.cost[TierStrong], rm.cost[TierOverflow]
	rm.mu.Unlock()
	if strong != 4 || over != 3 {
		t.Fatalf("want strong=4 overflow=3, got %d and %d", strong, over)
	}
}

// A value that cannot fit the strong tier is served from overflow without
// churning through promotion and demotion.
func TestMemory_OversizedServedFromOverflow(t *testing.T) {
	t.Parallel()

	m := newTestMemory(2)
	t.Cleanup(func() { _ = m.Close() })

	m.Set("big", "xxxxx") // admitted, evicted, demoted
	m.Set("a", "1")
	before := m.Stats()
	for i := 0; i < 5; i++ {
		if v, ok := m.Get("big"); !ok || v != "xxxxx" {
			t.Fatalf("Get #%d: got %q ok=%v", i, v, ok)
		}
	}
	s := m.Stats()
	if s.Promotions != 0 || s.Demotions != before.Demotions || s.OverflowHits != 5 {
		t.Fatalf("oversized value must not move between tiers, got %+v", s)
	}
	if _, ok := m.Get("a"); !ok {
		t.Fatal("a must stay in the strong tier")
	}
}

// Values survive strong eviction once; the overflow tier bounds them by count.
func TestMemory_OverflowCapacity(t *testing.T) {
	t.Parallel()

	var lost []string
	m := NewMemory[string, string](Options[string, string]{
		MaxSize:          1,
		OverflowCapacity: 2,
		OnEvict:          func(k string, _ EvictReason) { lost = append(lost, k) },
	})
	t.Cleanup(func() { _ = m.Close() })

	for i := 0; i < 5; i++ {
		k := strconv.Itoa(i)
		m.Set(k, k)
	}
	// strong: 4; overflow: 3, 2; lost: 0, 1
	if len(lost) != 2 || lost[0] != "0" || lost[1] != "1" {
		t.Fatalf("want [0 1] lost, got %v", lost)
	}
	for _, k := range []string{"2", "3", "4"} {
		if _, ok := m.Get(k); !ok {
			t.Fatalf("%s must be served from memory", k)
		}
	}
}

// Clear releases the overflow tier and leaves the strong tier alone.
func TestMemory_ClearDropsOverflowOnly(t *testing.T) {
	t.Parallel()

	m := newTestMemory(1)
	t.Cleanup(func() { _ = m.Close() })

	m.Set("a", "1")
	m.Set("b", "2") // a -> overflow
	m.Clear()

	if _, ok := m.Get("a"); ok {
		t.Fatal("a must be gone after Clear")
	}
	if _, ok := m.Get("b"); !ok {
		t.Fatal("b must stay in the strong tier")
	}
}

// Set of a key held by the overflow tier discards the stale copy.
func TestMemory_SetReplacesDemotedCopy(t *testing.T) {
	t.Parallel()

	m := newTestMemory(1)
	t.Cleanup(func() { _ = m.Close() })

	m.Set("a", "old")
	m.Set("b", "2") // a -> overflow
	m.Set("a", "new")

	if m.Len() != 2 {
		t.Fatalf("len want 2, got %d", m.Len())
	}
	if v, _ := m.Get("a"); v != "new" {
		t.Fatalf("want new, got %q", v)
	}
}

func TestMemory_ClosedIgnoresOps(t *testing.T) {
	t.Parallel()

	m := newTestMemory(8)
	m.Set("a", "1")
	_ = m.Close()

	m.Set("b", "2")
	if _, ok := m.Get("a"); ok {
		t.Fatal("closed cache must miss")
	}
	if m.Remove("a") {
		t.Fatal("closed cache must not remove")
	}
}

// Concurrent readers never see a key missing from both tiers while it is
// moved between them.
func TestMemory_PromotionIsAtomic(t *testing.T) {
	t.Parallel()

	m := newTestMemory(2)
	t.Cleanup(func() { _ = m.Close() })

	// Two hot keys ping-pong between tiers: every Get of one demotes the other.
	m.Set("x", "x")
	m.Set("y", "y")
	m.Set("z", "z")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			keys := []string{"x", "y", "z"}
			for i := 0; ctx.Err() == nil; i++ {
				k := keys[(i+w)%len(keys)]
				if _, ok := m.Get(k); !ok {
					return fmt.Errorf("worker %d: %s missing from both tiers", w, k)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
