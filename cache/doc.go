// Package cache provides the in-memory half of tiercache: a byte-bounded
// strong LRU paired with a small overflow tier of reclaimable handles.
//
// Design
//
//   - Strong tier (LRU): a map[K]*node plus an intrusive MRU↔LRU doubly
//     linked list. Each value is charged its byte cost (Sizer.Size, the
//     length of []byte/string, or Options.Cost). After every Put the total
//     cost is at most MaxSize; victims are removed one at a time from the
//     LRU end and handed to an eviction callback.
//
//   - Overflow tier (Overflow): access-ordered and bounded by entry count
//     (DefaultOverflowCapacity = 15). Values are held through a Handle that
//     may resolve to "gone" at any read, which is an ordinary miss. Pin keeps
//     a strong reference (a second, smaller LRU); Weak uses weak.Pointer so
//     the garbage collector can reclaim the value on its own schedule.
//
//   - Memory: wires the two together. Strong evictions are demoted into the
//     overflow tier; overflow hits are promoted back. One mutex covers both
//     tiers so a promotion is never observable halfway.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size/Condition signals
//     per Tier. NoopMetrics is the default; metrics/prom exports them.
//
// Basic usage
//
//	m := cache.NewMemory[string, []byte](cache.Options[string, []byte]{
//	    MaxSize: sysinfo.MemoryBudget(),
//	})
//	m.Set("a", []byte("payload"))
//	if v, ok := m.Get("a"); ok {
//	    _ = v
//	}
//
// With weak handles
//
//	m := cache.NewMemory[string, *payload.Bitmap](cache.Options[string, *payload.Bitmap]{
//	    MaxSize: 64 << 20,
//	    Handle:  cache.Weak[payload.Bitmap],
//	})
//
// Thread-safety & complexity
//
// Memory is safe for concurrent use. LRU and Overflow are not; they are
// exported for callers that serialize access themselves. Every operation is
// O(1) expected time plus O(1) per evicted entry.
package cache
