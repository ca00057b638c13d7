package cache

import (
	"container/list"
	"weak"
)

// Handle is a reclaimable reference to a value. Value reports false once the
// referent is gone; a gone handle is a cache miss, never an error.
type Handle[V any] interface {
	Value() (V, bool)
}

type pinned[V any] struct{ v V }

func (p pinned[V]) Value() (V, bool) { return p.v, true }

// Pin wraps v in a handle that never resolves to gone. With Pin the
// overflow tier behaves as a second, smaller strict LRU (by entry count),
// which keeps behavior deterministic on every platform.
func Pin[V any](v V) Handle[V] { return pinned[V]{v: v} }

type weakHandle[T any] struct{ p weak.Pointer[T] }

func (h weakHandle[T]) Value() (*T, bool) {
	v := h.p.Value()
	return v, v != nil
}

// Weak wraps v in a handle backed by weak.Pointer. Once no strong reference
// to *v remains outside the cache, the garbage collector may reclaim it and
// the handle resolves to gone. A nil v is gone immediately.
func Weak[T any](v *T) Handle[*T] { return weakHandle[T]{p: weak.Make(v)} }

// overflowEntry is the list payload; element.Value is *overflowEntry.
type overflowEntry[K comparable, V any] struct {
	key  K
	h    Handle[V]
	cost int64 // measured at Put
}

// OverflowOptions configures an Overflow tier.
type OverflowOptions[K comparable, V any] struct {
	// Handle wraps values on Put; nil => Pin.
	Handle func(v V) Handle[V]

	// Cost returns the byte cost of a value; nil => SizeOf. The tier is
	// bounded by count, cost is only reported through Size.
	Cost func(v V) int64

	// OnDrop is called when an entry leaves the tier for any reason other
	// than an explicit Remove.
	OnDrop func(k K, reason EvictReason)
}

// Overflow is an access-ordered cache bounded by entry count whose values
// are held through reclaimable handles. When the count exceeds capacity the
// single eldest entry is dropped.
//
// Overflow is not safe for concurrent use. Memory serializes access to it.
type Overflow[K comparable, V any] struct {
	capacity int

	// MRU at Front() -> LRU at Back()
	ll   *list.List
	idx  map[K]*list.Element
	size int64 // sum of entry costs

	handle func(v V) Handle[V]
	cost   func(v V) int64
	onDrop func(k K, reason EvictReason)
}

// NewOverflow constructs an overflow tier holding at most capacity entries.
// A non-positive capacity selects DefaultOverflowCapacity.
func NewOverflow[K comparable, V any](capacity int, opt OverflowOptions[K, V]) *Overflow[K, V] {
	if capacity <= 0 {
		capacity = DefaultOverflowCapacity
	}
	o := &Overflow[K, V]{
		capacity: capacity,
		ll:       list.New(),
		idx:      make(map[K]*list.Element, capacity+1),
		handle:   opt.Handle,
		cost:     opt.Cost,
		onDrop:   opt.OnDrop,
	}
	if o.handle == nil {
		o.handle = Pin[V]
	}
	if o.cost == nil {
		o.cost = SizeOf[V]
	}
	return o
}

// Get resolves the handle for k. A reclaimed handle is removed and reported
// as a miss; a live one is promoted to MRU.
func (o *Overflow[K, V]) Get(k K) (V, bool) {
	var zero V
	el, ok := o.idx[k]
	if !ok {
		return zero, false
	}
	v, live := el.Value.(*overflowEntry[K, V]).h.Value()
	if !live {
		o.drop(el, EvictReclaimed)
		return zero, false
	}
	o.ll.MoveToFront(el)
	return v, true
}

// Put inserts or replaces k→v at MRU and drops the eldest entry if the
// tier is over capacity.
func (o *Overflow[K, V]) Put(k K, v V) {
	cost := o.cost(v)
	if cost < 0 {
		cost = 0
	}
	if el, ok := o.idx[k]; ok {
		e := el.Value.(*overflowEntry[K, V])
		o.size += cost - e.cost
		e.h, e.cost = o.handle(v), cost
		o.ll.MoveToFront(el)
		return
	}
	o.idx[k] = o.ll.PushFront(&overflowEntry[K, V]{key: k, h: o.handle(v), cost: cost})
	o.size += cost
	if o.ll.Len() > o.capacity {
		if tail := o.ll.Back(); tail != nil {
			o.drop(tail, EvictOverflow)
		}
	}
}

// Remove deletes k if present and returns true on success.
func (o *Overflow[K, V]) Remove(k K) bool {
	el, ok := o.idx[k]
	if !ok {
		return false
	}
	o.ll.Remove(el)
	delete(o.idx, k)
	o.size -= el.Value.(*overflowEntry[K, V]).cost
	return true
}

// Clear drops all entries unconditionally.
func (o *Overflow[K, V]) Clear() {
	for el := o.ll.Back(); el != nil; el = o.ll.Back() {
		o.drop(el, EvictCleared)
	}
}

// Len returns the number of entries, including ones whose handles have
// been reclaimed but not yet observed.
func (o *Overflow[K, V]) Len() int { return o.ll.Len() }

// Size returns the cost of resident entries as measured when they were
// put, including reclaimed ones not yet observed.
func (o *Overflow[K, V]) Size() int64 { return o.size }

// Capacity returns the entry limit.
func (o *Overflow[K, V]) Capacity() int { return o.capacity }

func (o *Overflow[K, V]) drop(el *list.Element, reason EvictReason) {
	e := el.Value.(*overflowEntry[K, V])
	o.ll.Remove(el)
	delete(o.idx, e.key)
	o.size -= e.cost
	if o.onDrop != nil {
		o.onDrop(e.key, reason)
	}
}
