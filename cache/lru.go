package cache

// node is an intrusive doubly linked list element owned by an LRU.
type node[K comparable, V any] struct {
	key K
	val V

	// Intrusive list links: head is MRU, tail is LRU.
	prev *node[K, V]
	next *node[K, V]

	// Byte cost charged against maxSize when the node was stored.
	cost int64
}

// LRUOptions configures an LRU.
type LRUOptions[K comparable, V any] struct {
	// Cost returns the byte cost of a value; nil => SizeOf.
	Cost func(v V) int64

	// OnEvict receives every entry removed to satisfy the byte budget,
	// in eviction order (least recently used first).
	OnEvict func(k K, v V, reason EvictReason)
}

// LRU is a byte-bounded cache with strict least-recently-used eviction.
//
// After every Put the total cost of resident entries is at most MaxSize;
// entries are evicted one at a time from the LRU end until that holds, and
// each one is handed to OnEvict.
//
// LRU is not safe for concurrent use. Memory serializes access to it.
type LRU[K comparable, V any] struct {
	m       map[K]*node[K, V]
	head    *node[K, V] // MRU
	tail    *node[K, V] // LRU
	size    int64       // sum of node costs
	maxSize int64

	cost    func(v V) int64
	onEvict func(k K, v V, reason EvictReason)
}

// NewLRU constructs an LRU with a byte budget of maxSize.
// It panics if maxSize <= 0.
func NewLRU[K comparable, V any](maxSize int64, opt LRUOptions[K, V]) *LRU[K, V] {
	if maxSize <= 0 {
		panic("cache: LRU maxSize must be > 0")
	}
	c := &LRU[K, V]{
		m:       make(map[K]*node[K, V]),
		maxSize: maxSize,
		cost:    opt.Cost,
		onEvict: opt.OnEvict,
	}
	if c.cost == nil {
		c.cost = SizeOf[V]
	}
	return c
}

// Get returns the value for k and marks it most recently used.
// A miss has no side effect.
func (c *LRU[K, V]) Get(k K) (V, bool) {
	n, ok := c.m[k]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(n)
	return n.val, true
}

// Put inserts or replaces k→v as most recently used, then evicts from the
// LRU end until the byte budget is satisfied. A value that alone exceeds the
// budget is admitted and immediately evicted.
func (c *LRU[K, V]) Put(k K, v V) {
	cost := c.costOf(v)
	if n, ok := c.m[k]; ok {
		// In-place update: adjust cost delta and promote.
		c.size += cost - n.cost
		n.val = v
		n.cost = cost
		c.moveToFront(n)
		c.trim()
		return
	}

	n := &node[K, V]{key: k, val: v, cost: cost}
	c.m[k] = n
	c.insertFront(n)
	c.trim()
}

// Remove deletes k if present and returns true on success.
// Explicit removal does not invoke OnEvict.
func (c *LRU[K, V]) Remove(k K) bool {
	n, ok := c.m[k]
	if !ok {
		return false
	}
	c.unlink(n)
	delete(c.m, k)
	return true
}

// Len returns the number of resident entries.
func (c *LRU[K, V]) Len() int { return len(c.m) }

// Size returns the total cost of resident entries.
func (c *LRU[K, V]) Size() int64 { return c.size }

// MaxSize returns the byte budget.
func (c *LRU[K, V]) MaxSize() int64 { return c.maxSize }

// Keys returns resident keys from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.m))
	for n := c.head; n != nil; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

// -------------------- internals --------------------

func (c *LRU[K, V]) costOf(v V) int64 {
	n := c.cost(v)
	if n < 0 {
		return 0
	}
	return n
}

// insertFront inserts n at MRU in O(1).
func (c *LRU[K, V]) insertFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
	c.size += n.cost
}

// moveToFront promotes n to MRU in O(1).
func (c *LRU[K, V]) moveToFront(n *node[K, V]) {
	if n == c.head {
		return
	}
	// detach
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.tail == n {
		c.tail = n.prev
	}
	// insert at head
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

// unlink removes n from the list and updates the running size in O(1).
func (c *LRU[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.head == n {
		c.head = n.next
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
	c.size -= n.cost
}

// trim evicts LRU entries until size <= maxSize.
func (c *LRU[K, V]) trim() {
	for c.size > c.maxSize && c.tail != nil {
		n := c.tail
		c.unlink(n)
		delete(c.m, n.key)
		if c.onEvict != nil {
			c.onEvict(n.key, n.val, EvictCapacity)
		}
	}
}
