package cache

// Cache is the two-level in-memory cache interface implemented by Memory.
// All methods are safe for concurrent use by multiple goroutines.
//
// Lookups consult the strong tier first and fall back to the overflow tier;
// an overflow hit is promoted back into the strong tier before it is returned.
type Cache[K comparable, V any] interface {
	// Get returns the value for k and a boolean flag indicating presence.
	// A strong-tier hit marks the entry most recently used; an overflow hit
	// moves the entry back into the strong tier.
	Get(k K) (V, bool)

	// Set inserts or replaces k→v in the strong tier. Values only reach the
	// overflow tier through eviction from the strong tier.
	Set(k K, v V)

	// Remove deletes k from both tiers and reports whether it was present.
	Remove(k K) bool

	// Len returns the number of resident entries across both tiers.
	Len() int

	// Clear drops every overflow entry. It is the release valve for memory
	// pressure; strong entries are untouched.
	Clear()

	// Close marks the cache closed. Subsequent operations are ignored.
	Close() error
}

// Sizer is implemented by values that know their own byte cost.
// The strong tier charges Size() against its byte budget.
type Sizer interface {
	Size() int64
}

// SizeOf returns the byte cost of v. Sizer values report their own size,
// byte slices and strings their length; anything else (including nil) costs 0.
func SizeOf[V any](v V) int64 {
	var n int64
	switch x := any(v).(type) {
	case Sizer:
		n = x.Size()
	case []byte:
		n = int64(len(x))
	case string:
		n = int64(len(x))
	}
	if n < 0 {
		return 0
	}
	return n
}
