package cache

import (
	"math/rand"
	"strconv"
	"sync/atomic"
	"testing"
)

// benchmarkMix exercises a read/write mix against a warm Memory cache whose
// budget holds about half of the hot keyspace, so demotions and promotions
// are part of the measured path.
func benchmarkMix(b *testing.B, readsPct int) {
	m := NewMemory[string, []byte](Options[string, []byte]{
		MaxSize:          32_768 * 8,
		OverflowCapacity: 1_024,
	})
	b.Cleanup(func() { _ = m.Close() })

	val := make([]byte, 8)
	for i := 0; i < 32_768; i++ {
		m.Set("k:"+strconv.Itoa(i), val)
	}

	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	keyMask := (1 << 16) - 1

	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		i := 0
		for pb.Next() {
			k := "k:" + strconv.Itoa(i&keyMask)
			if r.Intn(100) < readsPct {
				m.Get(k)
			} else {
				m.Set(k, val)
			}
			i++
		}
	})
}

func BenchmarkMemory_90r10w(b *testing.B) { benchmarkMix(b, 90) }
func BenchmarkMemory_50r50w(b *testing.B) { benchmarkMix(b, 50) }

// BenchmarkLRU_Put measures the single-threaded strong tier with int keys.
func BenchmarkLRU_Put(b *testing.B) {
	c := NewLRU[int, []byte](1<<20, LRUOptions[int, []byte]{})
	val := make([]byte, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Put(i&((1<<16)-1), val)
	}
}
