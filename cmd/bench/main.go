// Command bench runs a synthetic workload against the memory tiers and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/tiercache/cache"
	pmet "github.com/IvanBrykalov/tiercache/metrics/prom"
)

func main() {
	// ---- Flags ----
	var (
		maxBytes  = flag.Int64("max_bytes", 64<<20, "strong tier budget (bytes)")
		overflow  = flag.Int("overflow", cache.DefaultOverflowCapacity, "overflow tier capacity (entries)")
		valueSize = flag.Int("value_size", 1024, "value size (bytes)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys    = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", -1, "preload entries (-1 = half the budget)")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()
	if *valueSize <= 0 {
		log.Fatalf("value_size must be > 0")
	}

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil)) //nolint:gosec // local debug endpoint
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "tiercache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil)) //nolint:gosec // local debug endpoint
	}()

	// ---- Build cache ----
	c := cache.NewMemory[string, []byte](cache.Options[string, []byte]{
		MaxSize:          *maxBytes,
		OverflowCapacity: *overflow,
		Metrics:          metrics,
	})
	defer func() { _ = c.Close() }()

	// ---- Preload half the budget to get a realistic hit-rate ----
	pl := *preload
	if pl < 0 {
		pl = int(*maxBytes / int64(*valueSize) / 2)
	}
	for i := 0; i < pl; i++ {
		c.Set("k:"+strconv.Itoa(i), make([]byte, *valueSize))
	}

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	size := *valueSize
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var reads, writes, hits, misses, total atomic.Uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973)) //nolint:gosec // workload only
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				total.Add(1)
				if int(localR.Int31n(100)) < readPctVal {
					reads.Add(1)
					if _, ok := c.Get(keyByZipf()); ok {
						hits.Add(1)
					} else {
						misses.Add(1)
					}
				} else {
					writes.Add(1)
					c.Set(keyByZipf(), make([]byte, size))
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := total.Load()
	readsN := reads.Load()
	hitsN := hits.Load()

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}
	st := c.Stats()

	fmt.Printf("max_bytes=%d overflow=%d value_size=%d workers=%d keys=%d dur=%v seed=%d\n",
		*maxBytes, *overflow, size, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writes.Load())
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, misses.Load(), hitRate)
	fmt.Printf("strong_hits=%d  overflow_hits=%d  promotions=%d  demotions=%d\n",
		st.StrongHits, st.OverflowHits, st.Promotions, st.Demotions)
	fmt.Printf("Len()=%d  Size()=%d\n", c.Len(), c.Size())
}
