// Command tierfetch resolves URLs through the memory, disk and HTTP tiers
// and reports where each one was served from.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/IvanBrykalov/tiercache/codec"
	"github.com/IvanBrykalov/tiercache/disk"
	"github.com/IvanBrykalov/tiercache/fetch"
	"github.com/IvanBrykalov/tiercache/internal/config"
	"github.com/IvanBrykalov/tiercache/internal/sysinfo"
	"github.com/IvanBrykalov/tiercache/loader"
	pmet "github.com/IvanBrykalov/tiercache/metrics/prom"
	"github.com/IvanBrykalov/tiercache/payload"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without process globals, so tests can drive it.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tierfetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath = fs.String("config", "", "YAML config file (empty = defaults)")
		dir     = fs.String("dir", "", "disk cache root (overrides config)")
		outDir  = fs.String("out", "", "write each payload into this directory")
		image   = fs.Bool("image", false, "decode payloads as images and keep bitmaps in memory")
		repeat  = fs.Int("repeat", 1, "resolve every URL this many times")
		offline = fs.Bool("offline", false, "never fetch; serve from memory and disk only")
		hold    = fs.Duration("hold", 0, "keep serving /metrics this long after resolving")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: tierfetch [flags] URL...")
		return 2
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if *dir != "" {
		cfg.Disk.Dir = *dir
	}
	log := cfg.Log.Logger(stderr)

	var metrics cache.Metrics = cache.NoopMetrics{}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		metrics = pmet.New(reg, "tiercache", "", nil)
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("metrics: serving", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server", "err", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	var src fetch.Source
	if !*offline {
		src = fetch.NewHTTP(
			fetch.WithTimeouts(cfg.Fetch.ConnectTimeout, cfg.Fetch.ReadTimeout),
			fetch.WithRetries(cfg.Fetch.Retries),
			fetch.WithMaxBytes(cfg.Fetch.MaxBytes),
			fetch.WithHeader("User-Agent", cfg.Fetch.UserAgent),
			fetch.WithLogger(log),
		)
	}

	var ok bool
	if *image {
		ok = resolveAll[*payload.Bitmap](ctx, cfg, src, codec.Bitmap{}, codec.Bitmap{}, log, metrics, fs.Args(), *repeat, stdout, *outDir, ".png")
	} else {
		z, err := codec.NewZstd[payload.Blob](codec.Blob{})
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer func() { _ = z.Close() }()
		ok = resolveAll[payload.Blob](ctx, cfg, src, z, codec.Blob{}, log, metrics, fs.Args(), *repeat, stdout, *outDir, "")
	}

	if *hold > 0 && cfg.Metrics.Addr != "" {
		select {
		case <-time.After(*hold):
		case <-ctx.Done():
		}
	}
	if !ok {
		return 1
	}
	return 0
}

// resolveAll wires the tiers for value type V and resolves every URL.
// diskCodec persists values; wire decodes fetched bytes.
func resolveAll[V cache.Sizer](
	ctx context.Context,
	cfg config.Config,
	src fetch.Source,
	diskCodec codec.Codec[V],
	wire codec.Codec[V],
	log *slog.Logger,
	metrics cache.Metrics,
	urls []string,
	repeat int,
	stdout io.Writer,
	outDir, ext string,
) bool {
	budget := cfg.Memory.MaxBytes
	if budget == 0 {
		budget = sysinfo.MemoryBudget()
	}
	mem := cache.NewMemory[string, V](cache.Options[string, V]{
		MaxSize:          budget,
		OverflowCapacity: cfg.Memory.OverflowEntries,
		Metrics:          metrics,
	})
	defer func() { _ = mem.Close() }()

	var store loader.Store[V]
	if dir := cfg.Disk.CacheDir(); !cfg.Disk.Disabled && dir != "" {
		dc := disk.New[V](dir, diskCodec,
			disk.WithMaxBytes(cfg.Disk.MaxBytes),
			disk.WithWatermark(cfg.Disk.WatermarkBytes),
			disk.WithSweepFraction(cfg.Disk.SweepFraction),
			disk.WithSweepOnWrite(cfg.Disk.SweepOnWrite),
			disk.WithLogger(log),
			disk.WithMetrics(metrics),
		)
		log.Debug("disk tier", "dir", dc.Dir(), "max_bytes", dc.MaxBytes(),
			"available", dc.Available(), "files", dc.Len())
		store = dc
	}

	l := loader.New[V](mem, store, src, wire,
		loader.WithCoalescing(cfg.Loader.Coalesce),
		loader.WithLogger(log),
		loader.WithMetrics(metrics),
	)

	all := true
	for i := 0; i < repeat; i++ {
		for _, u := range urls {
			start := time.Now()
			v, err := l.Get(ctx, u)
			if err != nil {
				fmt.Fprintf(stdout, "MISS %s (%v)\n", u, err)
				all = false
				continue
			}
			fmt.Fprintf(stdout, "OK   %s %d bytes in %v\n", u, v.Size(), time.Since(start).Round(time.Microsecond))
			if outDir != "" && i == 0 {
				if err := writeOut(outDir, u, ext, wire, v); err != nil {
					log.Warn("write output", "url", u, "err", err)
				}
			}
		}
	}
	s := mem.Stats()
	fmt.Fprintf(stdout, "memory: strong_hits=%d overflow_hits=%d misses=%d promotions=%d demotions=%d\n",
		s.StrongHits, s.OverflowHits, s.Misses, s.Promotions, s.Demotions)
	return all
}

func writeOut[V any](dir, url, ext string, c codec.Codec[V], v V) error {
	data, err := c.Encode(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, disk.Filename(url)+ext), data, 0o644) //nolint:gosec // user output
}
