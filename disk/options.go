package disk

import (
	"log/slog"
	"os"
	"time"

	"github.com/IvanBrykalov/tiercache/cache"
)

const (
	// DefaultMaxBytes is the byte budget for cache-owned files.
	DefaultMaxBytes = 10 << 20
	// DefaultWatermark is the free space below which writes are refused
	// and a sweep is due.
	DefaultWatermark = 10 << 20
	// DefaultSweepFraction is the share of files a sweep deletes, oldest first.
	DefaultSweepFraction = 0.4

	defaultDirPerm = 0o700
)

// Option configures a disk cache. Invalid values fall back to defaults so
// that New never fails.
type Option func(*config)

type config struct {
	maxBytes     int64
	watermark    int64
	fraction     float64
	freeSpace    func(path string) (uint64, error)
	now          func() time.Time
	log          *slog.Logger
	metrics      cache.Metrics
	dirPerm      os.FileMode
	sweepOnWrite bool
}

// WithMaxBytes sets the byte budget. Values <= 0 are ignored.
func WithMaxBytes(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithWatermark sets the minimum free space on the hosting volume.
// Use 0 to disable the free-space check.
func WithWatermark(n int64) Option {
	return func(c *config) {
		if n >= 0 {
			c.watermark = n
		}
	}
}

// WithSweepFraction sets the share of files removed by a sweep.
// Values outside (0, 1] are ignored.
func WithSweepFraction(f float64) Option {
	return func(c *config) {
		if f > 0 && f <= 1 {
			c.fraction = f
		}
	}
}

// WithFreeSpace replaces the free-space probe (sysinfo.FreeSpace).
func WithFreeSpace(fn func(path string) (uint64, error)) Option {
	return func(c *config) {
		if fn != nil {
			c.freeSpace = fn
		}
	}
}

// WithClock sets the time source used to stamp access times.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to cache.NoopMetrics.
func WithMetrics(m cache.Metrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithDirPerm sets the permissions used when creating the cache directory.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *config) {
		c.dirPerm = mode
	}
}

// WithSweepOnWrite controls whether a write that pushes the tracked size
// over budget runs a sweep. Enabled by default; when disabled the budget
// is only enforced at construction and by explicit Sweep calls.
func WithSweepOnWrite(on bool) Option {
	return func(c *config) {
		c.sweepOnWrite = on
	}
}
