// Package disk implements the persistent tier: one flat directory of files
// named by the MD5 of the cache key, with file mtime as the access time.
//
// The byte budget and the free-space watermark are enforced in batches by
// Sweep (at construction and, by default, after a write that crosses the
// budget) rather than per access. The cache never returns I/O errors:
// failures are logged, reported through cache.Metrics and treated as misses
// or dropped writes.
package disk

import (
	"crypto/md5" //nolint:gosec // filenames only, not a security boundary
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/IvanBrykalov/tiercache/codec"
	"github.com/IvanBrykalov/tiercache/internal/sysinfo"
	"github.com/IvanBrykalov/tiercache/internal/util"
)

// tmpPrefix marks in-flight writes. Such files never count as entries.
const tmpPrefix = ".tmp-"

// Cache is a directory-backed cache of values encoded with a codec.Codec.
// Reads run concurrently; writes, removals and sweeps are serialized.
type Cache[V any] struct {
	dir   string
	codec codec.Codec[V]
	cfg   config
	log   *slog.Logger

	// false when the directory could not be created or written; every
	// operation is then a no-op miss.
	available bool

	mu    sync.RWMutex
	bytes util.PaddedAtomicInt64 // tracked size of cache-owned files
	files util.PaddedAtomicInt64 // tracked number of cache-owned files
}

// New opens (creating if needed) a disk cache rooted at dir and runs one
// sweep. It never fails: if dir is empty or unusable the returned cache
// misses on every Get and drops every Set.
func New[V any](dir string, c codec.Codec[V], opts ...Option) *Cache[V] {
	cfg := config{
		maxBytes:     DefaultMaxBytes,
		watermark:    DefaultWatermark,
		fraction:     DefaultSweepFraction,
		freeSpace:    sysinfo.FreeSpace,
		now:          time.Now,
		log:          slog.New(slog.DiscardHandler),
		metrics:      cache.NoopMetrics{},
		dirPerm:      defaultDirPerm,
		sweepOnWrite: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dc := &Cache[V]{
		dir:   dir,
		codec: c,
		cfg:   cfg,
		log:   cfg.log.With("tier", cache.TierDisk.String(), "dir", dir),
	}
	if err := dc.probe(); err != nil {
		dc.log.Warn("disk cache unavailable, running without persistence", "err", err)
		cfg.metrics.Condition(cache.TierDisk, cache.ConditionUnavailable)
		return dc
	}
	dc.available = true
	dc.Sweep()
	return dc
}

// Get returns the value stored for key. Missing, unreadable and corrupt
// entries are misses; a corrupt file is deleted. A hit refreshes the
// file's access time.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if !c.available {
		return zero, false
	}
	path := c.Path(key)

	c.mu.RLock()
	info, data, err := readEntry(path)
	if err != nil {
		c.mu.RUnlock()
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("read cache file", "key", key, "file", path, "err", err)
			c.cfg.metrics.Condition(cache.TierDisk, cache.ConditionIOError)
		}
		c.cfg.metrics.Miss(cache.TierDisk)
		return zero, false
	}

	v, err := c.codec.Decode(data)
	if err != nil {
		c.mu.RUnlock()
		c.log.Warn("corrupt cache file, deleting", "key", key, "file", path, "err", err)
		c.cfg.metrics.Condition(cache.TierDisk, cache.ConditionCorrupt)
		c.removeIfUnchanged(path, info)
		c.cfg.metrics.Miss(cache.TierDisk)
		return zero, false
	}

	now := c.cfg.now()
	if err := os.Chtimes(path, now, now); err != nil {
		c.log.Debug("refresh access time", "file", path, "err", err)
	}
	c.mu.RUnlock()

	c.cfg.metrics.Hit(cache.TierDisk)
	return v, true
}

// Set encodes v and stores it under key, replacing any previous content.
// The write is dropped when free space is below the watermark or on any
// encode or I/O failure.
func (c *Cache[V]) Set(key string, v V) {
	if !c.available {
		return
	}
	data, err := c.codec.Encode(v)
	if err != nil {
		c.log.Warn("encode value", "key", key, "err", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasRoom() {
		c.log.Debug("write refused: low free space", "key", key)
		return
	}
	if err := os.MkdirAll(c.dir, c.cfg.dirPerm); err != nil {
		c.log.Warn("create cache dir", "err", err)
		c.cfg.metrics.Condition(cache.TierDisk, cache.ConditionIOError)
		return
	}

	path := c.Path(key)
	var oldSize int64
	existed := false
	if info, err := os.Stat(path); err == nil {
		oldSize, existed = info.Size(), true
	}
	if err := c.writeFile(path, data); err != nil {
		c.log.Warn("write cache file", "key", key, "file", path, "err", err)
		c.cfg.metrics.Condition(cache.TierDisk, cache.ConditionIOError)
		return
	}
	c.bytes.Add(int64(len(data)) - oldSize)
	if !existed {
		c.files.Add(1)
	}

	if c.cfg.sweepOnWrite && c.bytes.Load() > c.cfg.maxBytes {
		c.sweepLocked(path)
	} else {
		c.reportSize()
	}
}

// Remove deletes the entry for key and reports whether a file was removed.
func (c *Cache[V]) Remove(key string) bool {
	if !c.available {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.Path(key)
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		c.log.Warn("remove cache file", "file", path, "err", err)
		return false
	}
	c.untrack(info.Size())
	c.reportSize()
	return true
}

// Filename returns the lowercase hex MD5 of key.
func Filename(key string) string {
	sum := md5.Sum([]byte(key)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// Path returns the file that holds key.
func (c *Cache[V]) Path(key string) string {
	return filepath.Join(c.dir, Filename(key))
}

// Dir returns the cache root.
func (c *Cache[V]) Dir() string { return c.dir }

// Available reports whether the cache has usable storage.
func (c *Cache[V]) Available() bool { return c.available }

// SizeBytes returns the tracked size of cache-owned files.
func (c *Cache[V]) SizeBytes() int64 { return c.bytes.Load() }

// Len returns the tracked number of cache-owned files.
func (c *Cache[V]) Len() int { return int(c.files.Load()) }

// MaxBytes returns the byte budget.
func (c *Cache[V]) MaxBytes() int64 { return c.cfg.maxBytes }

// -------------------- internals --------------------

// probe makes sure dir exists and accepts writes.
func (c *Cache[V]) probe() error {
	if c.dir == "" {
		return errors.New("cache dir is empty")
	}
	if err := os.MkdirAll(c.dir, c.cfg.dirPerm); err != nil {
		return err
	}
	f, err := os.CreateTemp(c.dir, tmpPrefix+"probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// hasRoom applies the watermark. An unknown free space refuses the write.
func (c *Cache[V]) hasRoom() bool {
	if c.cfg.watermark == 0 {
		return true
	}
	free, err := c.cfg.freeSpace(c.dir)
	if err != nil {
		c.log.Warn("free space probe failed, refusing write", "err", err)
		c.cfg.metrics.Condition(cache.TierDisk, cache.ConditionIOError)
		return false
	}
	if free < uint64(c.cfg.watermark) {
		c.cfg.metrics.Condition(cache.TierDisk, cache.ConditionLowSpace)
		return false
	}
	return true
}

// writeFile replaces path atomically via a temp file in the same directory
// and stamps it with the current access time.
func (c *Cache[V]) writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	now := c.cfg.now()
	_ = os.Chtimes(path, now, now)
	return nil
}

// removeIfUnchanged deletes a corrupt file unless a writer replaced it
// after it was read.
func (c *Cache[V]) removeIfUnchanged(path string, seen fs.FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := os.Stat(path)
	if err != nil || cur.Size() != seen.Size() || !cur.ModTime().Equal(seen.ModTime()) {
		return
	}
	if err := os.Remove(path); err != nil {
		c.log.Warn("remove corrupt file", "file", path, "err", err)
		return
	}
	c.untrack(cur.Size())
	c.cfg.metrics.Evict(cache.TierDisk, cache.EvictCorrupt)
	c.reportSize()
}

func (c *Cache[V]) untrack(size int64) {
	c.bytes.Add(-size)
	c.files.Add(-1)
}

func (c *Cache[V]) reportSize() {
	c.cfg.metrics.Size(cache.TierDisk, int(c.files.Load()), c.bytes.Load())
}

func readEntry(path string) (fs.FileInfo, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a hash
	if err != nil {
		return nil, nil, err
	}
	return info, data, nil
}
