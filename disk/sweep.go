package disk

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/IvanBrykalov/tiercache/cache"
)

type fileEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// Sweep enforces the byte budget and the free-space watermark. When the
// cache-owned files exceed the budget, or the volume is below the
// watermark, the oldest ceil(fraction × count) files by access time are
// deleted. It returns the number of files removed.
func (c *Cache[V]) Sweep() int {
	if !c.available {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked("")
}

// sweepLocked runs a sweep with mu held. keep, if set, is never deleted.
func (c *Cache[V]) sweepLocked(keep string) int {
	entries, total, err := c.scan()
	if err != nil {
		c.log.Warn("scan cache dir", "err", err)
		c.cfg.metrics.Condition(cache.TierDisk, cache.ConditionIOError)
		return 0
	}
	c.bytes.Store(total)
	c.files.Store(int64(len(entries)))

	over := total > c.cfg.maxBytes
	low := c.lowSpace()
	if !over && !low {
		c.reportSize()
		return 0
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].path < entries[j].path
		}
		return entries[i].modTime.Before(entries[j].modTime)
	})

	// The epsilon absorbs float error on products that should be whole.
	n := int(math.Ceil(c.cfg.fraction*float64(len(entries)) - 1e-9))
	removed := 0
	for _, e := range entries {
		if removed == n {
			break
		}
		if e.path == keep {
			continue
		}
		if err := os.Remove(e.path); err != nil {
			c.log.Warn("sweep remove", "file", e.path, "err", err)
			continue
		}
		c.untrack(e.size)
		c.cfg.metrics.Evict(cache.TierDisk, cache.EvictSweep)
		removed++
	}
	c.log.Debug("sweep finished",
		"files", len(entries), "removed", removed,
		"bytes", c.bytes.Load(), "over_budget", over, "low_space", low)

	if c.lowSpace() {
		// Writes stay refused until space frees up elsewhere.
		c.log.Warn("disk cache degraded: free space below watermark after sweep")
		c.cfg.metrics.Condition(cache.TierDisk, cache.ConditionLowSpace)
	}
	c.reportSize()
	return removed
}

// lowSpace reports a known free space below the watermark. A failed probe
// does not trigger a sweep.
func (c *Cache[V]) lowSpace() bool {
	if c.cfg.watermark == 0 {
		return false
	}
	free, err := c.cfg.freeSpace(c.dir)
	if err != nil {
		c.log.Debug("free space probe failed", "err", err)
		return false
	}
	return free < uint64(c.cfg.watermark)
}

// scan lists cache-owned files. The directory belongs to the cache, so
// every regular file is an entry except leftover temp files, which are
// deleted.
func (c *Cache[V]) scan() ([]fileEntry, int64, error) {
	des, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	entries := make([]fileEntry, 0, len(des))
	var total int64
	for _, d := range des {
		if !d.Type().IsRegular() {
			continue
		}
		path := filepath.Join(c.dir, d.Name())
		if strings.HasPrefix(d.Name(), tmpPrefix) {
			_ = os.Remove(path)
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		total += info.Size()
		entries = append(entries, fileEntry{path: path, size: info.Size(), modTime: info.ModTime()})
	}
	return entries, total, nil
}
