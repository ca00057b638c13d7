// Package loader resolves keys through the tiers in order: memory, disk,
// then the remote source, promoting every hit into the faster tiers.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/IvanBrykalov/tiercache/fetch"
	"github.com/IvanBrykalov/tiercache/internal/singleflight"
)

// ErrMiss is returned by Get when every tier was exhausted.
var ErrMiss = errors.New("loader: miss")

// Store is a cache tier keyed by string. cache.Memory and disk.Cache
// satisfy it.
type Store[V any] interface {
	Get(key string) (V, bool)
	Set(key string, v V)
}

// Decoder turns fetched bytes into a value. codec.Codec satisfies it.
type Decoder[V any] interface {
	Decode(data []byte) (V, error)
}

// Option configures a Loader.
type Option func(*options)

type options struct {
	coalesce bool
	log      *slog.Logger
	metrics  cache.Metrics
}

// WithCoalescing joins concurrent resolutions of the same key that reach
// the remote tier, so the source is fetched once.
func WithCoalescing(on bool) Option {
	return func(o *options) { o.coalesce = on }
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics sets the sink for remote-tier hits, misses and conditions.
func WithMetrics(m cache.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// Loader owns one memory tier, an optional disk tier and a source.
// It is safe for concurrent use if its tiers are.
type Loader[V any] struct {
	mem  Store[V]
	disk Store[V] // nil: memory and remote only
	src  fetch.Source
	dec  Decoder[V]
	opt  options

	sf singleflight.Group[string, V]
}

// New builds a Loader. disk and src may be nil; a nil src turns the loader
// into a read-through of the cache tiers.
func New[V any](mem Store[V], disk Store[V], src fetch.Source, dec Decoder[V], opts ...Option) *Loader[V] {
	if mem == nil {
		panic("loader: memory store is required")
	}
	o := options{
		log:     slog.New(slog.DiscardHandler),
		metrics: cache.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[V]{mem: mem, disk: disk, src: src, dec: dec, opt: o}
}

// Resolve returns the value for key and whether any tier produced it.
// It never fails for transient conditions; those are logged and counted.
func (l *Loader[V]) Resolve(ctx context.Context, key string) (V, bool) {
	v, err := l.Get(ctx, key)
	return v, err == nil
}

// Get is Resolve with the cause of a miss. The error always wraps ErrMiss;
// for a failed fetch it also wraps the source's error.
func (l *Loader[V]) Get(ctx context.Context, key string) (V, error) {
	if v, ok := l.mem.Get(key); ok {
		return v, nil
	}
	if l.disk != nil {
		if v, ok := l.disk.Get(key); ok {
			l.mem.Set(key, v)
			return v, nil
		}
	}
	if l.src == nil || l.dec == nil {
		var zero V
		return zero, ErrMiss
	}

	if !l.opt.coalesce {
		return l.fetch(ctx, key)
	}
	v, shared, err := l.sf.Do(ctx, key, func() (V, error) {
		// A resolution that finished while we were queuing may already
		// have filled memory.
		if v, ok := l.mem.Get(key); ok {
			return v, nil
		}
		return l.fetch(ctx, key)
	})
	if err != nil && !errors.Is(err, ErrMiss) {
		// Follower gave up waiting, or the leader panicked.
		err = fmt.Errorf("%w: %s: %w", ErrMiss, key, err)
	}
	if shared {
		l.opt.log.Debug("joined in-flight fetch", "key", key)
	}
	return v, err
}

// fetch consults the source, decodes and promotes into memory and disk.
func (l *Loader[V]) fetch(ctx context.Context, key string) (V, error) {
	var zero V
	data, err := l.src.Fetch(ctx, key)
	if err != nil {
		l.opt.log.Warn("fetch failed", "tier", cache.TierRemote.String(), "key", key, "err", err)
		l.opt.metrics.Condition(cache.TierRemote, cache.ConditionFetchFailed)
		l.opt.metrics.Miss(cache.TierRemote)
		return zero, fmt.Errorf("%w: fetch %s: %w", ErrMiss, key, err)
	}
	v, err := l.dec.Decode(data)
	if err != nil {
		l.opt.log.Warn("decode fetched payload", "tier", cache.TierRemote.String(), "key", key, "err", err)
		l.opt.metrics.Condition(cache.TierRemote, cache.ConditionCorrupt)
		l.opt.metrics.Miss(cache.TierRemote)
		return zero, fmt.Errorf("%w: decode %s: %w", ErrMiss, key, err)
	}
	l.opt.metrics.Hit(cache.TierRemote)

	l.mem.Set(key, v)
	if l.disk != nil {
		l.disk.Set(key, v)
	}
	return v, nil
}
