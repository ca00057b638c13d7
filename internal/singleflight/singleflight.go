// Package singleflight joins concurrent resolutions of the same key.
package singleflight

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPanicked is returned to followers when the leader's fn panicked.
var ErrPanicked = errors.New("singleflight: leader panicked")

// Group runs fn at most once per key among overlapping callers; the rest
// wait for and share the leader's result.
//
// A follower whose ctx ends stops waiting and returns ctx.Err(); the
// leader's fn keeps running, so thread ctx into fn if the work itself must
// stop. The zero Group is ready to use.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done    chan struct{} // closed after val/err are published
	val     V
	err     error
	waiters int // followers that joined, guarded by Group.mu
}

// Do runs fn for key unless a call is already in flight, in which case it
// waits for that call. shared reports whether the result went to more than
// one caller.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (v V, shared bool, err error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		c.waiters++
		g.mu.Unlock()

		select {
		case <-c.done:
			return c.val, true, c.err
		case <-ctx.Done():
			var zero V
			return zero, true, ctx.Err()
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	g.run(key, c, fn)

	g.mu.Lock()
	shared = c.waiters > 0
	g.mu.Unlock()
	return c.val, shared, c.err
}

// InFlight returns the number of keys with a running leader.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

// run executes fn and always publishes a result, even if fn panics; the
// panic is then re-raised in the leader.
func (g *Group[K, V]) run(key K, c *call[V], fn func() (V, error)) {
	normal := false
	defer func() {
		if !normal {
			r := recover()
			c.err = fmt.Errorf("%w: %v", ErrPanicked, r)
			g.finish(key, c)
			panic(r)
		}
		g.finish(key, c)
	}()
	c.val, c.err = fn()
	normal = true
}

// finish wakes followers and removes the in-flight marker.
func (g *Group[K, V]) finish(key K, c *call[V]) {
	close(c.done)
	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
}
