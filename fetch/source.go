// Package fetch provides the remote tier: a Source turns a key into raw
// payload bytes.
package fetch

import "context"

// Source fetches the raw bytes for key. Implementations must be safe for
// concurrent use. Any error is a miss for the caller; errors built by this
// package carry a github.com/jmgilman/go/errors code.
type Source interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context, key string) ([]byte, error)

// Fetch calls f(ctx, key).
func (f Func) Fetch(ctx context.Context, key string) ([]byte, error) { return f(ctx, key) }
