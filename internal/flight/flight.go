// Package flight deduplicates concurrent fetches for the same resource key.
// While a fetch for a key is outstanding, every caller for that key shares
// the single underlying operation and receives the same result; the in-flight
// entry is removed unconditionally when the operation finishes.
package flight

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group wraps a singleflight.Group with typed results and in-flight
// observability. The zero value is not usable; create one with NewGroup.
type Group[T any] struct {
	sf singleflight.Group

	mu      sync.Mutex
	pending map[string]int
}

// NewGroup creates an empty Group.
func NewGroup[T any]() *Group[T] {
	return &Group[T]{pending: make(map[string]int)}
}

// Do executes fn for key, collapsing concurrent calls for the same key into
// one execution. shared reports whether the result was handed to more than
// one caller.
func (g *Group[T]) Do(key string, fn func() (T, error)) (T, bool, error) {
	g.track(key, 1)
	defer g.track(key, -1)

	v, err, shared := g.sf.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, shared, err
	}
	return v.(T), shared, nil
}

// InFlight reports whether at least one call for key is currently
// outstanding.
func (g *Group[T]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending[key] > 0
}

// Forget drops the in-flight entry for key so the next Do starts a fresh
// underlying call instead of joining the current one.
func (g *Group[T]) Forget(key string) {
	g.sf.Forget(key)
}

func (g *Group[T]) track(key string, delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[key] += delta
	if g.pending[key] <= 0 {
		delete(g.pending, key)
	}
}
