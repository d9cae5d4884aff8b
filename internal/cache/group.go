package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// FillFunc produces the entry for a key on a cache miss.
type FillFunc func(ctx context.Context) (Entry, error)

// Group funnels concurrent misses for one key into a single fill call.
type Group struct {
	store Store
	sf    singleflight.Group
}

func NewGroup(store Store) *Group {
	return &Group{store: store}
}

// GetOrFill returns the cached entry for key, filling it at most once no
// matter how many callers arrive together. The bool reports whether this
// caller was served without its own fill: a store hit or a shared in-flight
// result.
func (g *Group) GetOrFill(ctx context.Context, key string, fill FillFunc) (Entry, bool, error) {
	if e, ok, err := g.store.Get(ctx, key); err == nil && ok {
		return e, true, nil
	}

	v, err, shared := g.sf.Do(key, func() (any, error) {
		// A concurrent filler may have finished between our miss and here.
		if e, ok, err := g.store.Get(ctx, key); err == nil && ok {
			return e, nil
		}
		e, err := fill(ctx)
		if err != nil {
			return Entry{}, err
		}
		e.Key = key
		// Cache write failures never fail the synthesis result.
		_ = g.store.Put(ctx, e)
		return e, nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return v.(Entry), shared, nil
}

// Stats exposes the underlying store counters.
func (g *Group) Stats() Stats {
	return g.store.Stats()
}

// Prune forwards to the underlying store.
func (g *Group) Prune(ctx context.Context) error {
	return g.store.Prune(ctx)
}

// Close releases the underlying store.
func (g *Group) Close() error {
	return g.store.Close()
}
