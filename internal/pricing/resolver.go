package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Resolver answers "what does (provider, model) cost at this instant". Store
// entries win over the built-in fallback table; current-time lookups are
// cached in redis with a short TTL since pricing is read-mostly.
type Resolver struct {
	store Store
	cache *redis.Client
	ttl   time.Duration
	log   *zap.SugaredLogger
}

func NewResolver(store Store, cache *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *Resolver {
	return &Resolver{store: store, cache: cache, ttl: ttl, log: log}
}

// Resolve returns the entry active at the given instant, or ErrNotPriced when
// neither the store nor the fallback table knows the model.
func (r *Resolver) Resolve(ctx context.Context, provider, model string, at time.Time) (*Entry, error) {
	// Only near-now lookups hit the cache; historical queries must see the
	// entry that was active at that instant.
	cacheable := r.cache != nil && time.Since(at).Abs() < time.Minute
	cacheKey := fmt.Sprintf("pricing:%s:%s", provider, model)

	if cacheable {
		var e Entry
		if err := r.cache.Get(ctx, cacheKey).Scan(&e); err == nil {
			return &e, nil
		} else if err != redis.Nil {
			r.log.Warnw("pricing cache read failed", "error", err)
		}
	}

	entry, err := r.store.ActiveEntry(ctx, provider, model, at)
	if err != nil {
		if !errors.Is(err, ErrNoEntry) {
			return nil, err
		}
		entry = FallbackEntry(provider, model)
		if entry == nil {
			return nil, ErrNotPriced
		}
	}

	if cacheable {
		if err := r.cache.Set(ctx, cacheKey, entry, r.ttl).Err(); err != nil {
			r.log.Warnw("pricing cache write failed", "error", err)
		}
	}

	return entry, nil
}

// Catalog merges the store's active entries with fallback models the store
// does not cover. Used for cross-provider cost comparison.
func (r *Resolver) Catalog(ctx context.Context, at time.Time) ([]*Entry, error) {
	entries, err := r.store.ActiveEntries(ctx, at)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Provider+"/"+e.Model] = true
	}
	for _, e := range FallbackEntries() {
		if !seen[e.Provider+"/"+e.Model] {
			entries = append(entries, e)
		}
	}

	return entries, nil
}
