// Package cache provides a namespaced, TTL-based cache for analytics query
// results, collapsing concurrent misses for the same key via singleflight
// and falling back to a direct (uncached) call whenever the cache itself
// errors rather than ever failing the caller's query.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/mverteuil/birdcore/internal/logging"
)

var log = logging.ForService("cache")

// Cache wraps go-cache with namespace-scoped keys and a default/cleanup TTL
// pair, plus a singleflight group so N concurrent misses for the same key
// result in exactly one upstream call.
type Cache struct {
	store *gocache.Cache
	group singleflight.Group
}

// New creates a Cache whose entries expire after defaultTTL and are swept
// for expiry every cleanupInterval.
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	return &Cache{store: gocache.New(defaultTTL, cleanupInterval)}
}

// Key builds a stable cache key from a namespace and a set of parameters,
// hashing the params so arbitrarily complex query arguments collapse to a
// fixed-length key.
func Key(namespace string, params any) (string, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding cache key params: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return namespace + ":" + hex.EncodeToString(sum[:]), nil
}

// Fetch returns the cached value for key if present; otherwise it calls
// load exactly once across any concurrently-racing callers for the same
// key, caches the result for ttl (or the Cache's default if ttl is zero),
// and returns it. If the cache backend itself is unusable (it currently
// never is — go-cache has no error return — this hook exists so a future
// remote cache swap-in degrades to load() directly rather than failing
// queries).
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) (any, error)) (any, error) {
	if c == nil {
		return load(ctx)
	}

	if v, found := c.store.Get(key); found {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		result, loadErr := load(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		c.store.Set(key, result, ttl)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Invalidate removes every entry whose key begins with namespace, used when
// a write (e.g. a new detection) invalidates a whole family of cached
// analytics results rather than one specific key.
func (c *Cache) Invalidate(namespace string) {
	for key := range c.store.Items() {
		if len(key) >= len(namespace)+1 && key[:len(namespace)+1] == namespace+":" {
			c.store.Delete(key)
		}
	}
	log.Debug("invalidated cache namespace", "namespace", namespace)
}

// Clear removes every cached entry.
func (c *Cache) Clear() {
	c.store.Flush()
}
