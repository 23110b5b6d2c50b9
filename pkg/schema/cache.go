package schema

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a Store with a Redis-backed cache of each key's latest
// document, avoiding a round trip to the backing store on every FindLatest
// lookup against the true latest version. Pinned-version lookups
// (maxVersion != 0) always bypass the cache, since they're rare compared
// to "give me the current schema" and keeping them out of the cache keeps
// the invalidation rule on Upsert simple: any new version for a key just
// deletes that key's one cache entry.
type CachedStore struct {
	backing Store
	client  *redis.Client
	prefix  string
}

// NewCachedStore wraps backing with a cache on client, keying entries under
// prefix (e.g. "mdstudio:schema:").
func NewCachedStore(backing Store, client *redis.Client, prefix string) *CachedStore {
	return &CachedStore{backing: backing, client: client, prefix: prefix}
}

func (c *CachedStore) cacheKey(key Key) string {
	return c.prefix + key.String()
}

// Upsert delegates to the backing store and evicts key's cache entry, since
// a successful upsert (or even a no-op one returning the unchanged latest)
// means the cached document may now be stale.
func (c *CachedStore) Upsert(ctx context.Context, key Key, body json.RawMessage, uploadedBy string) (*Document, error) {
	doc, err := c.backing.Upsert(ctx, key, body, uploadedBy)
	if err != nil {
		return nil, err
	}
	_ = c.client.Del(ctx, c.cacheKey(key)).Err() // best-effort; a stale cache entry self-heals on next Upsert
	return doc, nil
}

// FindLatest serves maxVersion==0 lookups from cache when present, falling
// back to the backing store on a cache miss or any Redis error.
func (c *CachedStore) FindLatest(ctx context.Context, key Key, maxVersion int) (*Document, error) {
	if maxVersion != 0 {
		return c.backing.FindLatest(ctx, key, maxVersion)
	}

	if raw, err := c.client.Get(ctx, c.cacheKey(key)).Bytes(); err == nil {
		var doc Document
		if jsonErr := json.Unmarshal(raw, &doc); jsonErr == nil {
			return &doc, nil
		}
	}

	doc, err := c.backing.FindLatest(ctx, key, 0)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(doc); err == nil {
		_ = c.client.Set(ctx, c.cacheKey(key), raw, 0).Err()
	}
	return doc, nil
}

var _ Store = (*CachedStore)(nil)
