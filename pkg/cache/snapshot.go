package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/store"
)

// SnapshotCache holds the most recent per-world snapshot so the hot
// latest-worlds endpoint does not hit the database on every request. The
// store stays the source of truth; a miss just falls through to it.
type SnapshotCache interface {
	// Save replaces the cached snapshot
	Save(ctx context.Context, snaps []store.WorldSnapshot) error

	// Load retrieves the cached snapshot. Returns nil, nil on a miss.
	Load(ctx context.Context) ([]store.WorldSnapshot, error)
}

// MemoryCache implements SnapshotCache in process memory
type MemoryCache struct {
	mu    sync.RWMutex
	snaps []store.WorldSnapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Save(ctx context.Context, snaps []store.WorldSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = make([]store.WorldSnapshot, len(snaps))
	copy(c.snaps, snaps)
	return nil
}

func (c *MemoryCache) Load(ctx context.Context) ([]store.WorldSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snaps == nil {
		return nil, nil
	}
	out := make([]store.WorldSnapshot, len(c.snaps))
	copy(out, c.snaps)
	return out, nil
}

// RedisCache implements SnapshotCache using Redis, so the scraper and API
// processes share one cached snapshot
type RedisCache struct {
	client *redis.Client
	key    string
}

func NewRedisCache(client *redis.Client, key string) *RedisCache {
	return &RedisCache{
		client: client,
		key:    key,
	}
}

func (c *RedisCache) Save(ctx context.Context, snaps []store.WorldSnapshot) error {
	data, err := json.Marshal(snaps)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return c.client.Set(ctx, c.key, data, 0).Err()
}

func (c *RedisCache) Load(ctx context.Context) ([]store.WorldSnapshot, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var snaps []store.WorldSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snaps, nil
}
