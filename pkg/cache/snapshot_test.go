package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/store"
)

func snapshotFor(worldID, players int) []store.WorldSnapshot {
	return []store.WorldSnapshot{{
		WorldID:     worldID,
		Region:      "Germany",
		Type:        "Members",
		Activity:    "",
		PlayerCount: players,
		CollectedAt: time.Date(2024, time.June, 10, 10, 0, 0, 0, time.UTC),
	}}
}

func TestSnapshotCacheProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	properties.Property("MemoryCache save/load round-trips", prop.ForAll(
		func(worldID, players int) bool {
			c := NewMemoryCache()
			snaps := snapshotFor(worldID, players)
			if err := c.Save(context.Background(), snaps); err != nil {
				return false
			}
			loaded, err := c.Load(context.Background())
			if err != nil {
				return false
			}
			return len(loaded) == 1 && loaded[0] == snaps[0]
		},
		gen.IntRange(301, 580),
		gen.IntRange(0, 2000),
	))

	properties.Property("RedisCache save/load round-trips", prop.ForAll(
		func(worldID, players int) bool {
			c := NewRedisCache(redisClient, "latest_worlds")
			snaps := snapshotFor(worldID, players)
			if err := c.Save(context.Background(), snaps); err != nil {
				return false
			}
			loaded, err := c.Load(context.Background())
			if err != nil {
				return false
			}
			return len(loaded) == 1 &&
				loaded[0].WorldID == snaps[0].WorldID &&
				loaded[0].PlayerCount == snaps[0].PlayerCount &&
				loaded[0].CollectedAt.Equal(snaps[0].CollectedAt)
		},
		gen.IntRange(301, 580),
		gen.IntRange(0, 2000),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestEmptyCacheIsAMiss(t *testing.T) {
	c := NewMemoryCache()
	loaded, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rc := NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "latest_worlds")
	loaded, err = rc.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryCacheCopiesOnSave(t *testing.T) {
	c := NewMemoryCache()
	snaps := snapshotFor(420, 1200)
	require.NoError(t, c.Save(context.Background(), snaps))

	// Mutating the caller's slice must not change the cached copy.
	snaps[0].PlayerCount = 9999

	loaded, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1200, loaded[0].PlayerCount)
}
