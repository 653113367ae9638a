package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "inventory:availability:version"

// Cache serves availability snapshots from Redis with versioned keys.
// Every write path bumps the version, invalidating all snapshots at
// once. A nil cache or an unreachable Redis degrades to direct reads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// FetchAvailability loads a cached snapshot or populates it using the
// loader. Concurrent fills for the same variant are collapsed.
func (c *Cache) FetchAvailability(ctx context.Context, variantID int64, loader func(context.Context) (Availability, error)) (Availability, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("inventory:availability:%d:%d", variantID, ver)

	result := c.group.DoChan(key, func() (interface{}, error) {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var snap Availability
			if err := json.Unmarshal(payload, &snap); err == nil {
				return snap, nil
			}
		}
		snap, err := loader(ctx)
		if err != nil {
			return Availability{}, err
		}
		if raw, err := json.Marshal(snap); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return Availability{}, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return Availability{}, res.Err
		}
		return res.Val.(Availability), nil
	}
}

// Bump invalidates every cached snapshot by incrementing the version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
