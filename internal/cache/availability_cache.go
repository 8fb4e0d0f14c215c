package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AvailabilityCache stores serialized availability reads in Redis. Entries
// are namespaced by a per-lab generation counter; bumping the counter after a
// committed mutation orphans every entry for that lab, and the TTL reaps them.
type AvailabilityCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAvailabilityCache creates a cache with the given entry TTL.
func NewAvailabilityCache(rdb *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{rdb: rdb, ttl: ttl}
}

func generationKey(labID uuid.UUID) string { return fmt.Sprintf("labbook:avail:gen:%s", labID) }

func entryKey(labID uuid.UUID, gen int64, key string) string {
	return fmt.Sprintf("labbook:avail:%s:%d:%s", labID, gen, key)
}

func (c *AvailabilityCache) generation(ctx context.Context, labID uuid.UUID) (int64, error) {
	gen, err := c.rdb.Get(ctx, generationKey(labID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns the cached bytes for key, reporting a miss with ok=false. The
// generation the lookup ran under is returned so a later Set can file its
// result under the same one.
func (c *AvailabilityCache) Get(ctx context.Context, labID uuid.UUID, key string) ([]byte, int64, bool, error) {
	gen, err := c.generation(ctx, labID)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read cache generation: %w", err)
	}
	b, err := c.rdb.Get(ctx, entryKey(labID, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return b, gen, true, nil
}

// Set stores value under gen, the generation observed by the Get that
// missed. If the lab was invalidated in between, the entry lands in an
// orphaned namespace and is never read.
func (c *AvailabilityCache) Set(ctx context.Context, labID uuid.UUID, gen int64, key string, value []byte) error {
	return c.rdb.Set(ctx, entryKey(labID, gen, key), value, c.ttl).Err()
}

// Invalidate bumps the lab generation.
func (c *AvailabilityCache) Invalidate(ctx context.Context, labID uuid.UUID) error {
	return c.rdb.Incr(ctx, generationKey(labID)).Err()
}

// Ping verifies the connection, for readiness checks.
func (c *AvailabilityCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
