package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultSeenTTL bounds how long a message id stays in the seen-cache
	DefaultSeenTTL = 8 * 24 * time.Hour

	seenKeyPrefix = "crm:seen:"
)

// RedisSeenCache keeps ingested message ids in Redis with a TTL
type RedisSeenCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSeenCache(rdb *redis.Client, ttl time.Duration) *RedisSeenCache {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &RedisSeenCache{rdb: rdb, ttl: ttl}
}

func seenKey(tenantID, messageID string) string {
	return fmt.Sprintf("%s%s:%s", seenKeyPrefix, tenantID, messageID)
}

// Seen only reads; marking happens after the message has an outcome
func (c *RedisSeenCache) Seen(ctx context.Context, tenantID, messageID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, seenKey(tenantID, messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("seen-cache EXISTS: %w", err)
	}
	return n > 0, nil
}

func (c *RedisSeenCache) Remember(ctx context.Context, tenantID, messageID string) error {
	if err := c.rdb.SetNX(ctx, seenKey(tenantID, messageID), 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("seen-cache SETNX: %w", err)
	}
	return nil
}
