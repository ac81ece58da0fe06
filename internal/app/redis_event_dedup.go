/**
 * @description
 * Redis-backed suppression of replayed gateway notifications. Gateways retry
 * deliveries aggressively; processing is idempotent without this, so the
 * deduper only saves database round trips and log noise. A degraded or
 * absent Redis never blocks notification handling.
 */

package app

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEventDeduper implements Deduper on a shared Redis instance so replay
// suppression holds across service replicas.
type RedisEventDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisEventDeduper creates a deduper that remembers notification keys
// for the given window.
func NewRedisEventDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisEventDeduper {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "oddjobs:notify_dedup"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &RedisEventDeduper{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

// Seen atomically records the key and reports whether it was already
// present. A nil client reports every key as unseen.
func (d *RedisEventDeduper) Seen(ctx context.Context, key string) (bool, error) {
	if d == nil || d.client == nil {
		return false, nil
	}
	normalized := strings.TrimSpace(key)
	if normalized == "" {
		return false, nil
	}

	set, err := d.client.SetNX(ctx, d.prefix+":"+normalized, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}
