// Package dedup tracks already-processed webhook notification ids so retried
// deliveries become no-ops.
package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for seen webhook notification ids
	notificationKeyPrefix = "webhook:notification:"
)

// RedisStore is a Redis-backed notification dedup store. This is the
// production implementation for multi-instance deployments where webhook
// retries may land on different replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a Redis-backed dedup store. Seen markers expire
// after ttl; provider retry windows are far shorter than a day.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

// MarkSeen records a notification id and reports whether it was new.
// Uses SETNX so concurrent deliveries of the same id elect one winner.
func (s *RedisStore) MarkSeen(ctx context.Context, notificationID string) (bool, error) {
	if notificationID == "" {
		return true, nil
	}
	key := notificationKeyPrefix + notificationID
	return s.client.SetNX(ctx, key, "1", s.ttl).Result()
}
