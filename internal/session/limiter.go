package session

import (
	"context"
	"time"

	"voicebridge/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces at most one live session per user across processes.
// The TTL prevents a leaked slot if a process dies mid-session.
type RedisLimiter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLimiter(rdb *redis.Client, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLimiter{rdb: rdb, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, capKey(userID), 1, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, userID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, capKey(userID))
}

func capKey(userID string) string { return "live_session:" + userID }
