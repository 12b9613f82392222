package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// RateLimiter 判断某个用户是否还有出题额度。
type RateLimiter interface {
	Allow(ctx context.Context, userID uint) (bool, error)
}

// GenerationLimiter 按小时窗口限制每个用户的出题次数，计数存放在 Redis 中以便多实例共享。
type GenerationLimiter struct {
	client  redisRateCounter
	perHour int
	now     func() time.Time
}

// NewGenerationLimiter 构造限流器；perHour <= 0 表示不限流。
func NewGenerationLimiter(client redisRateCounter, perHour int) *GenerationLimiter {
	return &GenerationLimiter{client: client, perHour: perHour, now: time.Now}
}

// Allow 实现 RateLimiter。
func (l *GenerationLimiter) Allow(ctx context.Context, userID uint) (bool, error) {
	if l == nil || l.perHour <= 0 {
		return true, nil
	}
	window := l.now().UTC().Format("2006010215")
	key := fmt.Sprintf("rate:generate:%d:%s", userID, window)
	count, err := incrWithTTL(ctx, l.client, key, time.Hour)
	if err != nil {
		return false, fmt.Errorf("increment generation counter: %w", err)
	}
	return count <= int64(l.perHour), nil
}
