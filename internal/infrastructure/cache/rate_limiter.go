package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

const rateLimitPrefix = "lt:ratelimit:"

// RateLimiter bounds request rates per client key.
type RateLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRateLimiter creates a redis-backed sliding window limiter
func NewRateLimiter(client *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{client: client, logger: logger}
}

// Allow records one request and reports whether it fits the window. The
// sorted set holds one member per request scored by nanosecond timestamp;
// expired members are trimmed before counting.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window)
	limitKey := rateLimitPrefix + key

	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()[:8])

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, limitKey, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, limitKey)
	pipe.ZAdd(ctx, limitKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, limitKey, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.NewUpstreamError("redis", "rate limit check failed").WithCause(err)
	}

	if countCmd.Val() >= int64(limit) {
		// Back out the member added above so rejected requests do not
		// consume budget
		r.client.ZRem(ctx, limitKey, member)
		return false, nil
	}
	return true, nil
}

// Count returns the current number of requests inside the window
func (r *RateLimiter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	limitKey := rateLimitPrefix + key
	windowStart := time.Now().Add(-window)

	if err := r.client.ZRemRangeByScore(ctx, limitKey, "-inf",
		strconv.FormatInt(windowStart.UnixNano(), 10)).Err(); err != nil {
		return 0, errors.NewUpstreamError("redis", "rate limit cleanup failed").WithCause(err)
	}
	count, err := r.client.ZCard(ctx, limitKey).Result()
	if err != nil {
		return 0, errors.NewUpstreamError("redis", "rate limit count failed").WithCause(err)
	}
	return int(count), nil
}

// Reset clears a client's window
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, rateLimitPrefix+key).Err(); err != nil {
		return errors.NewUpstreamError("redis", "rate limit reset failed").WithCause(err)
	}
	return nil
}
