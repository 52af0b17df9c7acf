// Package ratelimit throttles per-principal write traffic with Redis
// fixed-window counters, shared across server instances.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/telio-letalle/Pronote-sub002/internal/models"
)

var ErrRateLimited = errors.New("rate limit exceeded")

type Limiter struct {
	rdb *redis.Client
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Allow consumes one unit from the principal's bucket. Returns
// ErrRateLimited once the window's quota is spent. When Redis is down or
// not configured the limiter fails open; throttling is protection, not a
// correctness guarantee.
func (l *Limiter) Allow(ctx context.Context, p models.Principal, bucket string, limit int64, window time.Duration) error {
	if l == nil || l.rdb == nil {
		return nil
	}

	key := bucketKey(bucket, p, windowSlot(time.Now(), window))

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("rate limiter unavailable: %v", err)
		return nil
	}

	if incr.Val() > limit {
		return ErrRateLimited
	}
	return nil
}

func windowSlot(now time.Time, window time.Duration) int64 {
	return now.Unix() / int64(window.Seconds())
}

func bucketKey(bucket string, p models.Principal, slot int64) string {
	return fmt.Sprintf("rl:%s:%s:%d", bucket, p, slot)
}
