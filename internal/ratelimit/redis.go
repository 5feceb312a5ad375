// Package ratelimit bounds how often one caller may hit the intake endpoint.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window counter per key stored in Redis.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewLimiter(redisURL string, limit int, window time.Duration) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	return &Limiter{
		rdb:    redis.NewClient(opts),
		limit:  limit,
		window: window,
		prefix: "briefing:ratelimit:",
		now:    time.Now,
	}, nil
}

// Allow counts one hit for key and reports whether it is within the limit
// for the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := l.now().UnixNano() / int64(l.window)
	redisKey := l.prefix + key + ":" + strconv.FormatInt(bucket, 10)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("increment counter: %w", err)
	}

	return incr.Val() <= int64(l.limit), nil
}

func (l *Limiter) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *Limiter) Close() error {
	return l.rdb.Close()
}
