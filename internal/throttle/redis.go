package throttle

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCmdable interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// Redis is a limiter shared across server instances (SET NX PX).
type Redis struct {
	rdb    redisCmdable
	window time.Duration
	prefix string
}

// NewRedis constructs a Redis-backed limiter.
func NewRedis(rdb redisCmdable, window time.Duration) *Redis {
	return &Redis{rdb: rdb, window: window, prefix: "lms:throttle:"}
}

// Allow sets the key with the window as TTL; an existing key means throttled.
func (r *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := r.prefix + key
	ok, err := r.rdb.SetNX(ctx, k, 1, r.window).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}
	ttl, err := r.rdb.PTTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		return false, r.window, nil
	}
	return false, ttl, nil
}
