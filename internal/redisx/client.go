package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Ping checks the connection at startup.
func Ping(ctx context.Context, rdb redis.Cmdable) error {
	return rdb.Ping(ctx).Err()
}

// Claim marks key as taken for ttl. It reports false when someone else
// already holds it (SETNX, so two consumers cannot both claim).
func Claim(ctx context.Context, rdb redis.Cmdable, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}
