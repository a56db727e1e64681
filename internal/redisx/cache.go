package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// fillScript sets KEYS[1] only while the generation in KEYS[2] still equals
// ARGV[1] (empty string for an absent generation).
const fillScript = `
local g = redis.call('GET', KEYS[2])
if (g == false and ARGV[1] == '') or g == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
  return 1
end
return 0`

// GenKey is the invalidation counter paired with a cache key.
func GenKey(key string) string { return key + ":gen" }

// Generation reads the invalidation counter of key. Read it before loading
// from the source of truth and pass it to FillIfCurrent.
func Generation(ctx context.Context, rdb redis.Cmdable, key string) (string, error) {
	g, err := rdb.Get(ctx, GenKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return g, err
}

// FillIfCurrent caches value under key unless key was invalidated since gen
// was read, so a slow reader cannot put back a value older than the write
// that invalidated it.
func FillIfCurrent(ctx context.Context, rdb redis.Cmdable, key, gen, value string, ttl time.Duration) (bool, error) {
	n, err := rdb.Eval(ctx, fillScript, []string{key, GenKey(key)}, gen, value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate drops key and bumps its generation. The generation outlives
// the cached value by genTTL.
func Invalidate(ctx context.Context, rdb redis.Cmdable, key string, genTTL time.Duration) error {
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, GenKey(key))
		p.Expire(ctx, GenKey(key), genTTL)
		p.Del(ctx, key)
		return nil
	})
	return err
}
