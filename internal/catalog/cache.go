package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

type Lister interface {
	List(ctx context.Context) ([]Product, error)
}

// Cache serves catalog snapshots cache-aside from Redis. Concurrent misses
// collapse into one load. A nil Redis client turns it into a pass-through.
type Cache struct {
	src    Lister
	rdb    redis.Cmdable
	key    string
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

func NewCache(src Lister, rdb redis.Cmdable, key string, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{src: src, rdb: rdb, key: key, ttl: ttl, logger: logger}
}

// Snapshot returns the cached catalog, loading it on a miss. Redis failures
// degrade to reading the source.
func (c *Cache) Snapshot(ctx context.Context) (Snapshot, error) {
	if snap, ok := c.cached(ctx); ok {
		return snap, nil
	}
	v, err, _ := c.group.Do(c.key, func() (any, error) {
		// another caller may have filled it while we waited
		if snap, ok := c.cached(ctx); ok {
			return snap, nil
		}
		return c.load(ctx)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// Fresh bypasses the cache and refills it.
func (c *Cache) Fresh(ctx context.Context) (Snapshot, error) {
	return c.load(ctx)
}

// Invalidate drops the cached snapshot. Loads that started before it do not
// write their older snapshot back.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return redisx.Invalidate(ctx, c.rdb, c.key, 2*c.ttl)
}

// load reads the source and fills the cache if nothing invalidated it
// in between.
func (c *Cache) load(ctx context.Context) (Snapshot, error) {
	gen, genOK := c.generation(ctx)
	ps, err := c.src.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load catalog: %w", err)
	}
	snap := NewSnapshot(ps)
	if genOK {
		c.store(ctx, gen, snap)
	}
	return snap, nil
}

func (c *Cache) generation(ctx context.Context) (string, bool) {
	if c.rdb == nil || c.ttl <= 0 {
		return "", false
	}
	gen, err := redisx.Generation(ctx, c.rdb, c.key)
	if err != nil {
		c.logger.Warn("catalog cache generation read failed", "err", err)
		return "", false
	}
	return gen, true
}

func (c *Cache) cached(ctx context.Context) (Snapshot, bool) {
	if c.rdb == nil || c.ttl <= 0 {
		return Snapshot{}, false
	}
	b, err := c.rdb.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("catalog cache read failed", "err", err)
		}
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		c.logger.Warn("catalog cache entry corrupt", "err", err)
		return Snapshot{}, false
	}
	return snap, true
}

func (c *Cache) store(ctx context.Context, gen string, snap Snapshot) {
	b, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("catalog cache encode failed", "err", err)
		return
	}
	if _, err := redisx.FillIfCurrent(ctx, c.rdb, c.key, gen, string(b), c.ttl); err != nil {
		c.logger.Warn("catalog cache write failed", "err", err)
	}
}
