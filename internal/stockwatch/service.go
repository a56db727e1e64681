// Package stockwatch consumes order.placed and reports counters that an
// order left at zero. It also refreshes the cached catalog so listings stop
// showing sold-out sizes as available.
package stockwatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/events"
	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// Refresher reloads the catalog and refills its cache.
type Refresher interface {
	Fresh(ctx context.Context) (catalog.Snapshot, error)
}

// Dedup remembers processed event ids.
type Dedup interface {
	// Claim reports false when eventID was already claimed.
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type Service struct {
	Catalog Refresher
	Dedup   Dedup // nil processes every delivery
	Events  *events.Emitter
	Logger  *slog.Logger
}

// HandleOrderPlaced dipasang sebagai handler consumer. Returning an error
// makes the consumer retry the message; its offset is not committed until
// a retry succeeds.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) (err error) {
	env, p, ok, err := events.Decode[events.OrderPlacedPayload](m.Value, events.EventOrderPlaced)
	if err != nil {
		// pesan rusak tidak akan pernah sukses; log lalu commit
		s.Logger.Error("drop undecodable message", "topic", m.Topic, "offset", m.Offset, "err", err)
		return nil
	}
	if !ok {
		return nil // ignore
	}

	// dedup via Redis (pakai event_id)
	if s.Dedup != nil {
		claimed, err := s.Dedup.Claim(ctx, env.EventID)
		if err != nil {
			return err
		}
		if !claimed {
			s.Logger.Debug("duplicate event skipped", "event_id", env.EventID, "order_id", p.OrderID)
			return nil
		}
		defer func() {
			if err != nil {
				// lepas klaim supaya redelivery bisa diproses ulang
				if rerr := s.Dedup.Release(context.WithoutCancel(ctx), env.EventID); rerr != nil {
					s.Logger.Warn("release dedup claim", "event_id", env.EventID, "err", rerr)
				}
			}
		}()
	}

	snap, err := s.Catalog.Fresh(ctx)
	if err != nil {
		return err
	}
	for _, it := range Depleted(p.Items, snap) {
		if _, err = s.Events.Emit(events.TopicStockDepleted, events.EventStockDepleted, it.ProductID, p.OrderID, env.TraceID,
			events.StockDepletedPayload{ProductID: it.ProductID, Size: it.Size, OrderID: p.OrderID}); err != nil {
			return err
		}
		s.Logger.Info("stock depleted", "product_id", it.ProductID, "size", it.Size, "order_id", p.OrderID)
	}
	return nil
}

// Depleted returns the ordered counters that are now at zero, once each.
// Products deleted since the order are skipped.
func Depleted(items []events.ItemQty, snap catalog.Snapshot) []events.ItemQty {
	var out []events.ItemQty
	seen := map[catalog.StockKey]bool{}
	for _, it := range items {
		k := catalog.StockKey{ProductID: it.ProductID, Size: catalog.Size(it.Size)}
		if seen[k] {
			continue
		}
		seen[k] = true
		if n, ok := snap.Stock(k.ProductID, k.Size); ok && n == 0 {
			out = append(out, it)
		}
	}
	return out
}

// RedisDedup claims event ids with SETNX under dedup:{service}:{event_id}.
type RedisDedup struct {
	rdb     redis.Cmdable
	service string
	ttl     time.Duration
}

func NewRedisDedup(rdb redis.Cmdable, service string) *RedisDedup {
	return &RedisDedup{rdb: rdb, service: service, ttl: redisx.TTLDedup}
}

func (d *RedisDedup) Claim(ctx context.Context, eventID string) (bool, error) {
	return redisx.Claim(ctx, d.rdb, redisx.DedupKey(d.service, eventID), d.ttl)
}

func (d *RedisDedup) Release(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, redisx.DedupKey(d.service, eventID)).Err()
}
