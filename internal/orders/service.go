package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-storefront/internal/events"
	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// Service is the order status machine. It never touches stock or, for
// SetStatus, payment.
type Service struct {
	store  Store
	policy Policy
	events *events.Emitter
	rdb    redis.Cmdable // status cache; nil disables it
	logger *slog.Logger
}

func NewService(store Store, policy Policy, em *events.Emitter, rdb redis.Cmdable, logger *slog.Logger) *Service {
	if policy == "" {
		policy = PolicyUnordered
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, policy: policy, events: em, rdb: rdb, logger: logger}
}

func (s *Service) Policy() Policy { return s.policy }

// SetStatus moves orderID to status under the configured policy.
func (s *Service) SetStatus(ctx context.Context, orderID string, status Status) error {
	if !status.Valid() {
		return s.policy.Check("", status)
	}
	from, err := s.store.ChangeStatus(ctx, orderID, status, func(from Status) error {
		return s.policy.Check(from, status)
	})
	if err != nil {
		return err
	}
	s.forget(ctx, orderID)
	s.logger.Info("order status changed", "order_id", orderID, "from", from, "to", status)

	if _, err := s.events.Emit(events.TopicOrderStatusChanged, events.EventOrderStatusChanged, orderID, orderID, "",
		events.OrderStatusChangedPayload{OrderID: orderID, From: string(from), To: string(status)}); err != nil {
		s.logger.Error("emit status change", "order_id", orderID, "err", err)
	}
	return nil
}

// SetPayment marks a COD order paid or unpaid. Status and stock stay as they are.
func (s *Service) SetPayment(ctx context.Context, orderID string, paid bool) error {
	if err := s.store.SetPayment(ctx, orderID, paid); err != nil {
		return err
	}
	s.forget(ctx, orderID)
	s.logger.Info("order payment updated", "order_id", orderID, "payment", paid)
	return nil
}

// Status returns the status view, from cache when possible. A fill races
// with SetStatus, so it only lands if no invalidation happened since the
// generation was read.
func (s *Service) Status(ctx context.Context, orderID string) (StatusView, error) {
	key := redisx.OrderStatusKey(orderID)
	var (
		gen       string
		cacheable bool
	)
	if s.rdb != nil {
		b, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var v StatusView
			if err := json.Unmarshal(b, &v); err == nil {
				return v, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("status cache read failed", "order_id", orderID, "err", err)
		}
		if gen, err = redisx.Generation(ctx, s.rdb, key); err != nil {
			s.logger.Warn("status cache generation read failed", "order_id", orderID, "err", err)
		} else {
			cacheable = true
		}
	}

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return StatusView{}, err
	}
	v := o.StatusView()
	if cacheable {
		b, err := json.Marshal(v)
		if err != nil {
			return v, fmt.Errorf("encode status view: %w", err)
		}
		if _, err := redisx.FillIfCurrent(ctx, s.rdb, key, gen, string(b), redisx.TTLStatusCache); err != nil {
			s.logger.Warn("status cache write failed", "order_id", orderID, "err", err)
		}
	}
	return v, nil
}

func (s *Service) forget(ctx context.Context, orderID string) {
	if s.rdb == nil {
		return
	}
	if err := redisx.Invalidate(ctx, s.rdb, redisx.OrderStatusKey(orderID), 2*redisx.TTLStatusCache); err != nil {
		s.logger.Warn("status cache invalidate failed", "order_id", orderID, "err", err)
	}
}
