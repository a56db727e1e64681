// Package checkout places cash-on-delivery orders. Validation, the order
// insert and every stock decrement run in one transaction over the affected
// counters, so a placement either happens completely or not at all.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/cart"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/events"
	"github.com/ariefcatur/go-storefront/internal/ledger"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tx is the view of storage inside one placement transaction.
type Tx interface {
	// LockStock locks the counters for keys and returns their stock.
	// Keys without a counter are absent.
	LockStock(ctx context.Context, keys []catalog.StockKey) (map[catalog.StockKey]int, error)
	// Products reads product fields for ids; unknown ids are absent.
	Products(ctx context.Context, ids []string) (map[string]catalog.Product, error)
	Decrement(ctx context.Context, productID string, size catalog.Size, qty int) (ledger.Result, error)
	InsertOrder(ctx context.Context, o *orders.Order) error
	// FindOrder returns the order placed by userID under key, if any.
	FindOrder(ctx context.Context, userID, key string) (orders.Order, bool, error)
}

// Store runs fn in a transaction: committed if fn returns nil, rolled back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

type CatalogInvalidator interface {
	Invalidate(ctx context.Context) error
}

type Request struct {
	UserID         string
	Lines          []cart.Line
	Address        orders.Address
	PaymentMethod  string
	IdempotencyKey string
	TraceID        string
}

type Placement struct {
	Order orders.Order
	// Replayed is true when the idempotency key matched an earlier order.
	Replayed bool
}

type Placer struct {
	store       Store
	deliveryFee decimal.Decimal
	carts       CartClearer
	catalog     CatalogInvalidator
	events      *events.Emitter
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

type Option func(*Placer)

func WithCarts(c CartClearer) Option               { return func(p *Placer) { p.carts = c } }
func WithCatalogCache(c CatalogInvalidator) Option { return func(p *Placer) { p.catalog = c } }
func WithEvents(e *events.Emitter) Option          { return func(p *Placer) { p.events = e } }
func WithLogger(l *slog.Logger) Option             { return func(p *Placer) { p.logger = l } }
func WithClock(now func() time.Time) Option        { return func(p *Placer) { p.now = now } }
func WithIDs(newID func() string) Option           { return func(p *Placer) { p.newID = newID } }

func NewPlacer(store Store, deliveryFee decimal.Decimal, opts ...Option) *Placer {
	p := &Placer{
		store:       store,
		deliveryFee: deliveryFee,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Placer) DeliveryFee() decimal.Decimal { return p.deliveryFee }

// PlaceOrder validates req, then in one transaction checks stock for every
// line, stores the order and decrements the counters. Any shortfall rejects
// the whole order with InsufficientStock; nothing is written. Conflicts with
// concurrent writers surface as TransactionConflict and are not retried here.
func (p *Placer) PlaceOrder(ctx context.Context, req Request) (Placement, error) {
	lines, err := p.validate(&req)
	if err != nil {
		return Placement{}, err
	}
	if len(lines) == 0 && req.IdempotencyKey == "" {
		return Placement{}, errEmptyCart
	}

	var out Placement
	err = p.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		out = Placement{}
		if req.IdempotencyKey != "" {
			prev, found, err := tx.FindOrder(ctx, req.UserID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				out = Placement{Order: prev, Replayed: true}
				return nil
			}
		}
		if len(lines) == 0 {
			return errEmptyCart
		}

		keys := make([]catalog.StockKey, len(lines))
		ids := make([]string, 0, len(lines))
		seen := map[string]bool{}
		for i, l := range lines {
			keys[i] = l.Key().StockKey()
			if !seen[l.ProductID] {
				seen[l.ProductID] = true
				ids = append(ids, l.ProductID)
			}
		}
		stock, err := tx.LockStock(ctx, keys)
		if err != nil {
			return err
		}
		products, err := tx.Products(ctx, ids)
		if err != nil {
			return err
		}

		items := make([]orders.Item, 0, len(lines))
		for _, l := range lines {
			prod, ok := products[l.ProductID]
			if !ok {
				return apperr.NotFound("product", l.ProductID)
			}
			have, ok := stock[l.Key().StockKey()]
			if !ok || have < l.Quantity {
				return apperr.InsufficientStock(l.ProductID, string(l.Size), l.Quantity, have)
			}
			items = append(items, orders.Item{
				ProductID: prod.ID,
				Name:      prod.Name,
				Price:     prod.Price,
				Size:      l.Size,
				Quantity:  l.Quantity,
				Image:     prod.Image(),
			})
		}

		now := p.now()
		o := orders.Order{
			ID:             p.newID(),
			UserID:         req.UserID,
			Address:        req.Address,
			PaymentMethod:  req.PaymentMethod,
			Payment:        false,
			Items:          items,
			DeliveryFee:    p.deliveryFee,
			Amount:         orders.Total(items, p.deliveryFee),
			Status:         orders.StatusPlaced,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return err
		}

		for _, it := range items {
			res, err := tx.Decrement(ctx, it.ProductID, it.Size, it.Quantity)
			if err != nil {
				return fmt.Errorf("decrement %s/%s: %w", it.ProductID, it.Size, err)
			}
			if res.Clamped() {
				// the row is locked above, so this means a writer bypassed the lock
				return apperr.Conflict(fmt.Errorf("stock for %s/%s moved under lock", it.ProductID, it.Size))
			}
		}
		out.Order = o
		return nil
	})
	if err != nil {
		p.logger.Warn("order placement failed", "user_id", req.UserID, "kind", apperr.KindOf(err), "err", err)
		return Placement{}, err
	}

	if out.Replayed {
		p.logger.Info("order placement replayed", "order_id", out.Order.ID, "user_id", req.UserID)
		return out, nil
	}
	p.logger.Info("order placed", "order_id", out.Order.ID, "user_id", req.UserID,
		"items", len(out.Order.Items), "amount", out.Order.Amount.String())
	p.afterCommit(ctx, req, out.Order)
	return out, nil
}

// afterCommit runs best-effort side effects. Failures are logged only; the
// order stands.
func (p *Placer) afterCommit(ctx context.Context, req Request, o orders.Order) {
	if p.carts != nil {
		if err := p.carts.Clear(ctx, req.UserID); err != nil {
			p.logger.Warn("clear cart after order", "order_id", o.ID, "user_id", req.UserID, "err", err)
		}
	}
	if p.catalog != nil {
		if err := p.catalog.Invalidate(ctx); err != nil {
			p.logger.Warn("invalidate catalog after order", "order_id", o.ID, "err", err)
		}
	}
	items := make([]events.ItemQty, len(o.Items))
	for i, it := range o.Items {
		items[i] = events.ItemQty{ProductID: it.ProductID, Size: string(it.Size), Qty: it.Quantity}
	}
	if _, err := p.events.Emit(events.TopicOrderPlaced, events.EventOrderPlaced, o.ID, o.ID, req.TraceID,
		events.OrderPlacedPayload{OrderID: o.ID, UserID: o.UserID, Items: items, Amount: o.Amount.String()}); err != nil {
		p.logger.Error("emit order placed", "order_id", o.ID, "err", err)
	}
}

const maxIdempotencyKey = 128

var errEmptyCart = apperr.Validation("cart is empty")

// validate normalises req and returns the lines to buy, rejecting anything
// that could never be placed before a transaction opens. An empty result is
// allowed so a keyed retry with an already-cleared cart can still replay.
func (p *Placer) validate(req *Request) ([]cart.Line, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, apperr.Validation("user id is required")
	}
	method := strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = orders.PaymentCOD
	}
	if method != orders.PaymentCOD {
		return nil, apperr.Invalid("unsupported payment method", map[string]string{"paymentMethod": "only COD is available"})
	}
	req.PaymentMethod = method
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if len(req.IdempotencyKey) > maxIdempotencyKey {
		return nil, apperr.Validation(fmt.Sprintf("idempotency key longer than %d characters", maxIdempotencyKey))
	}
	if err := req.Address.Validate(); err != nil {
		return nil, err
	}

	lines := make([]cart.Line, 0, len(req.Lines))
	seen := map[cart.Key]bool{}
	for _, l := range req.Lines {
		if l.Quantity <= 0 {
			continue
		}
		if l.ProductID == "" {
			return nil, apperr.Invalid("invalid order line", map[string]string{"productId": "required"})
		}
		if !l.Size.Valid() {
			return nil, apperr.Invalid("invalid order line", map[string]string{"size": fmt.Sprintf("unknown size %q", l.Size)})
		}
		if seen[l.Key()] {
			return nil, apperr.Invalid("invalid order line", map[string]string{"lines": fmt.Sprintf("duplicate line %s/%s", l.ProductID, l.Size)})
		}
		seen[l.Key()] = true
		lines = append(lines, cart.Line{ProductID: l.ProductID, Size: l.Size, Quantity: l.Quantity})
	}
	return lines, nil
}

// IsRetryable reports whether the caller may retry the whole placement.
func IsRetryable(err error) bool {
	return errors.Is(err, apperr.ErrTransactionConflict)
}
