package memory

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/checkout"
	"github.com/ariefcatur/go-storefront/internal/ledger"
	"github.com/ariefcatur/go-storefront/internal/orders"
)

// InTx runs fn with the catalog held shared. Counter locks taken by the
// transaction are kept until it ends; decrements are undone and buffered
// orders dropped when fn fails.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx := &memTx{s: s, held: map[*counter]bool{}}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	if err := tx.commit(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type undo struct {
	c     *counter
	stock int
}

type memTx struct {
	s       *Store
	held    map[*counter]bool
	locked  []*counter
	undo    []undo
	pending []orders.Order
}

// lock takes c unless the transaction already holds it.
func (t *memTx) lock(c *counter) {
	if t.held[c] {
		return
	}
	c.mu.Lock()
	t.held[c] = true
	t.locked = append(t.locked, c)
}

func (t *memTx) release() {
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].mu.Unlock()
	}
	t.locked, t.held = nil, nil
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i].c.stock = t.undo[i].stock
	}
	t.undo, t.pending = nil, nil
}

// commit publishes buffered orders. A taken idempotency key fails the
// commit the way the unique index does.
func (t *memTx) commit() error {
	t.s.ordersMu.Lock()
	defer t.s.ordersMu.Unlock()
	for _, o := range t.pending {
		if o.IdempotencyKey == "" {
			continue
		}
		if _, ok := t.s.idem[idemKey(o.UserID, o.IdempotencyKey)]; ok {
			return apperr.Conflict(fmt.Errorf("idempotency key %q already used", o.IdempotencyKey))
		}
	}
	for _, o := range t.pending {
		if _, ok := t.s.orders[o.ID]; ok {
			return apperr.Conflict(fmt.Errorf("order %s already exists", o.ID))
		}
	}
	for _, o := range t.pending {
		t.s.orders[o.ID] = o
		if o.IdempotencyKey != "" {
			t.s.idem[idemKey(o.UserID, o.IdempotencyKey)] = o.ID
		}
	}
	t.pending = nil
	return nil
}

func (t *memTx) LockStock(ctx context.Context, keys []catalog.StockKey) (map[catalog.StockKey]int, error) {
	sorted := append([]catalog.StockKey(nil), keys...)
	catalog.SortKeys(sorted)
	out := make(map[catalog.StockKey]int, len(sorted))
	for _, k := range sorted {
		e, ok := t.s.products[k.ProductID]
		if !ok {
			continue
		}
		c, ok := e.counters[k.Size]
		if !ok {
			continue
		}
		t.lock(c)
		out[k] = c.stock
	}
	return out, nil
}

func (t *memTx) Products(ctx context.Context, ids []string) (map[string]catalog.Product, error) {
	out := make(map[string]catalog.Product, len(ids))
	for _, id := range ids {
		if e, ok := t.s.products[id]; ok {
			out[id] = e.view(t.held)
		}
	}
	return out, nil
}

func (t *memTx) Decrement(ctx context.Context, productID string, size catalog.Size, qty int) (ledger.Result, error) {
	res := ledger.Result{ProductID: productID, Size: size, Requested: qty}
	if err := ledger.CheckRequest(size, qty); err != nil {
		return res, err
	}
	c, res, err := t.s.counter(res)
	if err != nil {
		return res, err
	}
	t.lock(c)
	t.undo = append(t.undo, undo{c: c, stock: c.stock})
	return apply(c, res), nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	t.pending = append(t.pending, cloneOrder(*o))
	return nil
}

func (t *memTx) FindOrder(ctx context.Context, userID, key string) (orders.Order, bool, error) {
	t.s.ordersMu.RLock()
	defer t.s.ordersMu.RUnlock()
	id, ok := t.s.idem[idemKey(userID, key)]
	if !ok {
		return orders.Order{}, false, nil
	}
	return cloneOrder(t.s.orders[id]), true, nil
}
