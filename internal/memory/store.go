// Package memory is a process-local backend for every store interface. It
// keeps the same locking discipline as PostgreSQL: one mutex per stock
// counter, taken in (product, size) order by placements.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/checkout"
	"github.com/ariefcatur/go-storefront/internal/ledger"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/google/uuid"
)

type counter struct {
	mu    sync.Mutex
	stock int
}

type entry struct {
	product  catalog.Product // Sizes unused; counters are authoritative
	counters map[catalog.Size]*counter
}

// Store holds catalog and orders. mu guards the product map itself:
// placements and decrements hold it shared, operator edits exclusively, so
// an edit never swaps counters out from under a running placement.
type Store struct {
	mu       sync.RWMutex
	products map[string]*entry

	ordersMu sync.RWMutex
	orders   map[string]orders.Order
	idem     map[string]string // user + key -> order id

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		products: map[string]*entry{},
		orders:   map[string]orders.Order{},
		idem:     map[string]string{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func idemKey(userID, key string) string { return userID + "\x00" + key }

func newEntry(p catalog.Product) *entry {
	e := &entry{product: p, counters: make(map[catalog.Size]*counter, len(p.Sizes))}
	e.product.Images = append([]string{}, p.Images...)
	e.product.Sizes = nil
	for _, s := range p.Sizes {
		e.counters[s.Size] = &counter{stock: s.Stock}
	}
	return e
}

// view copies the entry out. With held set (inside a transaction) only the
// counters the caller already locks are reported; taking another counter
// lock there could deadlock against a placement holding it in key order.
func (e *entry) view(held map[*counter]bool) catalog.Product {
	p := e.product
	p.Images = append([]string{}, e.product.Images...)
	p.Sizes = make([]catalog.SizeStock, 0, len(e.counters))
	for sz, c := range e.counters {
		var n int
		switch {
		case held == nil:
			c.mu.Lock()
			n = c.stock
			c.mu.Unlock()
		case held[c]:
			n = c.stock
		default:
			continue
		}
		p.Sizes = append(p.Sizes, catalog.SizeStock{Size: sz, Stock: n})
	}
	catalog.SortSizes(p.Sizes)
	return p
}

// Catalog

func (s *Store) List(ctx context.Context) ([]catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Product, 0, len(s.products))
	for _, e := range s.products {
		out = append(out, e.view(nil))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.products[id]
	if !ok {
		return catalog.Product{}, apperr.NotFound("product", id)
	}
	return e.view(nil), nil
}

func (s *Store) Create(ctx context.Context, p *catalog.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return apperr.Conflict(fmt.Errorf("product %s already exists", p.ID))
	}
	now := s.now()
	p.Version, p.CreatedAt, p.UpdatedAt = 1, now, now
	s.products[p.ID] = newEntry(*p)
	return nil
}

// Update replaces the product and its counters. expectedVersion 0 skips the check.
func (s *Store) Update(ctx context.Context, p *catalog.Product, expectedVersion int64) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.products[p.ID]
	if !ok {
		return apperr.NotFound("product", p.ID)
	}
	if expectedVersion != 0 && cur.product.Version != expectedVersion {
		return apperr.Conflict(fmt.Errorf("product %s is no longer at version %d", p.ID, expectedVersion))
	}
	p.Version = cur.product.Version + 1
	p.CreatedAt = cur.product.CreatedAt
	p.UpdatedAt = s.now()
	s.products[p.ID] = newEntry(*p)
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return apperr.NotFound("product", id)
	}
	delete(s.products, id)
	return nil
}

// Ledger

// Decrement sets one counter to max(0, stock-qty) under that counter's lock.
func (s *Store) Decrement(ctx context.Context, productID string, size catalog.Size, qty int) (ledger.Result, error) {
	res := ledger.Result{ProductID: productID, Size: size, Requested: qty}
	if err := ledger.CheckRequest(size, qty); err != nil {
		return res, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, res, err := s.counter(res)
	if err != nil {
		return res, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return apply(c, res), nil
}

// counter resolves the counter for res. Caller holds s.mu.
func (s *Store) counter(res ledger.Result) (*counter, ledger.Result, error) {
	e, ok := s.products[res.ProductID]
	if !ok {
		res.Outcome = ledger.OutcomeProductMissing
		return nil, res, apperr.NotFound("product", res.ProductID)
	}
	c, ok := e.counters[res.Size]
	if !ok {
		res.Outcome = ledger.OutcomeSizeMissing
		return nil, res, apperr.NotFound("size", res.ProductID+"/"+string(res.Size))
	}
	return c, res, nil
}

// apply decrements c, which the caller has locked.
func apply(c *counter, res ledger.Result) ledger.Result {
	res.Previous = c.stock
	res.Remaining = ledger.Remaining(c.stock, res.Requested)
	res.Outcome = ledger.Settle(res.Requested, c.stock)
	c.stock = res.Remaining
	return res
}

// Orders

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, apperr.NotFound("order", id)
	}
	return cloneOrder(o), nil
}

func (s *Store) listOrders(keep func(orders.Order) bool) []orders.Order {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	out := []orders.Order{}
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) ChangeStatus(ctx context.Context, id string, to orders.Status, check func(from orders.Status) error) (orders.Status, error) {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return "", apperr.NotFound("order", id)
	}
	from := o.Status
	if check != nil {
		if err := check(from); err != nil {
			return from, err
		}
	}
	o.Status = to
	o.UpdatedAt = s.now()
	s.orders[id] = o
	return from, nil
}

func (s *Store) SetPayment(ctx context.Context, id string, paid bool) error {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return apperr.NotFound("order", id)
	}
	o.Payment = paid
	o.UpdatedAt = s.now()
	s.orders[id] = o
	return nil
}

func cloneOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.Item{}, o.Items...)
	return o
}

// Orders adapts the store to orders.Store, whose Get would clash with the
// catalog's.
func (s *Store) Orders() orders.Store { return orderView{s} }

type orderView struct{ s *Store }

func (v orderView) Get(ctx context.Context, id string) (orders.Order, error) {
	return v.s.GetOrder(ctx, id)
}

func (v orderView) ListAll(ctx context.Context) ([]orders.Order, error) {
	return v.s.listOrders(func(orders.Order) bool { return true }), nil
}

func (v orderView) ListByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	return v.s.listOrders(func(o orders.Order) bool { return o.UserID == userID }), nil
}

func (v orderView) ChangeStatus(ctx context.Context, id string, to orders.Status, check func(from orders.Status) error) (orders.Status, error) {
	return v.s.ChangeStatus(ctx, id, to, check)
}

func (v orderView) SetPayment(ctx context.Context, id string, paid bool) error {
	return v.s.SetPayment(ctx, id, paid)
}

var (
	_ catalog.Store      = (*Store)(nil)
	_ ledger.Decrementer = (*Store)(nil)
	_ checkout.Store     = (*Store)(nil)
	_ orders.Store       = orderView{}
)
