package memory

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-storefront/internal/cart"
)

// CartStore keeps carts in process. Used when Redis is not configured.
type CartStore struct {
	mu    sync.Mutex
	carts map[string][]cart.Line
}

func NewCartStore() *CartStore {
	return &CartStore{carts: map[string][]cart.Line{}}
}

func (s *CartStore) Load(ctx context.Context, userID string) ([]cart.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cart.Line{}, s.carts[userID]...), nil
}

func (s *CartStore) Update(ctx context.Context, userID string, a cart.Action) ([]cart.Line, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cart.Apply(s.carts[userID], a)
	if len(next) == 0 {
		delete(s.carts, userID)
	} else {
		s.carts[userID] = next
	}
	return append([]cart.Line{}, next...), nil
}

func (s *CartStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}

var _ cart.Repository = (*CartStore)(nil)
