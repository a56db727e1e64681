package catalog

import (
	"encoding/json"
	"slices"
)

// Snapshot is a read-only view of the catalog at one moment. Reconciliation
// and listing read from it; placement never does.
type Snapshot struct {
	products map[string]Product
	order    []string
}

func NewSnapshot(products []Product) Snapshot {
	s := Snapshot{products: make(map[string]Product, len(products)), order: make([]string, 0, len(products))}
	for _, p := range products {
		if _, dup := s.products[p.ID]; !dup {
			s.order = append(s.order, p.ID)
		}
		p.Sizes = slices.Clone(p.Sizes)
		p.Images = slices.Clone(p.Images)
		s.products[p.ID] = p
	}
	return s
}

func (s Snapshot) Product(id string) (Product, bool) {
	p, ok := s.products[id]
	return p, ok
}

// Stock reports the counter for (id, size); ok is false when either is missing.
func (s Snapshot) Stock(id string, size Size) (int, bool) {
	p, ok := s.products[id]
	if !ok {
		return 0, false
	}
	return p.StockFor(size)
}

func (s Snapshot) Products() []Product {
	out := make([]Product, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.products[id])
	}
	return out
}

func (s Snapshot) Len() int { return len(s.order) }

func (s Snapshot) MarshalJSON() ([]byte, error) { return json.Marshal(s.Products()) }

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var ps []Product
	if err := json.Unmarshal(b, &ps); err != nil {
		return err
	}
	*s = NewSnapshot(ps)
	return nil
}
