// Package cart keeps a shopper's pending lines and reconciles them against
// catalog stock. Lines are a plain slice updated by a pure reducer so every
// store shares the same semantics.
package cart

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/catalog"
)

const ReasonOutOfStock = "Out of stock"

type Key struct {
	ProductID string       `json:"productId"`
	Size      catalog.Size `json:"size"`
}

func (k Key) StockKey() catalog.StockKey {
	return catalog.StockKey{ProductID: k.ProductID, Size: k.Size}
}

// Line is one (product, size) entry. Valid and Reason are derived by
// Reconcile and never stored.
type Line struct {
	ProductID string       `json:"productId"`
	Size      catalog.Size `json:"size"`
	Quantity  int          `json:"quantity"`
	Valid     bool         `json:"valid"`
	Reason    string       `json:"reason,omitempty"`
}

func (l Line) Key() Key { return Key{ProductID: l.ProductID, Size: l.Size} }

type Op int

const (
	OpAdd    Op = iota // increase quantity by Quantity
	OpSet              // set quantity; 0 removes
	OpRemove           // drop the line
	OpClear            // drop every line
)

type Action struct {
	Op       Op
	Key      Key
	Quantity int
}

func Add(k Key, qty int) Action { return Action{Op: OpAdd, Key: k, Quantity: qty} }
func Set(k Key, qty int) Action { return Action{Op: OpSet, Key: k, Quantity: qty} }
func Remove(k Key) Action       { return Action{Op: OpRemove, Key: k} }
func Clear() Action             { return Action{Op: OpClear} }

// Validate rejects actions that could never apply.
func (a Action) Validate() error {
	if a.Op == OpClear {
		return nil
	}
	if a.Key.ProductID == "" {
		return apperr.Invalid("invalid cart line", map[string]string{"productId": "required"})
	}
	if !a.Key.Size.Valid() {
		return apperr.Invalid("invalid cart line", map[string]string{"size": fmt.Sprintf("unknown size %q", a.Key.Size)})
	}
	if a.Quantity < 0 || (a.Op == OpAdd && a.Quantity == 0) {
		return apperr.Invalid("invalid cart line", map[string]string{"quantity": "must be positive"})
	}
	return nil
}

// Apply returns lines with a applied. The input slice is not modified; key
// uniqueness and positive quantities are kept.
func Apply(lines []Line, a Action) []Line {
	if a.Op == OpClear {
		return []Line{}
	}
	out := make([]Line, 0, len(lines)+1)
	found := false
	for _, l := range lines {
		if l.Key() != a.Key {
			out = append(out, l)
			continue
		}
		found = true
		switch a.Op {
		case OpAdd:
			l.Quantity += a.Quantity
		case OpSet:
			l.Quantity = a.Quantity
		case OpRemove:
			l.Quantity = 0
		}
		if l.Quantity > 0 {
			out = append(out, l)
		}
	}
	if !found && (a.Op == OpAdd || a.Op == OpSet) && a.Quantity > 0 {
		out = append(out, Line{ProductID: a.Key.ProductID, Size: a.Key.Size, Quantity: a.Quantity})
	}
	return out
}

// Repository persists carts per shopper. Implemented by the Redis store and
// the memory backend.
type Repository interface {
	Load(ctx context.Context, userID string) ([]Line, error)
	Update(ctx context.Context, userID string, a Action) ([]Line, error)
	Clear(ctx context.Context, userID string) error
}
