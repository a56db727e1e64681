package cart

import (
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/shopspring/decimal"
)

// Reconcile checks every line against snap. It is pure and idempotent:
//
//   - size missing or stock 0: Valid=false, Reason="Out of stock", quantity kept
//   - stock < quantity: quantity clamped to stock, Valid=true
//   - otherwise unchanged, Valid=true
//
// Lines with quantity <= 0 are dropped. Output order follows input order.
func Reconcile(lines []Line, snap catalog.Snapshot) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		stock, ok := snap.Stock(l.ProductID, l.Size)
		switch {
		case !ok || stock <= 0:
			l.Valid, l.Reason = false, ReasonOutOfStock
		case stock < l.Quantity:
			l.Quantity, l.Valid, l.Reason = stock, true, ""
		default:
			l.Valid, l.Reason = true, ""
		}
		out = append(out, l)
	}
	return out
}

// Summary is the cart view after reconciliation.
type Summary struct {
	Lines    []Line          `json:"lines"`
	Items    int             `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Changed  bool            `json:"changed"`
}

// Summarize reconciles lines and totals the valid ones at snapshot prices.
// Changed reports whether any quantity had to be clamped.
func Summarize(lines []Line, snap catalog.Snapshot) Summary {
	rec := Reconcile(lines, snap)
	s := Summary{Lines: rec, Subtotal: decimal.Zero}
	before := make(map[Key]int, len(lines))
	for _, l := range lines {
		before[l.Key()] = l.Quantity
	}
	for _, l := range rec {
		if before[l.Key()] != l.Quantity {
			s.Changed = true
		}
		if !l.Valid {
			continue
		}
		p, _ := snap.Product(l.ProductID)
		s.Items += l.Quantity
		s.Subtotal = s.Subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return s
}

// Purchasable returns the valid lines of a reconciled cart.
func Purchasable(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Valid && l.Quantity > 0 {
			out = append(out, l)
		}
	}
	return out
}
