// Package ledger owns the per-(product, size) stock counters. Every
// decrement is one conditional statement; the row lock it takes serialises
// writers on the same counter only.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/jackc/pgx/v5"
)

type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeClamped        Outcome = "clamped"
	OutcomeProductMissing Outcome = "product_missing"
	OutcomeSizeMissing    Outcome = "size_missing"
)

type Result struct {
	ProductID string
	Size      catalog.Size
	Requested int
	Previous  int
	Remaining int
	Outcome   Outcome
}

// Applied is how many units actually left the counter.
func (r Result) Applied() int { return r.Previous - r.Remaining }

// Clamped reports that the request exceeded stock and the counter stopped at zero.
func (r Result) Clamped() bool { return r.Outcome == OutcomeClamped }

// Decrementer is implemented by *Ledger and the memory backend.
type Decrementer interface {
	Decrement(ctx context.Context, productID string, size catalog.Size, qty int) (Result, error)
}

type Ledger struct{ db postgres.DB }

func New(db postgres.DB) *Ledger { return &Ledger{db: db} }

func (l *Ledger) WithExecutor(db postgres.DB) *Ledger { return &Ledger{db: db} }

// Decrement sets stock to max(0, stock-qty). A missing product or size is
// reported as an error with the matching Outcome; nothing is written.
func (l *Ledger) Decrement(ctx context.Context, productID string, size catalog.Size, qty int) (Result, error) {
	res := Result{ProductID: productID, Size: size, Requested: qty}
	if err := CheckRequest(size, qty); err != nil {
		return res, err
	}

	err := l.db.QueryRow(ctx, `
		UPDATE product_sizes AS ps
		SET stock = GREATEST(ps.stock - $3, 0), updated_at = now()
		FROM (
			SELECT product_id, size, stock FROM product_sizes
			WHERE product_id = $1 AND size = $2
			FOR UPDATE
		) AS old
		WHERE ps.product_id = old.product_id AND ps.size = old.size
		RETURNING old.stock, ps.stock`,
		productID, string(size), qty,
	).Scan(&res.Previous, &res.Remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return l.missing(ctx, res)
	}
	if err != nil {
		return res, fmt.Errorf("decrement %s/%s: %w", productID, size, postgres.Classify(err))
	}
	res.Outcome = Settle(qty, res.Previous)
	return res, nil
}

func (l *Ledger) missing(ctx context.Context, res Result) (Result, error) {
	var exists bool
	if err := l.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, res.ProductID).Scan(&exists); err != nil {
		return res, fmt.Errorf("check product %s: %w", res.ProductID, postgres.Classify(err))
	}
	if !exists {
		res.Outcome = OutcomeProductMissing
		return res, apperr.NotFound("product", res.ProductID)
	}
	res.Outcome = OutcomeSizeMissing
	return res, apperr.NotFound("size", res.ProductID+"/"+string(res.Size))
}

// CheckRequest validates decrement arguments; shared by every backend.
func CheckRequest(size catalog.Size, qty int) error {
	if qty <= 0 {
		return apperr.Validation(fmt.Sprintf("decrement quantity must be positive, got %d", qty))
	}
	if !size.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown size %q", size))
	}
	return nil
}

// Settle classifies a decrement of qty from previous.
func Settle(qty, previous int) Outcome {
	if qty > previous {
		return OutcomeClamped
	}
	return OutcomeApplied
}

// Remaining is the clamped post-decrement value.
func Remaining(previous, qty int) int {
	return max(0, previous-qty)
}
