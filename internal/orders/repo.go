package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/jackc/pgx/v5"
)

// Store is the order side used by the HTTP layer and the status Service.
type Store interface {
	Get(ctx context.Context, id string) (Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// ChangeStatus locks the order, lets check veto the move from its
	// current status, then stores to. It returns the previous status.
	ChangeStatus(ctx context.Context, id string, to Status, check func(from Status) error) (Status, error)
	SetPayment(ctx context.Context, id string, paid bool) error
}

type Repo struct{ db postgres.DB }

func NewRepo(db postgres.DB) *Repo { return &Repo{db: db} }

func (r *Repo) WithExecutor(db postgres.DB) *Repo { return &Repo{db: db} }

const orderColumns = `id, user_id, address, payment_method, payment, delivery_fee_cents, amount_cents, status, COALESCE(idempotency_key, ''), created_at, updated_at`

// Insert writes the order header and its item snapshots. Part of the
// placement transaction; it never commits.
func (r *Repo) Insert(ctx context.Context, o *Order) error {
	addr, err := json.Marshal(o.Address)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO orders(id, user_id, address, payment_method, payment, delivery_fee_cents, amount_cents, status, idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$10)`,
		o.ID, o.UserID, addr, o.PaymentMethod, o.Payment, catalog.Cents(o.DeliveryFee), catalog.Cents(o.Amount),
		string(o.Status), o.IdempotencyKey, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", postgres.Classify(err))
	}
	for i, it := range o.Items {
		_, err = r.db.Exec(ctx, `
			INSERT INTO order_items(order_id, position, product_id, name, price_cents, size, quantity, image)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			o.ID, i, it.ProductID, it.Name, catalog.Cents(it.Price), string(it.Size), it.Quantity, it.Image,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", postgres.Classify(err))
		}
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	list, err := r.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	if err != nil {
		return Order{}, err
	}
	if len(list) == 0 {
		return Order{}, apperr.NotFound("order", id)
	}
	return list[0], nil
}

// FindByIdempotencyKey returns the order a shopper already placed with key.
func (r *Repo) FindByIdempotencyKey(ctx context.Context, userID, key string) (Order, error) {
	list, err := r.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND idempotency_key=$2`, userID, key)
	if err != nil {
		return Order{}, err
	}
	if len(list) == 0 {
		return Order{}, apperr.NotFound("order", key)
	}
	return list[0], nil
}

func (r *Repo) ListAll(ctx context.Context) ([]Order, error) {
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id`)
}

func (r *Repo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC, id`, userID)
}

func (r *Repo) query(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		var (
			o                  Order
			addr               []byte
			feeCents, amtCents int64
			status             string
		)
		if err := rows.Scan(&o.ID, &o.UserID, &addr, &o.PaymentMethod, &o.Payment, &feeCents, &amtCents,
			&status, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if err := json.Unmarshal(addr, &o.Address); err != nil {
			return nil, fmt.Errorf("decode address of %s: %w", o.ID, err)
		}
		o.DeliveryFee = catalog.FromCents(feeCents)
		o.Amount = catalog.FromCents(amtCents)
		o.Status = Status(status)
		o.Items = []Item{}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.attachItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) attachItems(ctx context.Context, list []Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	idx := make(map[string]int, len(list))
	for i, o := range list {
		ids[i] = o.ID
		idx[o.ID] = i
	}
	rows, err := r.db.Query(ctx, `
		SELECT order_id, product_id, name, price_cents, size, quantity, image
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID, size string
			cents         int64
			it            Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &cents, &size, &it.Quantity, &it.Image); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		it.Price = catalog.FromCents(cents)
		it.Size = catalog.Size(size)
		if i, ok := idx[orderID]; ok {
			list[i].Items = append(list[i].Items, it)
		}
	}
	return rows.Err()
}

func (r *Repo) ChangeStatus(ctx context.Context, id string, to Status, check func(from Status) error) (from Status, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer postgres.RollbackUnless(ctx, tx, &err)

	var cur string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		err = apperr.NotFound("order", id)
		return "", err
	}
	if err != nil {
		err = postgres.Classify(err)
		return "", fmt.Errorf("lock order: %w", err)
	}
	from = Status(cur)
	if check != nil {
		if err = check(from); err != nil {
			return from, err
		}
	}
	if _, err = tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, id, string(to)); err != nil {
		err = postgres.Classify(err)
		return from, fmt.Errorf("update status: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		err = postgres.Classify(err)
		return from, fmt.Errorf("commit: %w", err)
	}
	return from, nil
}

func (r *Repo) SetPayment(ctx context.Context, id string, paid bool) error {
	ct, err := r.db.Exec(ctx, `UPDATE orders SET payment=$2, updated_at=now() WHERE id=$1`, id, paid)
	if err != nil {
		return fmt.Errorf("set payment: %w", postgres.Classify(err))
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("order", id)
	}
	return nil
}
