package checkout_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/cart"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/checkout"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var productCols = []string{"id", "name", "description", "price_cents", "category", "sub_category", "images", "best_seller", "version", "created_at", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func expectLockAndRead(mock pgxmock.PgxPoolIface, stock int) {
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = '3000ms'")).
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE OF ps")).
		WithArgs([]string{"p1"}, []string{"M"}).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "size", "stock"}).AddRow("p1", "M", stock))
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = ANY($1)")).
		WithArgs([]string{"p1"}).
		WillReturnRows(pgxmock.NewRows(productCols).
			AddRow("p1", "Tee", "", int64(1999), "Men", "Topwear", []string{"a.jpg"}, false, int64(1), now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM product_sizes WHERE product_id = ANY($1)")).
		WithArgs([]string{"p1"}).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "size", "stock"}).AddRow("p1", "M", stock))
}

func pgPlacer(mock pgxmock.PgxPoolIface) *checkout.Placer {
	return checkout.NewPlacer(checkout.NewPostgresStore(mock, 3*time.Second), decimal.NewFromInt(10),
		checkout.WithLogger(quiet()),
		checkout.WithIDs(func() string { return "o1" }))
}

func TestPostgresPlacementCommits(t *testing.T) {
	mock := newMock(t)
	expectLockAndRead(mock, 5)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs("o1", "u1", pgxmock.AnyArg(), "COD", false, int64(1000), int64(4998), "Order Placed", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs("o1", 0, "p1", "Tee", int64(1999), "M", 2, "a.jpg").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE product_sizes AS ps")).
		WithArgs("p1", "M", 2).
		WillReturnRows(pgxmock.NewRows([]string{"previous", "remaining"}).AddRow(5, 3))
	mock.ExpectCommit()

	got, err := pgPlacer(mock).PlaceOrder(context.Background(), checkout.Request{
		UserID: "u1", Address: address(), Lines: []cart.Line{line("p1", catalog.SizeM, 2)},
	})
	require.NoError(t, err)
	assert.Equal(t, "o1", got.Order.ID)
	assert.True(t, got.Order.Amount.Equal(decimal.RequireFromString("49.98")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPlacementShortfallRollsBack(t *testing.T) {
	mock := newMock(t)
	expectLockAndRead(mock, 1)
	mock.ExpectRollback()

	_, err := pgPlacer(mock).PlaceOrder(context.Background(), checkout.Request{
		UserID: "u1", Address: address(), Lines: []cart.Line{line("p1", catalog.SizeM, 2)},
	})
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLockTimeoutIsConflict(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE OF ps")).
		WithArgs([]string{"p1"}, []string{"M"}).
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	_, err := pgPlacer(mock).PlaceOrder(context.Background(), checkout.Request{
		UserID: "u1", Address: address(), Lines: []cart.Line{line("p1", catalog.SizeM, 1)},
	})
	assert.ErrorIs(t, err, apperr.ErrTransactionConflict)
	assert.True(t, checkout.IsRetryable(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplayReadsExistingOrder(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id=$1 AND idempotency_key=$2")).
		WithArgs("u1", "k1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "address", "payment_method", "payment", "delivery_fee_cents", "amount_cents", "status", "idempotency_key", "created_at", "updated_at"}).
			AddRow("o-prev", "u1", []byte(`{"firstName":"Ana"}`), "COD", false, int64(1000), int64(2000), "Packing", "k1", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items")).
		WithArgs([]string{"o-prev"}).
		WillReturnRows(pgxmock.NewRows([]string{"order_id", "product_id", "name", "price_cents", "size", "quantity", "image"}).
			AddRow("o-prev", "p1", "Tee", int64(500), "M", 2, ""))
	mock.ExpectCommit()

	got, err := pgPlacer(mock).PlaceOrder(context.Background(), checkout.Request{
		UserID: "u1", Address: address(), IdempotencyKey: "k1", Lines: []cart.Line{line("p1", catalog.SizeM, 2)},
	})
	require.NoError(t, err)
	assert.True(t, got.Replayed)
	assert.Equal(t, "o-prev", got.Order.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
