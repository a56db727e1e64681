package catalog

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront/internal/apperr"
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

func TestRepoList(t *testing.T) {
	mock := newMock(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM products ORDER BY created_at DESC")).
		WillReturnRows(pgxmock.NewRows(productCols).
			AddRow("p1", "Tee", "cotton", int64(1999), "Men", "Topwear", []string{"a.jpg"}, true, int64(3), now, now).
			AddRow("p2", "Hoodie", "", int64(4500), "Women", "Winterwear", []string{}, false, int64(1), now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT product_id, size, stock FROM product_sizes")).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "size", "stock"}).
			AddRow("p1", "XL", 0).
			AddRow("p1", "S", 4).
			AddRow("p1", "M", 2))

	ps, err := NewRepo(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 2)

	assert.True(t, ps[0].Price.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, []SizeStock{{SizeS, 4}, {SizeM, 2}, {SizeXL, 0}}, ps[0].Sizes)
	assert.Equal(t, "a.jpg", ps[0].Image())
	assert.Empty(t, ps[1].Sizes)
	assert.NotNil(t, ps[1].Sizes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoGetNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id=$1")).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(productCols))

	_, err := NewRepo(mock).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoLockStock(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE OF ps")).
		WithArgs([]string{"a", "b", "b"}, []string{"S", "M", "XL"}).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "size", "stock"}).
			AddRow("a", "S", 1).
			AddRow("b", "M", 5))

	got, err := NewRepo(mock).LockStock(context.Background(), []StockKey{{"b", SizeXL}, {"a", SizeS}, {"b", SizeM}})
	require.NoError(t, err)
	assert.Equal(t, map[StockKey]int{{"a", SizeS}: 1, {"b", SizeM}: 5}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoCreate(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO products")).
		WithArgs("p1", "Tee", "", int64(1250), "Men", "", []string{}, false).
		WillReturnRows(pgxmock.NewRows([]string{"version", "created_at", "updated_at"}).AddRow(int64(1), now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO product_sizes")).
		WithArgs("p1", "S", 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO product_sizes")).
		WithArgs("p1", "L", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	p := &Product{ID: "p1", Name: "Tee", Price: decimal.RequireFromString("12.50"), Category: "Men",
		Sizes: []SizeStock{{SizeL, 0}, {SizeS, 3}}}
	require.NoError(t, NewRepo(mock).Create(context.Background(), p))
	assert.Equal(t, int64(1), p.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoCreateRejectsInvalidWithoutTouchingDB(t *testing.T) {
	mock := newMock(t)

	err := NewRepo(mock).Create(context.Background(), &Product{Name: ""})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoUpdateVersionMismatch(t *testing.T) {
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE products")).
		WithArgs("p1", "Tee", "", int64(1000), "", "", []string{}, false, int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"version", "created_at", "updated_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	p := &Product{ID: "p1", Name: "Tee", Price: decimal.NewFromInt(10)}
	err := NewRepo(mock).Update(context.Background(), p, 2)
	assert.ErrorIs(t, err, apperr.ErrTransactionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoUpdateMissing(t *testing.T) {
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE products")).
		WillReturnRows(pgxmock.NewRows([]string{"version", "created_at", "updated_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("gone").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := NewRepo(mock).Update(context.Background(), &Product{ID: "gone", Name: "x"}, 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectSizeLock(mock pgxmock.PgxPoolIface, id string, sizes ...string) {
	rows := pgxmock.NewRows([]string{"size"})
	for _, s := range sizes {
		rows.AddRow(s)
	}
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY size COLLATE "C"`)).WithArgs(id).WillReturnRows(rows)
}

func TestRepoUpdateKeepsCountersInPlace(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE products")).
		WillReturnRows(pgxmock.NewRows([]string{"version", "created_at", "updated_at"}).AddRow(int64(4), now, now))
	expectSizeLock(mock, "p1", "L", "M")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM product_sizes WHERE product_id=$1 AND NOT (size = ANY($2::text[]))")).
		WithArgs("p1", []string{"M", "XL"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (product_id, size) DO UPDATE SET stock = EXCLUDED.stock")).
		WithArgs("p1", []string{"M", "XL"}, []int{7, 2}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	p := &Product{ID: "p1", Name: "Tee", Sizes: []SizeStock{{SizeXL, 2}, {SizeM, 7}}}
	require.NoError(t, NewRepo(mock).Update(context.Background(), p, 0))
	assert.Equal(t, int64(4), p.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoUpdateWithoutSizesDropsAll(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE products")).
		WillReturnRows(pgxmock.NewRows([]string{"version", "created_at", "updated_at"}).AddRow(int64(2), now, now))
	expectSizeLock(mock, "p1", "S")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM product_sizes")).
		WithArgs("p1", []string{}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, NewRepo(mock).Update(context.Background(), &Product{ID: "p1", Name: "x"}, 0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoUpdateUpsertFailureRollsBack(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE products")).
		WillReturnRows(pgxmock.NewRows([]string{"version", "created_at", "updated_at"}).AddRow(int64(2), now, now))
	expectSizeLock(mock, "p1")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM product_sizes")).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO product_sizes")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := NewRepo(mock).Update(context.Background(), &Product{ID: "p1", Name: "x", Sizes: []SizeStock{{SizeS, 1}}}, 0)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoDelete(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM products WHERE id=$1")).
		WithArgs("p1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM products WHERE id=$1")).
		WithArgs("p1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	repo := NewRepo(mock)
	require.NoError(t, repo.Delete(context.Background(), "p1"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "p1"), apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
