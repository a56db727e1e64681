package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/ledger"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/jackc/pgx/v5"
)

// PostgresStore runs placements in one pgx transaction. Repositories are
// rebound to the transaction for its lifetime.
type PostgresStore struct {
	db          postgres.DB
	catalog     *catalog.Repo
	ledger      *ledger.Ledger
	orders      *orders.Repo
	lockTimeout time.Duration
}

func NewPostgresStore(db postgres.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		db:          db,
		catalog:     catalog.NewRepo(db),
		ledger:      ledger.New(db),
		orders:      orders.NewRepo(db),
		lockTimeout: lockTimeout,
	}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", postgres.Classify(err))
	}
	defer postgres.RollbackUnless(ctx, tx, &err)

	if s.lockTimeout > 0 {
		// waiting longer than this on a counter lock fails with 55P03 -> TransactionConflict
		if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", postgres.Classify(err))
		}
	}

	if err = fn(ctx, &pgTx{
		catalog: s.catalog.WithExecutor(tx),
		ledger:  s.ledger.WithExecutor(tx),
		orders:  s.orders.WithExecutor(tx),
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", postgres.Classify(err))
	}
	return nil
}

type pgTx struct {
	catalog *catalog.Repo
	ledger  *ledger.Ledger
	orders  *orders.Repo
}

func (t *pgTx) LockStock(ctx context.Context, keys []catalog.StockKey) (map[catalog.StockKey]int, error) {
	return t.catalog.LockStock(ctx, keys)
}

func (t *pgTx) Products(ctx context.Context, ids []string) (map[string]catalog.Product, error) {
	return t.catalog.GetMany(ctx, ids)
}

func (t *pgTx) Decrement(ctx context.Context, productID string, size catalog.Size, qty int) (ledger.Result, error) {
	return t.ledger.Decrement(ctx, productID, size, qty)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	return t.orders.Insert(ctx, o)
}

func (t *pgTx) FindOrder(ctx context.Context, userID, key string) (orders.Order, bool, error) {
	o, err := t.orders.FindByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	return o, true, nil
}

var _ Store = (*PostgresStore)(nil)

// compile-time check that pgx.Tx still satisfies the executor interface
var _ postgres.DB = pgx.Tx(nil)
