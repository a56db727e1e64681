package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store is the catalog as the HTTP layer sees it. *Repo and the memory
// backend both implement it.
type Store interface {
	List(ctx context.Context) ([]Product, error)
	Get(ctx context.Context, id string) (Product, error)
	Create(ctx context.Context, p *Product) error
	// Update replaces the product fields and its size counters. A non-zero
	// expectedVersion must match the stored version.
	Update(ctx context.Context, p *Product, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
}

type Repo struct{ db postgres.DB }

func NewRepo(db postgres.DB) *Repo { return &Repo{db: db} }

// WithExecutor returns a Repo bound to db, usually an open transaction.
func (r *Repo) WithExecutor(db postgres.DB) *Repo { return &Repo{db: db} }

const productColumns = `id, name, description, price_cents, category, sub_category, images, best_seller, version, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		cents int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &cents, &p.Category, &p.SubCategory,
		&p.Images, &p.BestSeller, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	p.Price = FromCents(cents)
	if p.Images == nil {
		p.Images = []string{}
	}
	return p, nil
}

func (r *Repo) List(ctx context.Context) ([]Product, error) {
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.attachSizes(ctx, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) Get(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, apperr.NotFound("product", id)
	}
	if err != nil {
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	ps := []Product{p}
	if err := r.attachSizes(ctx, ps, []string{id}); err != nil {
		return Product{}, err
	}
	return ps[0], nil
}

// GetMany loads the given products keyed by id; unknown ids are absent.
func (r *Repo) GetMany(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()

	var ps []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		ps = append(ps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.attachSizes(ctx, ps, ids); err != nil {
		return nil, err
	}
	out := make(map[string]Product, len(ps))
	for _, p := range ps {
		out[p.ID] = p
	}
	return out, nil
}

// attachSizes fills Sizes for ps. ids narrows the query; nil loads every counter.
func (r *Repo) attachSizes(ctx context.Context, ps []Product, ids []string) error {
	if len(ps) == 0 {
		return nil
	}
	var (
		rows pgx.Rows
		err  error
	)
	if ids == nil {
		rows, err = r.db.Query(ctx, `SELECT product_id, size, stock FROM product_sizes`)
	} else {
		rows, err = r.db.Query(ctx, `SELECT product_id, size, stock FROM product_sizes WHERE product_id = ANY($1)`, ids)
	}
	if err != nil {
		return fmt.Errorf("list sizes: %w", err)
	}
	defer rows.Close()

	byID := make(map[string][]SizeStock, len(ps))
	for rows.Next() {
		var (
			pid, size string
			stock     int
		)
		if err := rows.Scan(&pid, &size, &stock); err != nil {
			return fmt.Errorf("scan size: %w", err)
		}
		byID[pid] = append(byID[pid], SizeStock{Size: Size(size), Stock: stock})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range ps {
		sizes := byID[ps[i].ID]
		if sizes == nil {
			sizes = []SizeStock{}
		}
		SortSizes(sizes)
		ps[i].Sizes = sizes
	}
	return nil
}

// LockStock takes row locks on the requested counters in key order and
// returns their current stock. Keys without a counter are absent from the result.
// Must run inside a transaction.
func (r *Repo) LockStock(ctx context.Context, keys []StockKey) (map[StockKey]int, error) {
	sorted := append([]StockKey(nil), keys...)
	SortKeys(sorted)
	pids := make([]string, len(sorted))
	sizes := make([]string, len(sorted))
	for i, k := range sorted {
		pids[i], sizes[i] = k.ProductID, string(k.Size)
	}

	rows, err := r.db.Query(ctx, `
		SELECT ps.product_id, ps.size, ps.stock
		FROM product_sizes ps
		JOIN unnest($1::text[], $2::text[]) AS want(product_id, size)
		  ON want.product_id = ps.product_id AND want.size = ps.size
		ORDER BY ps.product_id COLLATE "C", ps.size COLLATE "C"
		FOR UPDATE OF ps`, pids, sizes)
	if err != nil {
		return nil, fmt.Errorf("lock stock: %w", postgres.Classify(err))
	}
	defer rows.Close()

	out := make(map[StockKey]int, len(sorted))
	for rows.Next() {
		var (
			pid, size string
			stock     int
		)
		if err := rows.Scan(&pid, &size, &stock); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		out[StockKey{ProductID: pid, Size: Size(size)}] = stock
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock stock: %w", postgres.Classify(err))
	}
	return out, nil
}

func (r *Repo) Create(ctx context.Context, p *Product) (err error) {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Images == nil {
		p.Images = []string{}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer postgres.RollbackUnless(ctx, tx, &err)

	err = tx.QueryRow(ctx, `
		INSERT INTO products(id, name, description, price_cents, category, sub_category, images, best_seller)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING version, created_at, updated_at`,
		p.ID, p.Name, p.Description, Cents(p.Price), p.Category, p.SubCategory, p.Images, p.BestSeller,
	).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		err = postgres.Classify(err)
		return fmt.Errorf("insert product: %w", err)
	}
	if err = insertSizes(ctx, tx, p.ID, p.Sizes); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", postgres.Classify(err))
	}
	return nil
}

func (r *Repo) Update(ctx context.Context, p *Product, expectedVersion int64) (err error) {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Images == nil {
		p.Images = []string{}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer postgres.RollbackUnless(ctx, tx, &err)

	err = tx.QueryRow(ctx, `
		UPDATE products
		SET name=$2, description=$3, price_cents=$4, category=$5, sub_category=$6,
		    images=$7, best_seller=$8, version=version+1, updated_at=now()
		WHERE id=$1 AND ($9::bigint = 0 OR version=$9)
		RETURNING version, created_at, updated_at`,
		p.ID, p.Name, p.Description, Cents(p.Price), p.Category, p.SubCategory, p.Images, p.BestSeller, expectedVersion,
	).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, p.ID).Scan(&exists); qerr != nil {
			err = fmt.Errorf("check product: %w", qerr)
			return err
		}
		if !exists {
			err = apperr.NotFound("product", p.ID)
			return err
		}
		err = apperr.Conflict(fmt.Errorf("product %s is no longer at version %d", p.ID, expectedVersion))
		return err
	}
	if err != nil {
		err = postgres.Classify(err)
		return fmt.Errorf("update product: %w", err)
	}

	if err = replaceSizes(ctx, tx, p.ID, p.Sizes); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", postgres.Classify(err))
	}
	return nil
}

func insertSizes(ctx context.Context, tx pgx.Tx, productID string, sizes []SizeStock) error {
	for _, s := range sizes {
		if _, err := tx.Exec(ctx, `INSERT INTO product_sizes(product_id, size, stock) VALUES ($1,$2,$3)`,
			productID, string(s.Size), s.Stock); err != nil {
			return fmt.Errorf("insert size %s: %w", s.Size, postgres.Classify(err))
		}
	}
	return nil
}

// replaceSizes sets the product's counters to sizes. Counters that stay are
// updated in place, so a placement waiting on one re-reads the new stock
// instead of finding it gone. Existing rows are locked first in the same
// order LockStock uses.
func replaceSizes(ctx context.Context, tx pgx.Tx, productID string, sizes []SizeStock) error {
	rows, err := tx.Query(ctx, `
		SELECT size FROM product_sizes WHERE product_id=$1
		ORDER BY size COLLATE "C"
		FOR UPDATE`, productID)
	if err != nil {
		return fmt.Errorf("lock sizes: %w", postgres.Classify(err))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock sizes: %w", postgres.Classify(err))
	}

	keep := make([]string, 0, len(sizes))
	stock := make([]int, 0, len(sizes))
	for _, s := range sizes {
		keep = append(keep, string(s.Size))
		stock = append(stock, s.Stock)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM product_sizes WHERE product_id=$1 AND NOT (size = ANY($2::text[]))`,
		productID, keep); err != nil {
		return fmt.Errorf("drop sizes: %w", postgres.Classify(err))
	}
	if len(keep) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO product_sizes(product_id, size, stock)
		SELECT $1, t.size, t.stock FROM unnest($2::text[], $3::int[]) AS t(size, stock)
		ON CONFLICT (product_id, size) DO UPDATE SET stock = EXCLUDED.stock, updated_at = now()`,
		productID, keep, stock); err != nil {
		return fmt.Errorf("upsert sizes: %w", postgres.Classify(err))
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", postgres.Classify(err))
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("product", id)
	}
	return nil
}
