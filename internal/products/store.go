package products

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by Get for an unknown product id.
var ErrNotFound = errors.New("product not found")

// Store is the durable product state. Runs for different tracked queries
// may use it concurrently; implementations must keep a read-modify-write
// on the same id from losing a lower price (the pgx implementation pushes
// the lowest-price recomputation into the UPDATE itself).
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]Record, error)
	GetAll(ctx context.Context, queryName string) ([]Record, error)
	Upsert(ctx context.Context, rec Record) error

	Ignored(ctx context.Context) (map[string]bool, error)
	AddIgnored(ctx context.Context, id string) error
	RemoveIgnored(ctx context.Context, id string) error
	ListIgnored(ctx context.Context) ([]IgnoredProduct, error)

	Stats(ctx context.Context) (Stats, error)
}

// PGStore implements Store on a pgx connection pool.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const recordColumns = `id, query_name, title, price_source, price_converted,
       lowest_source, lowest_converted, image_url, product_url, first_seen, last_updated`

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.QueryName, &r.Title, &r.PriceSource, &r.PriceConverted,
		&r.LowestSource, &r.LowestConverted, &r.ImageURL, &r.ProductURL, &r.FirstSeen, &r.LastUpdated)
	return r, err
}

func (s *PGStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM products WHERE id = $1`, id)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// GetByIDs returns the stored snapshot for the given ids only. Ids with no
// record are simply absent from the map; reconciliation treats them as
// first sightings.
func (s *PGStore) GetByIDs(ctx context.Context, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+recordColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

func (s *PGStore) GetAll(ctx context.Context, queryName string) ([]Record, error) {
	q := `SELECT ` + recordColumns + ` FROM products ORDER BY last_updated DESC`
	args := []any{}
	if queryName != "" {
		q = `SELECT ` + recordColumns + ` FROM products WHERE query_name = $1 ORDER BY last_updated DESC`
		args = append(args, queryName)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Upsert writes one record. The statement recomputes the lowest prices
// from the row as it exists at write time (LEAST ignores NULLs), so two
// concurrent runs observing different lower prices converge on the true
// minimum regardless of write order. first_seen is set once on insert and
// never touched again.
func (s *PGStore) Upsert(ctx context.Context, rec Record) error {
	return withRetry(ctx, func() error {
		_, err := s.db.Exec(ctx, `
INSERT INTO products (
    id, query_name, title, price_source, price_converted,
    lowest_source, lowest_converted, image_url, product_url, first_seen, last_updated
) VALUES ($1, $2, $3, $4, $5, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    query_name       = EXCLUDED.query_name,
    title            = EXCLUDED.title,
    price_source     = EXCLUDED.price_source,
    price_converted  = EXCLUDED.price_converted,
    lowest_source    = LEAST(products.lowest_source, EXCLUDED.price_source),
    lowest_converted = LEAST(products.lowest_converted, EXCLUDED.price_converted),
    image_url        = EXCLUDED.image_url,
    product_url      = EXCLUDED.product_url,
    last_updated     = EXCLUDED.last_updated
`,
			rec.ID, rec.QueryName, rec.Title, rec.PriceSource, rec.PriceConverted,
			rec.ImageURL, rec.ProductURL, rec.FirstSeen, rec.LastUpdated)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	})
}

func (s *PGStore) Ignored(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM ignored_products`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (s *PGStore) AddIgnored(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO ignored_products (id, added_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, time.Now())
	return err
}

func (s *PGStore) RemoveIgnored(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM ignored_products WHERE id = $1`, id)
	return err
}

func (s *PGStore) ListIgnored(ctx context.Context) ([]IgnoredProduct, error) {
	rows, err := s.db.Query(ctx, `SELECT id, added_at FROM ignored_products ORDER BY added_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IgnoredProduct
	for rows.Next() {
		var p IgnoredProduct
		if err := rows.Scan(&p.ID, &p.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM products`).Scan(&st.Products); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM ignored_products`).Scan(&st.Ignored); err != nil {
		return st, err
	}
	return st, nil
}

// withRetry runs op with bounded exponential backoff. Only contention-class
// failures are worth retrying; op marks everything else permanent.
func withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx))
}

// retryable reports transient contention: deadlocks, serialization
// conflicts, lock timeouts, admin shutdown of the backend.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P01":
			return true
		}
	}
	return false
}
