package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/realtime-product-sourcing/internal/pricing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

const uniqueViolation = "23505"

const productColumns = `id, name, description, price, cost, image_url, images, source, family,
	external_id, origin_link, rating, category, active, created_at, updated_at`

// ProductStore persists products in Postgres.
type ProductStore struct {
	pool  Pool
	table string
}

// NewProductStore constructs a store from an existing pool. An empty table
// name means "products".
func NewProductStore(pool Pool, table string) (*ProductStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "products")
	if err != nil {
		return nil, err
	}
	return &ProductStore{pool: pool, table: table}, nil
}

// FindByExternalID looks a product up by (source, externalId).
func (s *ProductStore) FindByExternalID(ctx context.Context, source sourcing.Source, externalID string) (sourcing.Product, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE source = $1 AND external_id = $2`, productColumns, s.table)
	product, err := scanProduct(s.pool.QueryRow(ctx, query, string(source), externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sourcing.Product{}, sourcing.ErrNotFound
		}
		return sourcing.Product{}, fmt.Errorf("find product: %w", err)
	}
	return product, nil
}

// Create inserts a product. A unique violation maps to ErrConflict.
func (s *ProductStore) Create(ctx context.Context, p sourcing.Product) error {
	images, err := marshalImages(p.Images)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	name,
	description,
	price,
	cost,
	image_url,
	images,
	source,
	family,
	external_id,
	origin_link,
	rating,
	category,
	active,
	created_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)`, s.table)
	args := []any{
		p.ID,
		p.Name,
		p.Description,
		p.Price,
		p.Cost,
		p.ImageURL,
		images,
		string(p.Source),
		string(p.Family),
		p.ExternalID,
		p.OriginLink,
		p.Rating,
		p.Category,
		p.Active,
		p.CreatedAt,
		p.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert product %s/%s: %w", p.Source, p.ExternalID, sourcing.ErrConflict)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// UpdateVolatile refreshes price, cost, images, origin link, active and updated_at.
func (s *ProductStore) UpdateVolatile(ctx context.Context, id string, f sourcing.VolatileFields) error {
	images, err := marshalImages(f.Images)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET price = $1, cost = $2, image_url = $3, images = $4, origin_link = $5, active = $6, updated_at = $7
WHERE id = $8`, s.table)
	tag, err := s.pool.Exec(ctx, query, f.Price, f.Cost, f.ImageURL, images, f.OriginLink, f.Active, f.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sourcing.ErrNotFound
	}
	return nil
}

// CountBySource tallies products per source.
func (s *ProductStore) CountBySource(ctx context.Context) (map[sourcing.Source]int, error) {
	query := fmt.Sprintf(`SELECT source, COUNT(*) FROM %s GROUP BY source`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}
	defer rows.Close()

	counts := make(map[sourcing.Source]int)
	for rows.Next() {
		var (
			source string
			n      int64
		)
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[sourcing.Source(source)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate count rows: %w", err)
	}
	return counts, nil
}

// Close releases the pool.
func (s *ProductStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func scanProduct(row pgx.Row) (sourcing.Product, error) {
	var (
		p              sourcing.Product
		images         []byte
		source, family string
		created        time.Time
		updated        time.Time
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.Cost,
		&p.ImageURL,
		&images,
		&source,
		&family,
		&p.ExternalID,
		&p.OriginLink,
		&p.Rating,
		&p.Category,
		&p.Active,
		&created,
		&updated,
	)
	if err != nil {
		return sourcing.Product{}, err
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return sourcing.Product{}, fmt.Errorf("decode images: %w", err)
		}
	}
	p.Source = sourcing.Source(source)
	p.Family = sourcing.Family(family)
	p.CreatedAt = created.UTC()
	p.UpdatedAt = updated.UTC()
	p.Margin = pricing.Margin(p.Price, p.Cost)
	return p, nil
}

func marshalImages(images []string) ([]byte, error) {
	if images == nil {
		images = []string{}
	}
	out, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("marshal images: %w", err)
	}
	return out, nil
}
