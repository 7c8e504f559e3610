package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

func (r *Repository) GetProduct(ctx context.Context, tenantID string, productID int64) (*domain.Product, error) {
	query := `SELECT id, tenant_id, name, price, currency, published
	          FROM products WHERE tenant_id = $1 AND id = $2`

	var p domain.Product
	err := r.q(ctx).QueryRowContext(ctx, query, tenantID, productID).Scan(
		&p.ID,
		&p.TenantID,
		&p.Name,
		&p.Price,
		&p.Currency,
		&p.Published,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

// UpsertProduct writes the catalog row checkout reads prices from
func (r *Repository) UpsertProduct(ctx context.Context, p domain.Product) error {
	query := `INSERT INTO products (tenant_id, id, name, price, currency, published, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, NOW())
	          ON CONFLICT (tenant_id, id) DO UPDATE
	          SET name = EXCLUDED.name, price = EXCLUDED.price, currency = EXCLUDED.currency,
	              published = EXCLUDED.published, updated_at = NOW()`

	_, err := r.q(ctx).ExecContext(ctx, query, p.TenantID, p.ID, p.Name, p.Price, p.Currency, p.Published)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}
