// Package catalog provides read access to carts and products owned by other services.
package catalog

import (
	"context"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type CartReader interface {
	// GetCart returns domain.ErrCartNotFound or domain.ErrTenantMismatch when not readable
	GetCart(ctx context.Context, tenantID, cartID string) (*domain.Cart, error)
}

type ProductReader interface {
	// GetProduct returns domain.ErrProductNotFound when the product does not exist in the tenant
	GetProduct(ctx context.Context, tenantID string, productID int64) (*domain.Product, error)
}
