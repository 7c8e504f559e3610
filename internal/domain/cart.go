package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ProductID int64 `json:"product_id" bson:"product_id"`
	VariantID int64 `json:"variant_id,omitempty" bson:"variant_id,omitempty"`
	Quantity  int32 `json:"quantity" bson:"quantity"`
}

func (i CartItem) Key() StockKey {
	return StockKey{ProductID: i.ProductID, VariantID: i.VariantID}
}

// CartTotals carries the amounts computed by the pricing collaborators
type CartTotals struct {
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Currency string
}

type Cart struct {
	ID            string
	TenantID      string
	UserID        string
	CustomerEmail string
	Items         []CartItem
	Totals        CartTotals
	UpdatedAt     time.Time
}

// Product is the catalog view needed at checkout
type Product struct {
	ID        int64
	TenantID  string
	Name      string
	Price     decimal.Decimal
	Currency  string
	Published bool
}
