package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (s *CheckoutServiceImpl) loadCart(ctx context.Context, req Request) (*domain.Cart, error) {
	cart, err := s.carts.GetCart(ctx, req.TenantID, req.CartID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	// another user's cart is reported as missing
	if cart.UserID != req.UserID {
		return nil, domain.ErrCartNotFound
	}
	return cart, nil
}

// buildOrder validates the cart against the catalog and current availability and
// snapshots prices into a PENDING order. Nothing is written.
func (s *CheckoutServiceImpl) buildOrder(ctx context.Context, req Request, cart *domain.Cart) (*domain.Order, error) {
	if len(cart.Items) == 0 {
		return nil, &domain.CartValidationError{Issues: []domain.CartIssue{{Reason: domain.IssueEmptyCart}}}
	}

	var issues []domain.CartIssue
	products := make(map[int64]*domain.Product)
	requested := make(map[domain.StockKey]int32)
	var keys []domain.StockKey

	for _, item := range cart.Items {
		key := item.Key()
		if item.Quantity <= 0 {
			issues = append(issues, domain.CartIssue{Key: key, Requested: item.Quantity, Reason: domain.IssueInvalidQuantity})
			continue
		}
		product, ok := products[item.ProductID]
		if !ok {
			p, err := s.products.GetProduct(ctx, req.TenantID, item.ProductID)
			if err != nil && !errors.Is(err, domain.ErrProductNotFound) {
				return nil, fmt.Errorf("failed to get product %d: %w", item.ProductID, err)
			}
			product = p
			products[item.ProductID] = p
		}
		if product == nil {
			issues = append(issues, domain.CartIssue{Key: key, Requested: item.Quantity, Reason: domain.IssueNotFound})
			continue
		}
		if !product.Published {
			issues = append(issues, domain.CartIssue{Key: key, Requested: item.Quantity, Reason: domain.IssueUnpublished})
			continue
		}
		if _, seen := requested[key]; !seen {
			keys = append(keys, key)
		}
		requested[key] += item.Quantity
	}

	if len(keys) > 0 {
		stocks, err := s.ledger.Stock(ctx, req.TenantID, keys)
		if err != nil {
			return nil, fmt.Errorf("failed to get stock: %w", err)
		}
		available := make(map[domain.StockKey]int32, len(stocks))
		for _, st := range stocks {
			available[st.Key] = st.Available()
		}
		for _, key := range keys {
			if avail := available[key]; requested[key] > avail {
				issues = append(issues, domain.CartIssue{
					Key:       key,
					Requested: requested[key],
					Available: avail,
					Reason:    domain.IssueOutOfStock,
				})
			}
		}
	}
	if len(issues) > 0 {
		return nil, &domain.CartValidationError{Issues: issues}
	}

	now := s.now().UTC()
	order := &domain.Order{
		ID:                uuid.New().String(),
		TenantID:          req.TenantID,
		UserID:            req.UserID,
		CartID:            cart.ID,
		Status:            domain.OrderPending,
		PaymentMethod:     req.PaymentMethod,
		Items:             make([]domain.OrderItem, 0, len(cart.Items)),
		Tax:               cart.Totals.Tax,
		Shipping:          cart.Totals.Shipping,
		Discount:          cart.Totals.Discount,
		Currency:          cart.Totals.Currency,
		CouponCode:        req.CouponCode,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		CustomerEmail:     cart.CustomerEmail,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	subtotal := decimal.Zero
	for _, item := range cart.Items {
		product := products[item.ProductID]
		lineTotal := product.Price.Mul(decimal.NewFromInt32(item.Quantity))
		order.Items = append(order.Items, domain.OrderItem{
			Key:         item.Key(),
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
			LineTotal:   lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
		if order.Currency == "" {
			order.Currency = product.Currency
		}
	}
	if order.Currency == "" {
		order.Currency = domain.DefaultCurrency
	}

	order.Subtotal = subtotal
	order.Total = subtotal.Add(order.Tax).Add(order.Shipping).Sub(order.Discount)
	if order.Total.IsNegative() {
		order.Total = decimal.Zero
	}
	return order, nil
}
