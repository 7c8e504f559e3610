package checkout

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/lock"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ownedOrder loads an order and hides orders of other users
func (s *CheckoutServiceImpl) ownedOrder(ctx context.Context, tenantID, userID, orderID string) (*domain.Order, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	order, err := s.orders.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *CheckoutServiceImpl) GetOrder(ctx context.Context, tenantID, userID, orderID string) (*domain.Order, error) {
	return s.ownedOrder(ctx, tenantID, userID, orderID)
}

// ListOrders returns the user's orders, newest first
func (s *CheckoutServiceImpl) ListOrders(ctx context.Context, tenantID, userID string, limit, offset int) ([]*domain.Order, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.orders.ListOrders(ctx, tenantID, userID, limit, offset)
}

// CancelCheckout abandons an unpaid order and releases its stock.
// Cancelling a cancelled order returns it unchanged.
func (s *CheckoutServiceImpl) CancelCheckout(ctx context.Context, tenantID, userID, orderID string) (*domain.Order, error) {
	order, err := s.ownedOrder(ctx, tenantID, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderCancelled {
		return order, nil
	}

	release, err := s.obtainLock(ctx, lock.CheckoutKey(tenantID, userID, order.CartID))
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.cancelOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}

	logger.FromContext(ctx, s.log).Info("checkout cancelled",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", order.ID),
		zap.String("reservation_id", order.ReservationID))
	return order, nil
}

// RetryPayment reserves stock again for a FAILED order and repeats the payment,
// optionally with another payment method
func (s *CheckoutServiceImpl) RetryPayment(ctx context.Context, req RetryRequest) (*Result, error) {
	if req.PaymentMethod != "" && !req.PaymentMethod.IsValid() {
		return nil, fmt.Errorf("%w: unsupported payment method %q", ErrInvalidRequest, req.PaymentMethod)
	}

	ctx, span := s.tracer.Start(ctx, "checkout.RetryPayment")
	defer span.End()

	order, err := s.ownedOrder(ctx, req.TenantID, req.UserID, req.OrderID)
	if err != nil {
		return nil, err
	}

	release, err := s.obtainLock(ctx, lock.CheckoutKey(req.TenantID, req.UserID, order.CartID))
	if err != nil {
		return nil, err
	}
	defer release()

	// re-read under the lock, a concurrent retry may have won
	order, err = s.orders.GetOrder(ctx, req.TenantID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderFailed {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrIllegalTransition, order.ID, order.Status)
	}
	if req.PaymentMethod != "" {
		order.PaymentMethod = req.PaymentMethod
	}

	sg := &saga{tenantID: order.TenantID, orderID: order.ID}
	if err := s.reserve(ctx, sg, order); err != nil {
		return nil, s.abort(ctx, sg, err)
	}
	sg.push(StepRestoreFailed, func(ctx context.Context) error {
		return s.transition(ctx, order, domain.OrderFailed)
	})

	logger.FromContext(ctx, s.log).Info("retrying payment",
		zap.String("tenant_id", order.TenantID),
		zap.String("order_id", order.ID),
		zap.String("reservation_id", order.ReservationID),
		zap.String("payment_method", string(order.PaymentMethod)))
	return s.processPayment(ctx, sg, order)
}
