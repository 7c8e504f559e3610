package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/lock"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func validateRequest(req Request) error {
	if req.TenantID == "" {
		return domain.ErrMissingTenant
	}
	if req.UserID == "" || req.CartID == "" {
		return fmt.Errorf("%w: user and cart are required", ErrInvalidRequest)
	}
	if !req.PaymentMethod.IsValid() {
		return fmt.Errorf("%w: unsupported payment method %q", ErrInvalidRequest, req.PaymentMethod)
	}
	return nil
}

// Checkout turns the user's cart into an order with held stock and starts the payment.
// A second call for the same cart while an order is in flight returns that order.
func (s *CheckoutServiceImpl) Checkout(ctx context.Context, req Request) (result *Result, err error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "checkout.Checkout", trace.WithAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("cart_id", req.CartID),
		attribute.String("payment_method", string(req.PaymentMethod)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := logger.FromContext(ctx, s.log).With(
		zap.String("tenant_id", req.TenantID),
		zap.String("user_id", req.UserID),
		zap.String("cart_id", req.CartID))

	release, err := s.obtainLock(ctx, lock.CheckoutKey(req.TenantID, req.UserID, req.CartID))
	if err != nil {
		return nil, err
	}
	defer release()

	if existing, err := s.findInFlight(ctx, req); err != nil || existing != nil {
		return existing, err
	}

	cart, err := s.loadCart(ctx, req)
	if err != nil {
		return nil, err
	}
	order, err := s.buildOrder(ctx, req, cart)
	if err != nil {
		return nil, err
	}

	sg := &saga{tenantID: req.TenantID, orderID: order.ID}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicateInFlight) {
			// lost the race against a request that did not go through the lock
			if existing, findErr := s.findInFlight(ctx, req); findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	sg.push(StepDeleteOrder, func(ctx context.Context) error {
		return s.orders.DeleteOrder(ctx, order.TenantID, order.ID)
	})
	log.Info("order created", zap.String("order_id", order.ID), zap.String("order_number", order.OrderNumber))

	if err := s.reserve(ctx, sg, order); err != nil {
		return nil, s.abort(ctx, sg, err)
	}

	return s.processPayment(ctx, sg, order)
}

// reserve holds the order's items and moves it to RESERVED
func (s *CheckoutServiceImpl) reserve(ctx context.Context, sg *saga, order *domain.Order) error {
	res, err := s.reservations.Reserve(ctx, order.TenantID, order.ID, order.ReservationItems())
	if err != nil {
		return err
	}
	sg.reservationID = res.ID
	sg.push(StepCancelReservation, func(ctx context.Context) error {
		_, err := s.reservations.Cancel(ctx, order.TenantID, res.ID)
		return err
	})

	order.ReservationID = res.ID
	order.PaymentID = ""
	order.PaymentSecret = ""
	if err := s.transition(ctx, order, domain.OrderReserved); err != nil {
		return fmt.Errorf("failed to mark order reserved: %w", err)
	}
	return nil
}

func (s *CheckoutServiceImpl) findInFlight(ctx context.Context, req Request) (*Result, error) {
	existing, err := s.orders.FindInFlightOrder(ctx, req.TenantID, req.UserID, req.CartID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check in-flight orders: %w", err)
	}

	logger.FromContext(ctx, s.log).Info("duplicate checkout, returning in-flight order",
		zap.String("tenant_id", req.TenantID),
		zap.String("order_id", existing.ID),
		zap.String("status", existing.Status.String()))
	result := resultFromOrder(existing)
	result.Existing = true
	return result, nil
}

// obtainLock serialises checkouts of one cart. The returned func releases the lock.
func (s *CheckoutServiceImpl) obtainLock(ctx context.Context, key string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()

	lk, err := s.locker.Obtain(lockCtx, key, s.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		return nil, domain.ErrCheckoutInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain checkout lock: %w", err)
	}

	return func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
			logger.FromContext(ctx, s.log).Warn("failed to release checkout lock",
				zap.String("key", key), zap.Error(err))
		}
	}, nil
}
