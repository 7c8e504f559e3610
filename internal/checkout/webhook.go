package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HandlePaymentEvent applies an asynchronous provider result to its order.
// Redelivered events are no-ops. Events that can no longer be applied, such as a success
// arriving after the reservation expired, are raised to operators instead of failing.
func (s *CheckoutServiceImpl) HandlePaymentEvent(ctx context.Context, ev payment.Event) error {
	if ev.TenantID == "" {
		return domain.ErrMissingTenant
	}
	ctx, span := s.tracer.Start(ctx, "checkout.HandlePaymentEvent", trace.WithAttributes(
		attribute.String("tenant_id", ev.TenantID),
		attribute.String("event_type", string(ev.Type)),
	))
	defer span.End()

	log := logger.FromContext(ctx, s.log).With(
		zap.String("tenant_id", ev.TenantID),
		zap.String("event_id", ev.ID),
		zap.String("payment_id", ev.PaymentID))

	order, err := s.orderForPayment(ctx, ev)
	if err != nil {
		return err
	}
	log = log.With(zap.String("order_id", order.ID), zap.String("status", order.Status.String()))

	switch ev.Type {
	case payment.EventPaymentSucceeded:
		switch order.Status {
		case domain.OrderPaid:
			log.Debug("payment already applied")
			return nil
		case domain.OrderReserved:
			err := s.completePaid(ctx, order)
			if err == nil {
				log.Info("order paid")
				return nil
			}
			if errors.Is(err, domain.ErrInvalidStatus) {
				// reservation expired before the money arrived
				s.paymentMismatch(ctx, order, ev.PaymentID, "payment succeeded after the reservation was released")
				return nil
			}
			if s.settledAs(ctx, order, domain.OrderPaid) {
				return nil
			}
			return err
		default:
			s.paymentMismatch(ctx, order, ev.PaymentID,
				fmt.Sprintf("payment succeeded for an order in status %s", order.Status))
			return nil
		}

	case payment.EventPaymentFailed:
		if order.Status != domain.OrderReserved {
			log.Info("ignoring payment failure for settled order")
			return nil
		}
		if err := s.failOrder(ctx, order); err != nil {
			if s.settledAs(ctx, order, domain.OrderFailed) {
				return nil
			}
			return err
		}
		log.Info("order payment failed", zap.String("reason", ev.FailureReason))
		return nil
	}
	return fmt.Errorf("%w: %s", payment.ErrUnknownEvent, ev.Type)
}

func (s *CheckoutServiceImpl) orderForPayment(ctx context.Context, ev payment.Event) (*domain.Order, error) {
	order, err := s.orders.GetOrderByPaymentID(ctx, ev.TenantID, ev.PaymentID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) || ev.OrderID == "" {
		return nil, err
	}

	// the webhook may beat the write of the payment id
	order, err = s.orders.GetOrder(ctx, ev.TenantID, ev.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentID != "" && order.PaymentID != ev.PaymentID {
		return nil, fmt.Errorf("%w: payment %s does not belong to order %s", domain.ErrOrderNotFound, ev.PaymentID, order.ID)
	}
	order.PaymentID = ev.PaymentID
	return order, nil
}

// settledAs reports whether a concurrent caller already moved the order to want
func (s *CheckoutServiceImpl) settledAs(ctx context.Context, order *domain.Order, want domain.OrderStatus) bool {
	current, err := s.orders.GetOrder(ctx, order.TenantID, order.ID)
	return err == nil && current.Status == want
}

func (s *CheckoutServiceImpl) paymentMismatch(ctx context.Context, order *domain.Order, paymentID, message string) {
	logger.FromContext(ctx, s.log).Error("payment needs reconciliation",
		zap.String("tenant_id", order.TenantID),
		zap.String("order_id", order.ID),
		zap.String("payment_id", paymentID),
		zap.String("status", order.Status.String()),
		zap.String("message", message))
	if s.alerts != nil {
		s.alerts.PaymentMismatch(ctx, order.TenantID, order.ID, paymentID, message)
	}
}
