package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"go.uber.org/zap"
)

// processPayment charges a RESERVED order. Card payments leave the order RESERVED until the
// provider webhook arrives; offline methods are confirmed right away.
func (s *CheckoutServiceImpl) processPayment(ctx context.Context, sg *saga, order *domain.Order) (*Result, error) {
	if order.Total.IsZero() {
		if err := s.completePaid(ctx, order); err != nil {
			return nil, s.abort(ctx, sg, err)
		}
		return resultFromOrder(order), nil
	}

	metadata := map[string]string{
		"tenant_id":    order.TenantID,
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
	}
	amount := domain.ToMinorUnits(order.Total, order.Currency)

	paymentCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	if order.PaymentMethod.RequiresConfirmation() {
		intent, err := s.payments.CreatePaymentIntent(paymentCtx, payment.IntentRequest{
			Reference:      order.ID,
			IdempotencyKey: order.ReservationID,
			AmountMinor:    amount,
			Currency:       order.Currency,
			PayerEmail:     order.CustomerEmail,
			Metadata:       metadata,
		})
		if err != nil {
			return nil, s.paymentFailed(ctx, sg, order, err)
		}

		updated := *order
		updated.PaymentID = intent.ID
		updated.PaymentSecret = intent.ClientSecret
		updated.UpdatedAt = s.now().UTC()
		if err := s.orders.UpdateOrder(ctx, &updated, domain.OrderReserved); err != nil {
			if errors.Is(err, domain.ErrIllegalTransition) {
				// the success webhook may land before the intent id is saved
				if paid, getErr := s.orders.GetOrder(ctx, order.TenantID, order.ID); getErr == nil && paid.Status == domain.OrderPaid {
					paid.PaymentSecret = intent.ClientSecret
					*order = *paid
					return resultFromOrder(order), nil
				}
			}
			return nil, s.abort(ctx, sg, fmt.Errorf("failed to save payment intent: %w", err))
		}
		*order = updated
		return resultFromOrder(order), nil
	}

	charge, err := s.payments.ChargeOffline(paymentCtx, payment.ChargeRequest{
		Reference:      order.ID,
		IdempotencyKey: order.ReservationID,
		Method:         order.PaymentMethod,
		AmountMinor:    amount,
		Currency:       order.Currency,
		Metadata:       metadata,
	})
	if err != nil {
		return nil, s.paymentFailed(ctx, sg, order, err)
	}
	order.PaymentID = charge.ID
	if err := s.completePaid(ctx, order); err != nil {
		return nil, s.abort(ctx, sg, err)
	}
	return resultFromOrder(order), nil
}

// paymentFailed keeps the order as FAILED for a later retry and releases its stock.
// Errors that are not payment errors run the full undo stack instead.
func (s *CheckoutServiceImpl) paymentFailed(ctx context.Context, sg *saga, order *domain.Order, err error) error {
	var payErr *domain.PaymentError
	if !errors.As(err, &payErr) {
		return s.abort(ctx, sg, err)
	}
	payErr.OrderID = order.ID

	logger.FromContext(ctx, s.log).Warn("payment failed",
		zap.String("tenant_id", order.TenantID),
		zap.String("order_id", order.ID),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.String("reason", payErr.Reason),
		zap.Bool("temporary", payErr.Temporary),
		zap.Error(payErr.Err))

	cctx, cancel := s.detached(ctx)
	defer cancel()

	if ferr := s.failOrder(cctx, order); ferr != nil {
		rf := &domain.RollbackFailureError{
			OrderID:       order.ID,
			ReservationID: order.ReservationID,
			Step:          StepFailOrder,
			Cause:         payErr,
			Err:           ferr,
		}
		s.reportRollbackFailure(ctx, order.TenantID, rf)
		sg.undo = nil
		return errors.Join(payErr, rf)
	}
	sg.undo = nil
	return payErr
}
