package checkout

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"go.uber.org/zap"
)

// Compensation step names, reported in RollbackFailureError.Step
const (
	StepDeleteOrder       = "delete_order"
	StepCancelReservation = "cancel_reservation"
	StepFailOrder         = "fail_order"
	StepRestoreFailed     = "restore_failed_order"
)

type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// saga is the undo stack of one checkout attempt
type saga struct {
	tenantID      string
	orderID       string
	reservationID string
	undo          []compensation
}

func (sg *saga) push(step string, fn func(ctx context.Context) error) {
	sg.undo = append(sg.undo, compensation{step: step, undo: fn})
}

// detached keeps ctx values (trace, logger) but survives the caller going away
func (s *CheckoutServiceImpl) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
}

// abort runs the undo stack newest first and returns cause, joined with a
// RollbackFailureError for every compensation that failed
func (s *CheckoutServiceImpl) abort(ctx context.Context, sg *saga, cause error) error {
	log := logger.FromContext(ctx, s.log)

	// holds released inside the reservation manager may already have failed
	var reserveFailure *domain.RollbackFailureError
	if errors.As(cause, &reserveFailure) {
		s.reportRollbackFailure(ctx, sg.tenantID, reserveFailure)
	}

	if len(sg.undo) == 0 {
		return cause
	}

	log.Warn("checkout aborted, compensating",
		zap.String("tenant_id", sg.tenantID),
		zap.String("order_id", sg.orderID),
		zap.Int("steps", len(sg.undo)),
		zap.Error(cause))

	cctx, cancel := s.detached(ctx)
	defer cancel()

	errs := []error{cause}
	for i := len(sg.undo) - 1; i >= 0; i-- {
		c := sg.undo[i]
		if err := c.undo(cctx); err != nil {
			rf := &domain.RollbackFailureError{
				OrderID:       sg.orderID,
				ReservationID: sg.reservationID,
				Step:          c.step,
				Cause:         cause,
				Err:           err,
			}
			s.reportRollbackFailure(ctx, sg.tenantID, rf)
			errs = append(errs, rf)
		}
	}
	sg.undo = nil
	return errors.Join(errs...)
}

func (s *CheckoutServiceImpl) reportRollbackFailure(ctx context.Context, tenantID string, rf *domain.RollbackFailureError) {
	logger.FromContext(ctx, s.log).Error("compensation failed, manual reconciliation required",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", rf.OrderID),
		zap.String("reservation_id", rf.ReservationID),
		zap.String("step", rf.Step),
		zap.Error(rf))
	if s.alerts != nil {
		s.alerts.RollbackFailed(ctx, tenantID, rf)
	}
}
