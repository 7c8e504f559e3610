package checkout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
)

var outboxEvents = map[domain.OrderStatus]string{
	domain.OrderPaid:      domain.EventOrderPaid,
	domain.OrderFailed:    domain.EventOrderFailed,
	domain.OrderCancelled: domain.EventOrderCancelled,
}

// transition moves the order to status with a check-and-set on its current status.
// PAID, FAILED and CANCELLED also enqueue an outbox event in the same unit of work.
func (s *CheckoutServiceImpl) transition(ctx context.Context, order *domain.Order, to domain.OrderStatus) error {
	from := order.Status
	if !domain.CanTransitionTo(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		updated := *order
		updated.Status = to
		updated.UpdatedAt = s.now().UTC()
		if err := s.orders.UpdateOrder(ctx, &updated, from); err != nil {
			return err
		}

		if eventType, ok := outboxEvents[to]; ok {
			event, err := s.orderEvent(&updated, eventType)
			if err != nil {
				return err
			}
			if err := s.outbox.AddOutboxEvent(ctx, event); err != nil {
				return fmt.Errorf("failed to add outbox event: %w", err)
			}
		}
		*order = updated
		return nil
	})
}

func (s *CheckoutServiceImpl) orderEvent(order *domain.Order, eventType string) (domain.OutboxEvent, error) {
	payload := map[string]interface{}{
		"order_id":       order.ID,
		"order_number":   order.OrderNumber,
		"tenant_id":      order.TenantID,
		"user_id":        order.UserID,
		"status":         order.Status,
		"payment_method": order.PaymentMethod,
		"payment_id":     order.PaymentID,
		"items":          order.Items,
		"total":          order.Total,
		"currency":       order.Currency,
		"occurred_at":    order.UpdatedAt,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("failed to marshal order event payload: %w", err)
	}

	return domain.OutboxEvent{
		ID:          uuid.New().String(),
		AggregateID: order.ID,
		TenantID:    order.TenantID,
		EventType:   eventType,
		Payload:     payloadJSON,
		CreatedAt:   order.UpdatedAt,
	}, nil
}

// completePaid commits the held stock and marks the order PAID
func (s *CheckoutServiceImpl) completePaid(ctx context.Context, order *domain.Order) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.reservations.Confirm(ctx, order.TenantID, order.ReservationID); err != nil {
			return fmt.Errorf("failed to confirm reservation: %w", err)
		}
		return s.transition(ctx, order, domain.OrderPaid)
	})
}

// failOrder releases the held stock and marks the order FAILED. The order is kept for retry.
func (s *CheckoutServiceImpl) failOrder(ctx context.Context, order *domain.Order) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if order.ReservationID != "" {
			if _, err := s.reservations.Cancel(ctx, order.TenantID, order.ReservationID); err != nil {
				return fmt.Errorf("failed to cancel reservation: %w", err)
			}
		}
		return s.transition(ctx, order, domain.OrderFailed)
	})
}

// cancelOrder releases the held stock of a RESERVED order and marks it CANCELLED
func (s *CheckoutServiceImpl) cancelOrder(ctx context.Context, order *domain.Order) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if order.Status == domain.OrderReserved && order.ReservationID != "" {
			if _, err := s.reservations.Cancel(ctx, order.TenantID, order.ReservationID); err != nil {
				return fmt.Errorf("failed to cancel reservation: %w", err)
			}
		}
		return s.transition(ctx, order, domain.OrderCancelled)
	})
}
