// Package reservation groups ledger holds for one order into a Reservation and
// drives its RESERVED -> CONFIRMED | CANCELLED lifecycle.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/ledger"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const StepReleaseHolds = "release_holds"

// releaseTimeout bounds the release of partial holds once the caller's context is gone
const releaseTimeout = 10 * time.Second

type Manager struct {
	ledger         *ledger.Ledger
	store          store.ReservationStore
	tx             store.Transactor
	ttl            time.Duration
	releaseTimeout time.Duration
	log            *zap.Logger
	now            func() time.Time
}

func NewManager(l *ledger.Ledger, s store.ReservationStore, tx store.Transactor, ttl time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		ledger:         l,
		store:          s,
		tx:             tx,
		ttl:            ttl,
		releaseTimeout: releaseTimeout,
		log:            log,
		now:            time.Now,
	}
}

// normalize merges duplicate keys and sorts by (product, variant)
func normalize(items []domain.ReservationItem) ([]domain.ReservationItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items to reserve", domain.ErrInvalidAdjustment)
	}
	merged := make(map[domain.StockKey]int32, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", domain.ErrInvalidAdjustment, item.Key)
		}
		merged[item.Key] += item.Quantity
	}

	out := make([]domain.ReservationItem, 0, len(merged))
	for key, qty := range merged {
		out = append(out, domain.ReservationItem{Key: key, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

// Reserve holds every item for the order or none of them
func (m *Manager) Reserve(ctx context.Context, tenantID, orderID string, items []domain.ReservationItem) (*domain.Reservation, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	sorted, err := normalize(items)
	if err != nil {
		return nil, err
	}

	if _, err := m.store.GetActiveReservation(ctx, tenantID, orderID); err == nil {
		return nil, domain.ErrActiveReservation
	} else if !errors.Is(err, domain.ErrReservationNotFound) {
		return nil, fmt.Errorf("failed to check active reservation: %w", err)
	}

	id := uuid.New().String()
	held := make([]domain.ReservationItem, 0, len(sorted))
	for i, item := range sorted {
		if err := m.ledger.Hold(ctx, tenantID, item.Key, item.Quantity, id); err != nil {
			var stockErr *domain.InsufficientStockError
			if errors.As(err, &stockErr) {
				err = m.collectShortages(ctx, tenantID, stockErr, sorted[i+1:])
			}
			return nil, m.rollbackHolds(ctx, tenantID, orderID, id, held, err)
		}
		held = append(held, item)
	}

	now := m.now().UTC()
	res := &domain.Reservation{
		ID:        id,
		TenantID:  tenantID,
		OrderID:   orderID,
		Status:    domain.ReservationReserved,
		Items:     sorted,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.CreateReservation(ctx, res); err != nil {
		return nil, m.rollbackHolds(ctx, tenantID, orderID, id, held, fmt.Errorf("failed to save reservation: %w", err))
	}

	m.log.Info("stock reserved",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", orderID),
		zap.String("reservation_id", id),
		zap.Int("items", len(sorted)))
	return res, nil
}

// collectShortages adds the items after the failing one that would also be short,
// so the caller can show every problem at once
func (m *Manager) collectShortages(ctx context.Context, tenantID string, stockErr *domain.InsufficientStockError,
	rest []domain.ReservationItem) error {
	if len(rest) == 0 {
		return stockErr
	}
	keys := make([]domain.StockKey, 0, len(rest))
	for _, item := range rest {
		keys = append(keys, item.Key)
	}
	stocks, err := m.ledger.Stock(ctx, tenantID, keys)
	if err != nil {
		return stockErr
	}
	available := make(map[domain.StockKey]int32, len(stocks))
	for _, s := range stocks {
		available[s.Key] = s.Available()
	}

	items := append([]domain.StockShortage(nil), stockErr.Items...)
	for _, item := range rest {
		if avail := available[item.Key]; avail < item.Quantity {
			items = append(items, domain.StockShortage{Key: item.Key, Requested: item.Quantity, Available: avail})
		}
	}
	return &domain.InsufficientStockError{Items: items}
}

// rollbackHolds releases what this call already held and returns cause,
// joined with a RollbackFailureError if a release failed. No reservation row exists
// yet, so the releases run on a context detached from the caller's cancellation.
func (m *Manager) rollbackHolds(ctx context.Context, tenantID, orderID, reservationID string,
	held []domain.ReservationItem, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.releaseTimeout)
	defer cancel()

	var failed []error
	for i := len(held) - 1; i >= 0; i-- {
		item := held[i]
		if err := m.ledger.Release(ctx, tenantID, item.Key, item.Quantity, reservationID); err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return cause
	}

	rf := &domain.RollbackFailureError{
		OrderID:       orderID,
		ReservationID: reservationID,
		Step:          StepReleaseHolds,
		Cause:         cause,
		Err:           errors.Join(failed...),
	}
	m.log.Error("failed to release partial holds", zap.Error(rf))
	return errors.Join(cause, rf)
}

// Confirm commits every held item. Confirming a confirmed reservation is a no-op.
func (m *Manager) Confirm(ctx context.Context, tenantID, reservationID string) (*domain.Reservation, error) {
	var result *domain.Reservation
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		res, err := m.store.GetReservation(ctx, tenantID, reservationID)
		if err != nil {
			return err
		}
		switch res.Status {
		case domain.ReservationConfirmed:
			result = res
			return nil
		case domain.ReservationCancelled:
			return fmt.Errorf("%w: reservation %s is cancelled", domain.ErrInvalidStatus, reservationID)
		}

		now := m.now().UTC()
		if err := m.store.TransitionReservation(ctx, tenantID, reservationID,
			domain.ReservationReserved, domain.ReservationConfirmed, now); err != nil {
			return err
		}
		for _, item := range res.Items {
			if err := m.ledger.Commit(ctx, tenantID, item.Key, item.Quantity, reservationID); err != nil {
				return err
			}
		}

		res.Status = domain.ReservationConfirmed
		res.ConfirmedAt = &now
		result = res
		return nil
	})
	if err != nil {
		return nil, m.settled(ctx, tenantID, reservationID, domain.ReservationConfirmed, err)
	}
	return result, nil
}

// Cancel releases every held item. Cancelling a cancelled reservation is a no-op.
func (m *Manager) Cancel(ctx context.Context, tenantID, reservationID string) (*domain.Reservation, error) {
	var result *domain.Reservation
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		res, err := m.store.GetReservation(ctx, tenantID, reservationID)
		if err != nil {
			return err
		}
		switch res.Status {
		case domain.ReservationCancelled:
			result = res
			return nil
		case domain.ReservationConfirmed:
			return fmt.Errorf("%w: reservation %s is confirmed", domain.ErrInvalidStatus, reservationID)
		}

		now := m.now().UTC()
		if err := m.store.TransitionReservation(ctx, tenantID, reservationID,
			domain.ReservationReserved, domain.ReservationCancelled, now); err != nil {
			return err
		}
		for _, item := range res.Items {
			if err := m.ledger.Release(ctx, tenantID, item.Key, item.Quantity, reservationID); err != nil {
				return err
			}
		}

		res.Status = domain.ReservationCancelled
		res.CancelledAt = &now
		result = res
		return nil
	})
	if err != nil {
		return nil, m.settled(ctx, tenantID, reservationID, domain.ReservationCancelled, err)
	}
	return result, nil
}

// settled turns a lost check-and-set race into success when a concurrent caller
// already moved the reservation to the wanted status
func (m *Manager) settled(ctx context.Context, tenantID, reservationID string, want domain.ReservationStatus, err error) error {
	if !errors.Is(err, domain.ErrInvalidStatus) {
		return err
	}
	res, getErr := m.store.GetReservation(ctx, tenantID, reservationID)
	if getErr == nil && res.Status == want {
		return nil
	}
	return err
}

func (m *Manager) Get(ctx context.Context, tenantID, reservationID string) (*domain.Reservation, error) {
	return m.store.GetReservation(ctx, tenantID, reservationID)
}

func (m *Manager) ActiveForOrder(ctx context.Context, tenantID, orderID string) (*domain.Reservation, error) {
	return m.store.GetActiveReservation(ctx, tenantID, orderID)
}

// ExpireStale cancels reservations whose hold TTL passed and returns them
func (m *Manager) ExpireStale(ctx context.Context, limit int) ([]*domain.Reservation, error) {
	expired, err := m.store.ListExpiredReservations(ctx, m.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}

	cancelled := make([]*domain.Reservation, 0, len(expired))
	for _, res := range expired {
		if _, err := m.Cancel(ctx, res.TenantID, res.ID); err != nil {
			// confirmed by a late webhook in the meantime
			if errors.Is(err, domain.ErrInvalidStatus) {
				continue
			}
			m.log.Error("failed to expire reservation",
				zap.String("tenant_id", res.TenantID),
				zap.String("reservation_id", res.ID),
				zap.Error(err))
			continue
		}
		m.log.Info("reservation expired",
			zap.String("tenant_id", res.TenantID),
			zap.String("reservation_id", res.ID),
			zap.String("order_id", res.OrderID))
		cancelled = append(cancelled, res)
	}
	return cancelled, nil
}
