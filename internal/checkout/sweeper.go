package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.uber.org/zap"
)

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	// RecoverAfter is how long an order may sit PENDING or RESERVED before
	// the recovery pass compares it with its reservation
	RecoverAfter time.Duration
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:     time.Minute,
		BatchSize:    100,
		RecoverAfter: 5 * time.Minute,
	}
}

type SweepStats struct {
	Expired   int
	Cancelled int
	Recovered int
}

// Sweeper releases expired holds and reconciles orders left behind by crashed checkouts
type Sweeper struct {
	svc *CheckoutServiceImpl
	cfg SweeperConfig
	log *zap.Logger
}

func NewSweeper(svc *CheckoutServiceImpl, cfg SweeperConfig, log *zap.Logger) *Sweeper {
	return &Sweeper{svc: svc, cfg: cfg, log: log}
}

// Run sweeps every interval until ctx is cancelled
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.cfg.Interval)
	defer ticker.Stop()

	sw.log.Info("reservation sweeper started", zap.Duration("interval", sw.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			sw.log.Info("reservation sweeper stopped")
			return
		case <-ticker.C:
			stats, err := sw.SweepOnce(ctx)
			if err != nil {
				sw.log.Error("sweep failed", zap.Error(err))
				continue
			}
			if stats != (SweepStats{}) {
				sw.log.Info("sweep finished",
					zap.Int("expired", stats.Expired),
					zap.Int("cancelled", stats.Cancelled),
					zap.Int("recovered", stats.Recovered))
			}
		}
	}
}

func (sw *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	expired, err := sw.svc.reservations.ExpireStale(ctx, sw.cfg.BatchSize)
	if err != nil {
		return stats, err
	}
	stats.Expired = len(expired)

	for _, res := range expired {
		order, err := sw.svc.orders.GetOrder(ctx, res.TenantID, res.OrderID)
		if err != nil {
			sw.log.Warn("expired reservation without order",
				zap.String("tenant_id", res.TenantID),
				zap.String("reservation_id", res.ID),
				zap.Error(err))
			continue
		}
		if order.Status != domain.OrderReserved || order.ReservationID != res.ID {
			continue
		}
		if err := sw.svc.transition(ctx, order, domain.OrderCancelled); err != nil {
			sw.log.Error("failed to cancel expired order",
				zap.String("tenant_id", order.TenantID),
				zap.String("order_id", order.ID),
				zap.Error(err))
			continue
		}
		stats.Cancelled++
	}

	recovered, err := sw.recover(ctx)
	stats.Recovered = recovered
	return stats, err
}

// recover advances orders whose reservation already reached a final state
func (sw *Sweeper) recover(ctx context.Context) (int, error) {
	before := sw.svc.now().UTC().Add(-sw.cfg.RecoverAfter)
	stale, err := sw.svc.orders.ListStaleOrders(ctx,
		[]domain.OrderStatus{domain.OrderPending, domain.OrderReserved}, before, sw.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, order := range stale {
		target, err := sw.recoveryTarget(ctx, order)
		if err != nil {
			sw.log.Error("failed to inspect stale order",
				zap.String("tenant_id", order.TenantID),
				zap.String("order_id", order.ID),
				zap.Error(err))
			continue
		}
		if target == "" {
			continue
		}
		if err := sw.svc.transition(ctx, order, target); err != nil {
			sw.log.Error("failed to recover order",
				zap.String("tenant_id", order.TenantID),
				zap.String("order_id", order.ID),
				zap.String("target", target.String()),
				zap.Error(err))
			continue
		}
		sw.log.Info("order recovered",
			zap.String("tenant_id", order.TenantID),
			zap.String("order_id", order.ID),
			zap.String("status", target.String()))
		recovered++
	}
	return recovered, nil
}

// recoveryTarget returns the status the order should be in, or "" to leave it alone
func (sw *Sweeper) recoveryTarget(ctx context.Context, order *domain.Order) (domain.OrderStatus, error) {
	if order.Status == domain.OrderPending {
		// the checkout died between creating the order and recording the reservation
		res, err := sw.svc.reservations.ActiveForOrder(ctx, order.TenantID, order.ID)
		if errors.Is(err, domain.ErrReservationNotFound) {
			return domain.OrderCancelled, nil
		}
		if err != nil {
			return "", err
		}
		if res.Status == domain.ReservationConfirmed {
			// next pass moves it on to PAID
			order.ReservationID = res.ID
			return domain.OrderReserved, nil
		}
		if _, err := sw.svc.reservations.Cancel(ctx, order.TenantID, res.ID); err != nil {
			return "", err
		}
		return domain.OrderCancelled, nil
	}

	if order.ReservationID == "" {
		return "", nil
	}
	res, err := sw.svc.reservations.Get(ctx, order.TenantID, order.ReservationID)
	if err != nil {
		return "", err
	}
	switch res.Status {
	case domain.ReservationConfirmed:
		return domain.OrderPaid, nil
	case domain.ReservationCancelled:
		return domain.OrderCancelled, nil
	}
	return "", nil
}
