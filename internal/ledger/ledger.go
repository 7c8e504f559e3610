// Package ledger owns every change to stock counters. Each mutation is written
// together with one inventory log entry and reported to the stock observer
// once the surrounding unit of work has committed.
package ledger

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/store"
	"go.uber.org/zap"
)

// Observer is notified after stock mutations. It must not block.
type Observer interface {
	OnStockChange(ctx context.Context, change domain.StockChange)
}

type Ledger struct {
	store    store.StockStore
	observer Observer
	log      *zap.Logger
}

func NewLedger(s store.StockStore, observer Observer, log *zap.Logger) *Ledger {
	return &Ledger{store: s, observer: observer, log: log}
}

// Adjust changes stock outside the reservation flow (returns, restocks, damage, recounts).
// A result below zero is clamped and logged as a warning.
func (l *Ledger) Adjust(ctx context.Context, tenantID string, key domain.StockKey, delta int32,
	reason domain.InventoryReason, reference string) (domain.InventoryLogEntry, error) {
	if tenantID == "" {
		return domain.InventoryLogEntry{}, domain.ErrMissingTenant
	}
	if !reason.IsManual() || delta == 0 {
		return domain.InventoryLogEntry{}, fmt.Errorf("%w: delta=%d reason=%s", domain.ErrInvalidAdjustment, delta, reason)
	}

	entry, err := l.store.Adjust(ctx, tenantID, key, delta, reason, reference)
	if err != nil {
		return domain.InventoryLogEntry{}, fmt.Errorf("adjust %s: %w", key, err)
	}
	if entry.Adjustment != delta {
		l.log.Warn("stock adjustment clamped at zero",
			zap.String("tenant_id", tenantID),
			zap.String("product", key.String()),
			zap.Int32("requested_delta", delta),
			zap.Int32("applied_delta", entry.Adjustment),
			zap.String("reason", reason.String()))
	}

	l.publish(ctx, entry)
	return entry, nil
}

// Hold reserves qty units if that many are available
func (l *Ledger) Hold(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) error {
	if err := validate(tenantID, qty); err != nil {
		return err
	}
	entry, err := l.store.Hold(ctx, tenantID, key, qty, reference)
	if err != nil {
		return err
	}
	l.publish(ctx, entry)
	return nil
}

// Release returns held units to the available pool
func (l *Ledger) Release(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) error {
	if err := validate(tenantID, qty); err != nil {
		return err
	}
	entry, err := l.store.Release(ctx, tenantID, key, qty, reference)
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	l.publish(ctx, entry)
	return nil
}

// Commit turns held units into a permanent deduction
func (l *Ledger) Commit(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) error {
	if err := validate(tenantID, qty); err != nil {
		return err
	}
	entry, err := l.store.Commit(ctx, tenantID, key, qty, reference)
	if err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	l.publish(ctx, entry)
	return nil
}

func (l *Ledger) Stock(ctx context.Context, tenantID string, keys []domain.StockKey) ([]domain.StockInfo, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	return l.store.GetStock(ctx, tenantID, keys)
}

func (l *Ledger) History(ctx context.Context, tenantID string, key domain.StockKey, limit int) ([]domain.InventoryLogEntry, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	return l.store.ListLog(ctx, tenantID, key, limit)
}

func validate(tenantID string, qty int32) error {
	if tenantID == "" {
		return domain.ErrMissingTenant
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidAdjustment, qty)
	}
	return nil
}

// publish reports stock decreases to the observer after commit. Holds and
// releases leave stock untouched and are not reported.
func (l *Ledger) publish(ctx context.Context, entry domain.InventoryLogEntry) {
	if l.observer == nil || entry.NewStock >= entry.PreviousStock {
		return
	}

	change := domain.StockChange{
		TenantID:      entry.TenantID,
		Key:           entry.Key,
		Reason:        entry.Reason,
		PreviousStock: entry.PreviousStock,
		NewStock:      entry.NewStock,
	}
	if rows, err := l.store.GetStock(ctx, entry.TenantID, []domain.StockKey{entry.Key}); err == nil && len(rows) == 1 {
		change.Threshold = rows[0].ReorderThreshold
		change.Reserved = rows[0].Reserved
	}

	detached := context.WithoutCancel(ctx)
	store.AfterCommit(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				l.log.Error("stock observer panicked", zap.Any("panic", r))
			}
		}()
		l.observer.OnStockChange(detached, change)
	})
}
