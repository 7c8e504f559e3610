package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/google/uuid"
)

func (r *Repository) GetStock(ctx context.Context, tenantID string, keys []domain.StockKey) ([]domain.StockInfo, error) {
	result := make([]domain.StockInfo, 0, len(keys))
	for _, key := range keys {
		info, err := r.getStock(ctx, r.q(ctx), tenantID, key, false)
		if errors.Is(err, domain.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	return result, nil
}

func (r *Repository) getStock(ctx context.Context, q querier, tenantID string, key domain.StockKey, forUpdate bool) (domain.StockInfo, error) {
	query := `SELECT stock, reserved, reorder_threshold, updated_at
	          FROM inventory WHERE tenant_id = $1 AND product_id = $2 AND variant_id = $3`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	info := domain.StockInfo{TenantID: tenantID, Key: key}
	err := q.QueryRowContext(ctx, query, tenantID, key.ProductID, key.VariantID).Scan(
		&info.Stock,
		&info.Reserved,
		&info.ReorderThreshold,
		&info.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockInfo{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, key)
	}
	if err != nil {
		return domain.StockInfo{}, fmt.Errorf("query stock %s: %w", key, err)
	}
	return info, nil
}

func (r *Repository) CreateStock(ctx context.Context, info domain.StockInfo) error {
	query := `INSERT INTO inventory (tenant_id, product_id, variant_id, stock, reserved, reorder_threshold, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err := r.q(ctx).ExecContext(ctx, query,
		info.TenantID,
		info.Key.ProductID,
		info.Key.VariantID,
		info.Stock,
		info.Reserved,
		info.ReorderThreshold)
	if isUniqueViolation(err) {
		return store.ErrStockExists
	}
	if err != nil {
		return fmt.Errorf("insert stock: %w", err)
	}
	return nil
}

// Hold is a single conditional update, so concurrent holds never oversell
func (r *Repository) Hold(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) (domain.InventoryLogEntry, error) {
	var entry domain.InventoryLogEntry
	err := r.WithinTx(ctx, func(ctx context.Context) error {
		query := `UPDATE inventory SET reserved = reserved + $4, updated_at = NOW()
		          WHERE tenant_id = $1 AND product_id = $2 AND variant_id = $3 AND stock - reserved >= $4
		          RETURNING stock`

		var stock int32
		err := r.q(ctx).QueryRowContext(ctx, query, tenantID, key.ProductID, key.VariantID, qty).Scan(&stock)
		if errors.Is(err, sql.ErrNoRows) {
			info, getErr := r.getStock(ctx, r.q(ctx), tenantID, key, false)
			if getErr != nil {
				return getErr
			}
			return &domain.InsufficientStockError{Items: []domain.StockShortage{
				{Key: key, Requested: qty, Available: info.Available()},
			}}
		}
		if err != nil {
			return fmt.Errorf("hold %s: %w", key, err)
		}

		entry = newLogEntry(tenantID, key, domain.ReasonReservationHold, reference, stock, stock, qty)
		return r.insertLog(ctx, entry)
	})
	return entry, err
}

func (r *Repository) Release(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) (domain.InventoryLogEntry, error) {
	return r.mutate(ctx, tenantID, key, domain.ReasonReservationRelease, reference, func(info *domain.StockInfo) error {
		info.Reserved -= qty
		if info.Reserved < 0 {
			info.Reserved = 0
		}
		return nil
	})
}

func (r *Repository) Commit(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) (domain.InventoryLogEntry, error) {
	return r.mutate(ctx, tenantID, key, domain.ReasonPurchase, reference, func(info *domain.StockInfo) error {
		if info.Reserved < qty {
			return store.ErrNotHeld
		}
		info.Reserved -= qty
		info.Stock -= qty
		return nil
	})
}

func (r *Repository) Adjust(ctx context.Context, tenantID string, key domain.StockKey, delta int32, reason domain.InventoryReason, reference string) (domain.InventoryLogEntry, error) {
	return r.mutate(ctx, tenantID, key, reason, reference, func(info *domain.StockInfo) error {
		next, err := info.AdjustedStock(delta)
		if err != nil {
			return err
		}
		if next < info.Reserved {
			return &domain.InsufficientStockError{Items: []domain.StockShortage{
				{Key: key, Requested: -delta, Available: info.Available()},
			}}
		}
		info.Stock = next
		return nil
	})
}

// mutate locks the row, applies change and writes counters and log entry in one transaction
func (r *Repository) mutate(ctx context.Context, tenantID string, key domain.StockKey, reason domain.InventoryReason,
	reference string, change func(info *domain.StockInfo) error) (domain.InventoryLogEntry, error) {
	var entry domain.InventoryLogEntry
	err := r.WithinTx(ctx, func(ctx context.Context) error {
		before, err := r.getStock(ctx, r.q(ctx), tenantID, key, true)
		if err != nil {
			return err
		}
		next := before
		if err := change(&next); err != nil {
			return err
		}

		query := `UPDATE inventory SET stock = $4, reserved = $5, updated_at = NOW()
		          WHERE tenant_id = $1 AND product_id = $2 AND variant_id = $3`
		if _, err := r.q(ctx).ExecContext(ctx, query, tenantID, key.ProductID, key.VariantID, next.Stock, next.Reserved); err != nil {
			return fmt.Errorf("update stock %s: %w", key, err)
		}

		entry = newLogEntry(tenantID, key, reason, reference, before.Stock, next.Stock, next.Reserved-before.Reserved)
		return r.insertLog(ctx, entry)
	})
	return entry, err
}

func newLogEntry(tenantID string, key domain.StockKey, reason domain.InventoryReason, reference string,
	previous, next, reservedDelta int32) domain.InventoryLogEntry {
	return domain.InventoryLogEntry{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Key:           key,
		Adjustment:    next - previous,
		ReservedDelta: reservedDelta,
		Reason:        reason,
		PreviousStock: previous,
		NewStock:      next,
		Reference:     reference,
		CreatedAt:     time.Now().UTC(),
	}
}

func (r *Repository) insertLog(ctx context.Context, entry domain.InventoryLogEntry) error {
	query := `INSERT INTO inventory_log (id, tenant_id, product_id, variant_id, adjustment, reserved_delta,
	              reason, previous_stock, new_stock, reference, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.q(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.Key.ProductID,
		entry.Key.VariantID,
		entry.Adjustment,
		entry.ReservedDelta,
		entry.Reason,
		entry.PreviousStock,
		entry.NewStock,
		entry.Reference,
		entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert inventory log: %w", err)
	}
	return nil
}

func (r *Repository) ListLog(ctx context.Context, tenantID string, key domain.StockKey, limit int) ([]domain.InventoryLogEntry, error) {
	query := `SELECT id, adjustment, reserved_delta, reason, previous_stock, new_stock, reference, created_at
	          FROM inventory_log WHERE tenant_id = $1 AND product_id = $2 AND variant_id = $3
	          ORDER BY seq`
	args := []any{tenantID, key.ProductID, key.VariantID}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inventory log: %w", err)
	}
	defer rows.Close()

	var entries []domain.InventoryLogEntry
	for rows.Next() {
		entry := domain.InventoryLogEntry{TenantID: tenantID, Key: key}
		if err := rows.Scan(
			&entry.ID,
			&entry.Adjustment,
			&entry.ReservedDelta,
			&entry.Reason,
			&entry.PreviousStock,
			&entry.NewStock,
			&entry.Reference,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan inventory log row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}
