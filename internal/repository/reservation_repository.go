package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

const defaultBatch = 100

const reservationColumns = `id, tenant_id, order_id, status, items, created_at, expires_at, confirmed_at, cancelled_at`

func (r *Repository) CreateReservation(ctx context.Context, res *domain.Reservation) error {
	itemsJSON, err := json.Marshal(res.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal reservation items: %w", err)
	}

	query := `INSERT INTO reservations (id, tenant_id, order_id, status, items, created_at, expires_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.q(ctx).ExecContext(ctx, query,
		res.ID,
		res.TenantID,
		res.OrderID,
		res.Status,
		itemsJSON,
		res.CreatedAt,
		res.ExpiresAt)
	if isUniqueViolation(err) {
		return domain.ErrActiveReservation
	}
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var (
		res         domain.Reservation
		itemsJSON   []byte
		confirmedAt sql.NullTime
		cancelledAt sql.NullTime
	)
	if err := row.Scan(
		&res.ID,
		&res.TenantID,
		&res.OrderID,
		&res.Status,
		&itemsJSON,
		&res.CreatedAt,
		&res.ExpiresAt,
		&confirmedAt,
		&cancelledAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &res.Items); err != nil {
		return nil, fmt.Errorf("unmarshal reservation items: %w", err)
	}
	if confirmedAt.Valid {
		res.ConfirmedAt = &confirmedAt.Time
	}
	if cancelledAt.Valid {
		res.CancelledAt = &cancelledAt.Time
	}
	return &res, nil
}

func (r *Repository) GetReservation(ctx context.Context, tenantID, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res, err := scanReservation(r.q(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	if res.TenantID != tenantID {
		return nil, domain.ErrTenantMismatch
	}
	return res, nil
}

func (r *Repository) GetActiveReservation(ctx context.Context, tenantID, orderID string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
	          WHERE tenant_id = $1 AND order_id = $2 AND status <> $3`

	res, err := scanReservation(r.q(ctx).QueryRowContext(ctx, query, tenantID, orderID, domain.ReservationCancelled))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active reservation: %w", err)
	}
	return res, nil
}

// TransitionReservation updates the status only while it still equals from
func (r *Repository) TransitionReservation(ctx context.Context, tenantID, id string, from, to domain.ReservationStatus, at time.Time) error {
	query := `UPDATE reservations SET status = $4::text,
	              confirmed_at = CASE WHEN $4::text = 'CONFIRMED' THEN $5::timestamptz ELSE confirmed_at END,
	              cancelled_at = CASE WHEN $4::text = 'CANCELLED' THEN $5::timestamptz ELSE cancelled_at END
	          WHERE tenant_id = $1 AND id = $2 AND status = $3`

	result, err := r.q(ctx).ExecContext(ctx, query, tenantID, id, from, to, at)
	if err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	current, err := r.GetReservation(ctx, tenantID, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: reservation %s is %s, expected %s", domain.ErrInvalidStatus, id, current.Status, from)
}

func (r *Repository) ListExpiredReservations(ctx context.Context, before time.Time, limit int) ([]*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
	          WHERE status = $1 AND expires_at < $2
	          ORDER BY expires_at LIMIT $3`
	if limit <= 0 {
		limit = defaultBatch
	}

	rows, err := r.q(ctx).QueryContext(ctx, query, domain.ReservationReserved, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired reservations: %w", err)
	}
	defer rows.Close()

	var result []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation row: %w", err)
		}
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return result, nil
}
