package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/lib/pq"
)

const orderColumns = `id, order_number, tenant_id, user_id, cart_id, status, payment_method, payment_id,
	payment_secret, reservation_id, items, subtotal, tax, shipping, discount, total, currency, coupon_code,
	shipping_address_id, billing_address_id, customer_email, created_at, updated_at`

// CreateOrder takes the next per-tenant sequence and inserts the order in one transaction
func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	return r.WithinTx(ctx, func(ctx context.Context) error {
		var seq int64
		counterQuery := `INSERT INTO order_counters (tenant_id, last_seq) VALUES ($1, 1)
		                 ON CONFLICT (tenant_id) DO UPDATE SET last_seq = order_counters.last_seq + 1
		                 RETURNING last_seq`
		if err := r.q(ctx).QueryRowContext(ctx, counterQuery, order.TenantID).Scan(&seq); err != nil {
			return fmt.Errorf("next order number: %w", err)
		}
		number := store.FormatOrderNumber(order.CreatedAt, seq)

		query := `INSERT INTO orders (` + orderColumns + `)
		          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

		_, insertErr := r.q(ctx).ExecContext(ctx, query,
			order.ID,
			number,
			order.TenantID,
			order.UserID,
			order.CartID,
			order.Status,
			order.PaymentMethod,
			order.PaymentID,
			order.PaymentSecret,
			order.ReservationID,
			itemsJSON,
			order.Subtotal,
			order.Tax,
			order.Shipping,
			order.Discount,
			order.Total,
			order.Currency,
			order.CouponCode,
			order.ShippingAddressID,
			order.BillingAddressID,
			order.CustomerEmail,
			order.CreatedAt,
			order.UpdatedAt)
		if insertErr != nil {
			return mapOrderWriteError("insert order", insertErr)
		}
		order.OrderNumber = number
		return nil
	})
}

func mapOrderWriteError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "uq_orders_in_flight" {
		return domain.ErrDuplicateInFlight
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order     domain.Order
		itemsJSON []byte
	)
	if err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.TenantID,
		&order.UserID,
		&order.CartID,
		&order.Status,
		&order.PaymentMethod,
		&order.PaymentID,
		&order.PaymentSecret,
		&order.ReservationID,
		&itemsJSON,
		&order.Subtotal,
		&order.Tax,
		&order.Shipping,
		&order.Discount,
		&order.Total,
		&order.Currency,
		&order.CouponCode,
		&order.ShippingAddressID,
		&order.BillingAddressID,
		&order.CustomerEmail,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	return &order, nil
}

func (r *Repository) queryOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func (r *Repository) GetOrder(ctx context.Context, tenantID, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.q(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	if order.TenantID != tenantID {
		return nil, domain.ErrTenantMismatch
	}
	return order, nil
}

func (r *Repository) GetOrderByPaymentID(ctx context.Context, tenantID, paymentID string) (*domain.Order, error) {
	if paymentID == "" {
		return nil, domain.ErrOrderNotFound
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1 AND payment_id = $2`

	order, err := scanOrder(r.q(ctx).QueryRowContext(ctx, query, tenantID, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by payment id: %w", err)
	}
	return order, nil
}

func (r *Repository) FindInFlightOrder(ctx context.Context, tenantID, userID, cartID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE tenant_id = $1 AND user_id = $2 AND cart_id = $3 AND status IN ($4, $5)`

	order, err := scanOrder(r.q(ctx).QueryRowContext(ctx, query, tenantID, userID, cartID,
		domain.OrderPending, domain.OrderReserved))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query in-flight order: %w", err)
	}
	return order, nil
}

func (r *Repository) ListOrders(ctx context.Context, tenantID, userID string, limit, offset int) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE tenant_id = $1 AND user_id = $2
	          ORDER BY created_at DESC LIMIT $3 OFFSET $4`
	if limit <= 0 {
		limit = defaultBatch
	}
	return r.queryOrders(ctx, query, tenantID, userID, limit, offset)
}

func (r *Repository) ListStaleOrders(ctx context.Context, statuses []domain.OrderStatus, before time.Time, limit int) ([]*domain.Order, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE status = ANY($1) AND updated_at < $2
	          ORDER BY updated_at LIMIT $3`
	if limit <= 0 {
		limit = defaultBatch
	}
	return r.queryOrders(ctx, query, pq.Array(names), before, limit)
}

func (r *Repository) UpdateOrder(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error {
	query := `UPDATE orders SET status = $4, payment_method = $5, payment_id = $6, payment_secret = $7,
	              reservation_id = $8, updated_at = $9
	          WHERE tenant_id = $1 AND id = $2 AND status = $3`

	result, err := r.q(ctx).ExecContext(ctx, query,
		order.TenantID,
		order.ID,
		expected,
		order.Status,
		order.PaymentMethod,
		order.PaymentID,
		order.PaymentSecret,
		order.ReservationID,
		order.UpdatedAt)
	if err != nil {
		return mapOrderWriteError("update order", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	current, err := r.GetOrder(ctx, order.TenantID, order.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: order is %s, expected %s", domain.ErrIllegalTransition, current.Status, expected)
}

func (r *Repository) DeleteOrder(ctx context.Context, tenantID, id string) error {
	query := `DELETE FROM orders WHERE tenant_id = $1 AND id = $2 AND status IN ($3, $4)`
	result, err := r.q(ctx).ExecContext(ctx, query, tenantID, id, domain.OrderPending, domain.OrderReserved)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	current, err := r.GetOrder(ctx, tenantID, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: order is %s, only in-flight orders are deleted", domain.ErrIllegalTransition, current.Status)
}
