package store

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// Common errors returned by the stores, next to the domain sentinels
var (
	ErrStockExists   = errors.New("stock row already exists")
	ErrNotHeld       = errors.New("quantity exceeds the reserved amount")
	ErrEventNotFound = errors.New("outbox event not found")
)

// Transactor runs fn in one unit of work. Nested calls join the outer unit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StockStore owns the stock counters and the inventory log.
// Every mutation writes exactly one log entry atomically with the counter change.
type StockStore interface {
	// GetStock returns counters for the given keys, skipping unknown ones
	GetStock(ctx context.Context, tenantID string, keys []domain.StockKey) ([]domain.StockInfo, error)

	// CreateStock inserts a new stock row with its initial stock
	CreateStock(ctx context.Context, info domain.StockInfo) error

	// Hold increments reserved if available >= qty, otherwise returns *domain.InsufficientStockError
	Hold(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) (domain.InventoryLogEntry, error)

	// Release decrements reserved, floored at 0
	Release(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) (domain.InventoryLogEntry, error)

	// Commit decrements both reserved and stock by qty
	Commit(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) (domain.InventoryLogEntry, error)

	// Adjust applies a signed stock change, clamping the result at 0.
	// The logged adjustment is the change actually applied.
	Adjust(ctx context.Context, tenantID string, key domain.StockKey, delta int32, reason domain.InventoryReason, reference string) (domain.InventoryLogEntry, error)

	// ListLog returns log entries for a key, oldest first
	ListLog(ctx context.Context, tenantID string, key domain.StockKey, limit int) ([]domain.InventoryLogEntry, error)
}

type ReservationStore interface {
	// CreateReservation fails with domain.ErrActiveReservation if the order already has a non-cancelled one
	CreateReservation(ctx context.Context, r *domain.Reservation) error

	GetReservation(ctx context.Context, tenantID, id string) (*domain.Reservation, error)

	// GetActiveReservation returns the non-cancelled reservation of an order
	GetActiveReservation(ctx context.Context, tenantID, orderID string) (*domain.Reservation, error)

	// TransitionReservation is a check-and-set on the status.
	// Returns domain.ErrInvalidStatus if the current status is not from.
	TransitionReservation(ctx context.Context, tenantID, id string, from, to domain.ReservationStatus, at time.Time) error

	// ListExpiredReservations returns RESERVED reservations across all tenants that expired before the given time
	ListExpiredReservations(ctx context.Context, before time.Time, limit int) ([]*domain.Reservation, error)
}

type OrderStore interface {
	// CreateOrder assigns the order number and persists the order.
	// Returns domain.ErrDuplicateInFlight if an in-flight order exists for the same cart.
	CreateOrder(ctx context.Context, order *domain.Order) error

	GetOrder(ctx context.Context, tenantID, id string) (*domain.Order, error)
	GetOrderByPaymentID(ctx context.Context, tenantID, paymentID string) (*domain.Order, error)

	// FindInFlightOrder returns the PENDING or RESERVED order for a user's cart
	FindInFlightOrder(ctx context.Context, tenantID, userID, cartID string) (*domain.Order, error)

	ListOrders(ctx context.Context, tenantID, userID string, limit, offset int) ([]*domain.Order, error)

	// ListStaleOrders returns orders in the given statuses last updated before the given time, across tenants
	ListStaleOrders(ctx context.Context, statuses []domain.OrderStatus, before time.Time, limit int) ([]*domain.Order, error)

	// UpdateOrder saves status and payment fields if the stored status still equals expected.
	// Returns domain.ErrIllegalTransition otherwise.
	UpdateOrder(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error

	// DeleteOrder removes a PENDING or RESERVED order.
	// Returns domain.ErrIllegalTransition once the order has settled.
	DeleteOrder(ctx context.Context, tenantID, id string) error
}

type OutboxStore interface {
	AddOutboxEvent(ctx context.Context, event domain.OutboxEvent) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkEventProcessed(ctx context.Context, id string) error
}
