package http

import (
	"context"

	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/payment"
)

// CheckoutServiceMock implements checkout.Service
type CheckoutServiceMock struct {
	result *checkout.Result
	order  *domain.Order
	orders []*domain.Order
	err    error

	lastRequest checkout.Request
	lastRetry   checkout.RetryRequest
	lastEvent   *payment.Event
	lastLimit   int
	lastOffset  int
}

func (m *CheckoutServiceMock) Checkout(_ context.Context, req checkout.Request) (*checkout.Result, error) {
	m.lastRequest = req
	return m.result, m.err
}

func (m *CheckoutServiceMock) RetryPayment(_ context.Context, req checkout.RetryRequest) (*checkout.Result, error) {
	m.lastRetry = req
	return m.result, m.err
}

func (m *CheckoutServiceMock) CancelCheckout(context.Context, string, string, string) (*domain.Order, error) {
	return m.order, m.err
}

func (m *CheckoutServiceMock) HandlePaymentEvent(_ context.Context, ev payment.Event) error {
	m.lastEvent = &ev
	return m.err
}

func (m *CheckoutServiceMock) GetOrder(context.Context, string, string, string) (*domain.Order, error) {
	return m.order, m.err
}

func (m *CheckoutServiceMock) ListOrders(_ context.Context, _, _ string, limit, offset int) ([]*domain.Order, error) {
	m.lastLimit, m.lastOffset = limit, offset
	return m.orders, m.err
}

type InventoryMock struct {
	stock   []domain.StockInfo
	entries []domain.InventoryLogEntry
	err     error

	lastKey    domain.StockKey
	lastDelta  int32
	lastReason domain.InventoryReason
}

func (m *InventoryMock) Adjust(_ context.Context, _ string, key domain.StockKey, delta int32,
	reason domain.InventoryReason, reference string) (domain.InventoryLogEntry, error) {
	m.lastKey, m.lastDelta, m.lastReason = key, delta, reason
	if m.err != nil {
		return domain.InventoryLogEntry{}, m.err
	}
	return domain.InventoryLogEntry{ID: "log-1", Key: key, Adjustment: delta, Reason: reason, Reference: reference}, nil
}

func (m *InventoryMock) Stock(_ context.Context, _ string, keys []domain.StockKey) ([]domain.StockInfo, error) {
	m.lastKey = keys[0]
	return m.stock, m.err
}

func (m *InventoryMock) History(_ context.Context, _ string, key domain.StockKey, _ int) ([]domain.InventoryLogEntry, error) {
	m.lastKey = key
	return m.entries, m.err
}
