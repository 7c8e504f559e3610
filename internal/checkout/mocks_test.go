package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/ledger"
	"github.com/fjod/go_cart/storefront/internal/lock"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/internal/reservation"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	tenantA = "tenant-a"
	userA   = "user-1"
	cartA   = "cart-1"
)

var (
	keyShirt = domain.StockKey{ProductID: 1}
	keyMug   = domain.StockKey{ProductID: 2}
)

// MockPaymentClient implements payment.Client for testing
type MockPaymentClient struct {
	mu         sync.Mutex
	IntentErr  error
	ChargeErr  error
	Intents    []payment.IntentRequest
	Charges    []payment.ChargeRequest
	nextIntent int
	// OnIntent runs before the intent is returned, e.g. to deliver an early webhook
	OnIntent func(ctx context.Context, req payment.IntentRequest, intent *payment.Intent)
}

func (m *MockPaymentClient) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	m.mu.Lock()
	m.Intents = append(m.Intents, req)
	if m.IntentErr != nil {
		m.mu.Unlock()
		return nil, m.IntentErr
	}
	m.nextIntent++
	id := fmt.Sprintf("pi_%d", m.nextIntent)
	onIntent := m.OnIntent
	m.mu.Unlock()

	intent := &payment.Intent{ID: id, ClientSecret: id + "_secret"}
	if onIntent != nil {
		onIntent(ctx, req, intent)
	}
	return intent, nil
}

func (m *MockPaymentClient) ChargeOffline(_ context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Charges = append(m.Charges, req)
	if m.ChargeErr != nil {
		return nil, m.ChargeErr
	}
	return &payment.Charge{ID: "ch_" + req.Reference}, nil
}

// RecordingAlerter implements Alerter for testing
type RecordingAlerter struct {
	mu         sync.Mutex
	Rollbacks  []*domain.RollbackFailureError
	Mismatches []string
}

func (a *RecordingAlerter) RollbackFailed(_ context.Context, _ string, rf *domain.RollbackFailureError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Rollbacks = append(a.Rollbacks, rf)
}

func (a *RecordingAlerter) PaymentMismatch(_ context.Context, _, orderID, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Mismatches = append(a.Mismatches, orderID)
}

// FaultyOrderStore wraps the memory store and injects order store failures
type FaultyOrderStore struct {
	*store.MemoryStore
	DeleteErr error
	// UpdateErr fails updates that move an order into the given status
	UpdateErr    error
	UpdateErrFor domain.OrderStatus
}

func (f *FaultyOrderStore) DeleteOrder(ctx context.Context, tenantID, id string) error {
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	return f.MemoryStore.DeleteOrder(ctx, tenantID, id)
}

func (f *FaultyOrderStore) UpdateOrder(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error {
	if f.UpdateErr != nil && order.Status == f.UpdateErrFor {
		return f.UpdateErr
	}
	return f.MemoryStore.UpdateOrder(ctx, order, expected)
}

// FailingLocker never hands out the lock
type FailingLocker struct{}

func (FailingLocker) Obtain(context.Context, string, time.Duration) (lock.Lock, error) {
	return nil, lock.ErrNotObtained
}

var errStore = errors.New("store unavailable")

type testEnv struct {
	store    *store.MemoryStore
	orders   *FaultyOrderStore
	payments *MockPaymentClient
	alerts   *RecordingAlerter
	ledger   *ledger.Ledger
	svc      *CheckoutServiceImpl
}

// newTestEnv wires the orchestrator over the memory store with a shirt (stock 10, price 20.00)
// and a mug (stock 5, price 7.50)
func newTestEnv(t *testing.T, reservationTTL time.Duration) *testEnv {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemoryStore()
	log := zap.NewNop()

	ms.SetProduct(domain.Product{ID: 1, TenantID: tenantA, Name: "Shirt", Price: decimal.RequireFromString("20.00"), Currency: "USD", Published: true})
	ms.SetProduct(domain.Product{ID: 2, TenantID: tenantA, Name: "Mug", Price: decimal.RequireFromString("7.50"), Currency: "USD", Published: true})
	require.NoError(t, ms.CreateStock(ctx, domain.StockInfo{TenantID: tenantA, Key: keyShirt, Stock: 10}))
	require.NoError(t, ms.CreateStock(ctx, domain.StockInfo{TenantID: tenantA, Key: keyMug, Stock: 5}))

	l := ledger.NewLedger(ms, nil, log)
	env := &testEnv{
		store:    ms,
		orders:   &FaultyOrderStore{MemoryStore: ms},
		payments: &MockPaymentClient{},
		alerts:   &RecordingAlerter{},
		ledger:   l,
	}
	env.svc = NewCheckoutService(Deps{
		Carts:        ms,
		Products:     ms,
		Ledger:       l,
		Reservations: reservation.NewManager(l, ms, ms, reservationTTL, log),
		Orders:       env.orders,
		Outbox:       ms,
		Tx:           ms,
		Payments:     env.payments,
		Locker:       lock.NewLocalLocker(),
		Alerts:       env.alerts,
		Log:          log,
	}, DefaultConfig())
	return env
}

func (e *testEnv) setCart(items ...domain.CartItem) {
	e.store.SetCart(domain.Cart{
		ID:            cartA,
		TenantID:      tenantA,
		UserID:        userA,
		CustomerEmail: "buyer@example.com",
		Items:         items,
		Totals: domain.CartTotals{
			Tax:      decimal.RequireFromString("2.00"),
			Shipping: decimal.RequireFromString("5.00"),
			Currency: "USD",
		},
	})
}

func (e *testEnv) stock(t *testing.T, key domain.StockKey) domain.StockInfo {
	t.Helper()
	stocks, err := e.ledger.Stock(context.Background(), tenantA, []domain.StockKey{key})
	require.NoError(t, err)
	require.Len(t, stocks, 1)
	return stocks[0]
}

func (e *testEnv) outboxTypes(t *testing.T) []string {
	t.Helper()
	events, err := e.store.GetUnprocessedEvents(context.Background(), 0)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	return types
}

func request(method domain.PaymentMethod) Request {
	return Request{
		TenantID:          tenantA,
		UserID:            userA,
		CartID:            cartA,
		ShippingAddressID: "addr-1",
		BillingAddressID:  "addr-1",
		PaymentMethod:     method,
	}
}
