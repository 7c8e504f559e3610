package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const tenant = "tenant-a"

var shirt = domain.StockKey{ProductID: 1}

func setupTestDB(t *testing.T) (*Repository, func()) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(creds, zap.NewNop())
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func stockOf(t *testing.T, repo *Repository, key domain.StockKey) domain.StockInfo {
	stocks, err := repo.GetStock(context.Background(), tenant, []domain.StockKey{key})
	require.NoError(t, err)
	require.Len(t, stocks, 1)
	return stocks[0]
}

func newOrder(cartID string) *domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Order{
		ID:            uuid.New().String(),
		TenantID:      tenant,
		UserID:        "user-1",
		CartID:        cartID,
		Status:        domain.OrderPending,
		PaymentMethod: domain.PaymentCard,
		Items: []domain.OrderItem{{
			Key:         shirt,
			ProductName: "Shirt",
			Quantity:    2,
			UnitPrice:   decimal.RequireFromString("20.00"),
			LineTotal:   decimal.RequireFromString("40.00"),
		}},
		Subtotal:  decimal.RequireFromString("40.00"),
		Total:     decimal.RequireFromString("47.00"),
		Shipping:  decimal.RequireFromString("7.00"),
		Currency:  "USD",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStock_HoldCommitRelease(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.CreateStock(ctx, domain.StockInfo{TenantID: tenant, Key: shirt, Stock: 10, ReorderThreshold: 3}))
	assert.ErrorIs(t, repo.CreateStock(ctx, domain.StockInfo{TenantID: tenant, Key: shirt, Stock: 1}), store.ErrStockExists)

	entry, err := repo.Hold(ctx, tenant, shirt, 7, "res-1")
	require.NoError(t, err)
	assert.Equal(t, int32(7), entry.ReservedDelta)
	assert.Equal(t, int32(0), entry.Adjustment)

	_, err = repo.Hold(ctx, tenant, shirt, 5, "res-2")
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int32(3), stockErr.Items[0].Available)

	entry, err = repo.Commit(ctx, tenant, shirt, 7, "res-1")
	require.NoError(t, err)
	assert.Equal(t, int32(-7), entry.Adjustment)
	assert.Equal(t, int32(3), entry.NewStock)

	_, err = repo.Commit(ctx, tenant, shirt, 1, "res-1")
	assert.ErrorIs(t, err, store.ErrNotHeld)

	info := stockOf(t, repo, shirt)
	assert.Equal(t, int32(3), info.Stock)
	assert.Equal(t, int32(0), info.Reserved)
	assert.Equal(t, int32(3), info.ReorderThreshold)

	_, err = repo.Hold(ctx, tenant, domain.StockKey{ProductID: 404}, 1, "")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestStock_ConcurrentHolds_NoOversell(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, repo.CreateStock(ctx, domain.StockInfo{TenantID: tenant, Key: shirt, Stock: 20}))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Hold(ctx, tenant, shirt, 1, ""); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), succeeded.Load())
	assert.Equal(t, int32(20), stockOf(t, repo, shirt).Reserved)
}

func TestStock_AdjustAndAudit(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, repo.CreateStock(ctx, domain.StockInfo{TenantID: tenant, Key: shirt, Stock: 5}))

	entry, err := repo.Adjust(ctx, tenant, shirt, -9, domain.ReasonDamage, "")
	require.NoError(t, err)
	assert.Equal(t, int32(-5), entry.Adjustment)

	_, err = repo.Adjust(ctx, tenant, shirt, 12, domain.ReasonRestock, "po-1")
	require.NoError(t, err)
	_, err = repo.Hold(ctx, tenant, shirt, 4, "r")
	require.NoError(t, err)
	_, err = repo.Release(ctx, tenant, shirt, 10, "r")
	require.NoError(t, err)

	entries, err := repo.ListLog(ctx, tenant, shirt, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, domain.ReasonDamage, entries[0].Reason)
	assert.Equal(t, int32(-4), entries[3].ReservedDelta, "release is floored at zero")

	sum := int32(5)
	for _, e := range entries {
		sum += e.Adjustment
	}
	assert.Equal(t, stockOf(t, repo, shirt).Stock, sum)
}

func TestWithinTx_RollsBackAndSkipsHooks(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, repo.CreateStock(ctx, domain.StockInfo{TenantID: tenant, Key: shirt, Stock: 5}))

	fired := false
	err := repo.WithinTx(ctx, func(ctx context.Context) error {
		store.AfterCommit(ctx, func() { fired = true })
		if _, err := repo.Hold(ctx, tenant, shirt, 2, "r"); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.False(t, fired)
	assert.Equal(t, int32(0), stockOf(t, repo, shirt).Reserved)

	entries, err := repo.ListLog(ctx, tenant, shirt, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReservations_Transitions(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	orderID := uuid.New().String()
	now := time.Now().UTC()
	res := &domain.Reservation{
		ID:        uuid.New().String(),
		TenantID:  tenant,
		OrderID:   orderID,
		Status:    domain.ReservationReserved,
		Items:     []domain.ReservationItem{{Key: shirt, Quantity: 2}},
		CreatedAt: now,
		ExpiresAt: now.Add(-time.Minute),
	}
	require.NoError(t, repo.CreateReservation(ctx, res))

	dup := *res
	dup.ID = uuid.New().String()
	assert.ErrorIs(t, repo.CreateReservation(ctx, &dup), domain.ErrActiveReservation)

	expired, err := repo.ListExpiredReservations(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, res.Items, expired[0].Items)

	require.NoError(t, repo.TransitionReservation(ctx, tenant, res.ID, domain.ReservationReserved, domain.ReservationConfirmed, now))
	err = repo.TransitionReservation(ctx, tenant, res.ID, domain.ReservationReserved, domain.ReservationCancelled, now)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	got, err := repo.GetReservation(ctx, tenant, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, got.Status)
	assert.NotNil(t, got.ConfirmedAt)
	assert.Nil(t, got.CancelledAt)

	_, err = repo.GetReservation(ctx, "tenant-b", res.ID)
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)

	active, err := repo.GetActiveReservation(ctx, tenant, orderID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, active.ID)
}

func TestOrders_NumberingAndInFlightUniqueness(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := newOrder("cart-1")
	require.NoError(t, repo.CreateOrder(ctx, first))
	assert.Regexp(t, `^ORD-\d{8}-000001$`, first.OrderNumber)

	assert.ErrorIs(t, repo.CreateOrder(ctx, newOrder("cart-1")), domain.ErrDuplicateInFlight)

	second := newOrder("cart-2")
	require.NoError(t, repo.CreateOrder(ctx, second))
	assert.Regexp(t, `-000002$`, second.OrderNumber, "a failed insert must not burn a number")

	got, err := repo.GetOrder(ctx, tenant, first.ID)
	require.NoError(t, err)
	assert.True(t, first.Total.Equal(got.Total))
	assert.Equal(t, first.Items[0].Key, got.Items[0].Key)

	found, err := repo.FindInFlightOrder(ctx, tenant, "user-1", "cart-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestOrders_UpdateIsCheckAndSet(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newOrder("cart-1")
	require.NoError(t, repo.CreateOrder(ctx, order))

	order.Status = domain.OrderReserved
	order.PaymentID = "pi_123"
	order.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.UpdateOrder(ctx, order, domain.OrderPending))

	err := repo.UpdateOrder(ctx, order, domain.OrderPending)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	byPayment, err := repo.GetOrderByPaymentID(ctx, tenant, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byPayment.ID)

	stale, err := repo.ListStaleOrders(ctx, []domain.OrderStatus{domain.OrderReserved}, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	list, err := repo.ListOrders(ctx, tenant, "user-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.DeleteOrder(ctx, tenant, order.ID))
	assert.ErrorIs(t, repo.DeleteOrder(ctx, tenant, order.ID), domain.ErrOrderNotFound)

	paid := newOrder("cart-2")
	require.NoError(t, repo.CreateOrder(ctx, paid))
	paid.Status = domain.OrderPaid
	paid.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.UpdateOrder(ctx, paid, domain.OrderPending))
	assert.ErrorIs(t, repo.DeleteOrder(ctx, tenant, paid.ID), domain.ErrIllegalTransition)
}

func TestOutbox(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	event := domain.OutboxEvent{
		ID:          uuid.New().String(),
		AggregateID: "order-1",
		TenantID:    tenant,
		EventType:   domain.EventOrderPaid,
		Payload:     []byte(`{"order_id":"order-1"}`),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, repo.AddOutboxEvent(ctx, event))

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(events[0].Payload))

	require.NoError(t, repo.MarkEventProcessed(ctx, event.ID))
	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	assert.ErrorIs(t, repo.MarkEventProcessed(ctx, uuid.New().String()), store.ErrEventNotFound)
}

func TestProducts(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.UpsertProduct(ctx, domain.Product{ID: 1, TenantID: tenant, Name: "Shirt", Price: decimal.RequireFromString("19.99"), Currency: "USD", Published: true}))

	p, err := repo.GetProduct(ctx, tenant, 1)
	require.NoError(t, err)
	assert.Equal(t, "Shirt", p.Name)
	assert.True(t, decimal.RequireFromString("19.99").Equal(p.Price))

	_, err = repo.GetProduct(ctx, "tenant-b", 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}
