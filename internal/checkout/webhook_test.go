package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cardOrder(t *testing.T, env *testEnv) *domain.Order {
	t.Helper()
	env.setCart(domain.CartItem{ProductID: 1, Quantity: 2})
	res, err := env.svc.Checkout(context.Background(), request(domain.PaymentCard))
	require.NoError(t, err)
	order, err := env.svc.GetOrder(context.Background(), tenantA, userA, res.OrderID)
	require.NoError(t, err)
	return order
}

func event(order *domain.Order, typ payment.EventType) payment.Event {
	return payment.Event{
		ID:        "evt_" + string(typ),
		Type:      typ,
		PaymentID: order.PaymentID,
		TenantID:  order.TenantID,
		OrderID:   order.ID,
	}
}

func TestHandlePaymentEvent_Succeeded_IsIdempotent(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	order := cardOrder(t, env)
	ev := event(order, payment.EventPaymentSucceeded)

	require.NoError(t, env.svc.HandlePaymentEvent(context.Background(), ev))
	require.NoError(t, env.svc.HandlePaymentEvent(context.Background(), ev))

	got, err := env.svc.GetOrder(context.Background(), tenantA, userA, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, got.Status)

	shirt := env.stock(t, keyShirt)
	assert.Equal(t, int32(8), shirt.Stock)
	assert.Equal(t, int32(0), shirt.Reserved)
	assert.Equal(t, []string{domain.EventOrderPaid}, env.outboxTypes(t))
}

func TestHandlePaymentEvent_Failed(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	order := cardOrder(t, env)

	ev := event(order, payment.EventPaymentFailed)
	ev.FailureReason = payment.RefusalInsufficientFunds
	require.NoError(t, env.svc.HandlePaymentEvent(context.Background(), ev))

	got, err := env.svc.GetOrder(context.Background(), tenantA, userA, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, got.Status)
	assert.Equal(t, int32(0), env.stock(t, keyShirt).Reserved)

	// a late success for a failed order needs a human
	require.NoError(t, env.svc.HandlePaymentEvent(context.Background(), event(order, payment.EventPaymentSucceeded)))
	assert.Equal(t, []string{order.ID}, env.alerts.Mismatches)
}

func TestHandlePaymentEvent_AfterExpiry_RaisesMismatch(t *testing.T) {
	env := newTestEnv(t, -time.Minute)
	order := cardOrder(t, env)

	stats, err := NewSweeper(env.svc, DefaultSweeperConfig(), env.svc.log).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.Cancelled)

	require.NoError(t, env.svc.HandlePaymentEvent(context.Background(), event(order, payment.EventPaymentSucceeded)))

	got, err := env.svc.GetOrder(context.Background(), tenantA, userA, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, got.Status)
	assert.Equal(t, []string{order.ID}, env.alerts.Mismatches)
	assert.Equal(t, int32(10), env.stock(t, keyShirt).Stock, "expired hold must not be committed")
}

func TestHandlePaymentEvent_UnknownPayment(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	err := env.svc.HandlePaymentEvent(context.Background(), payment.Event{
		Type:      payment.EventPaymentSucceeded,
		PaymentID: "pi_missing",
		TenantID:  tenantA,
	})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	err = env.svc.HandlePaymentEvent(context.Background(), payment.Event{Type: payment.EventPaymentSucceeded, PaymentID: "pi_1"})
	assert.ErrorIs(t, err, domain.ErrMissingTenant)
}

func TestHandlePaymentEvent_OtherTenant(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	order := cardOrder(t, env)

	ev := event(order, payment.EventPaymentSucceeded)
	ev.TenantID = "tenant-b"
	assert.Error(t, env.svc.HandlePaymentEvent(context.Background(), ev))

	got, err := env.svc.GetOrder(context.Background(), tenantA, userA, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderReserved, got.Status)
}
