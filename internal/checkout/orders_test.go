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

func TestRetryPayment_AfterDecline(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.setCart(domain.CartItem{ProductID: 1, Quantity: 2})
	env.payments.IntentErr = &domain.PaymentError{Reason: payment.RefusalInsufficientFunds}

	_, err := env.svc.Checkout(context.Background(), request(domain.PaymentCard))
	var payErr *domain.PaymentError
	require.ErrorAs(t, err, &payErr)

	res, err := env.svc.RetryPayment(context.Background(), RetryRequest{
		TenantID:      tenantA,
		UserID:        userA,
		OrderID:       payErr.OrderID,
		PaymentMethod: domain.PaymentBankTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, payErr.OrderID, res.OrderID)
	assert.Equal(t, domain.OrderPaid, res.Status)
	assert.Equal(t, int32(8), env.stock(t, keyShirt).Stock)

	order, err := env.svc.GetOrder(context.Background(), tenantA, userA, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentBankTransfer, order.PaymentMethod)
	assert.Equal(t, []string{domain.EventOrderFailed, domain.EventOrderPaid}, env.outboxTypes(t))
}

func TestRetryPayment_DeclinedAgain_StaysFailed(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.setCart(domain.CartItem{ProductID: 1, Quantity: 2})
	env.payments.IntentErr = &domain.PaymentError{Reason: payment.RefusalCardDeclined}

	_, err := env.svc.Checkout(context.Background(), request(domain.PaymentCard))
	var payErr *domain.PaymentError
	require.ErrorAs(t, err, &payErr)
	orderID := payErr.OrderID

	_, err = env.svc.RetryPayment(context.Background(), RetryRequest{TenantID: tenantA, UserID: userA, OrderID: orderID})
	require.ErrorAs(t, err, &payErr)

	order, err := env.svc.GetOrder(context.Background(), tenantA, userA, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, order.Status)
	assert.Equal(t, int32(0), env.stock(t, keyShirt).Reserved)
}

func TestRetryPayment_OnlyFailedOrders(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	order := cardOrder(t, env)

	_, err := env.svc.RetryPayment(context.Background(), RetryRequest{TenantID: tenantA, UserID: userA, OrderID: order.ID})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestCancelCheckout(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	order := cardOrder(t, env)
	require.Equal(t, int32(2), env.stock(t, keyShirt).Reserved)

	cancelled, err := env.svc.CancelCheckout(context.Background(), tenantA, userA, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, cancelled.Status)
	assert.Equal(t, int32(0), env.stock(t, keyShirt).Reserved)

	again, err := env.svc.CancelCheckout(context.Background(), tenantA, userA, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, again.Status)
	assert.Equal(t, []string{domain.EventOrderCancelled}, env.outboxTypes(t))

	// the cart can be checked out again
	res, err := env.svc.Checkout(context.Background(), request(domain.PaymentCard))
	require.NoError(t, err)
	assert.NotEqual(t, order.ID, res.OrderID)
}

func TestCancelCheckout_PaidOrder(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.setCart(domain.CartItem{ProductID: 1, Quantity: 1})
	res, err := env.svc.Checkout(context.Background(), request(domain.PaymentCashOnDelivery))
	require.NoError(t, err)

	_, err = env.svc.CancelCheckout(context.Background(), tenantA, userA, res.OrderID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestGetOrder_Ownership(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	order := cardOrder(t, env)

	_, err := env.svc.GetOrder(context.Background(), tenantA, "someone-else", order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = env.svc.GetOrder(context.Background(), "tenant-b", userA, order.ID)
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)

	_, err = env.svc.GetOrder(context.Background(), "", userA, order.ID)
	assert.ErrorIs(t, err, domain.ErrMissingTenant)
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	order := cardOrder(t, env)

	orders, err := env.svc.ListOrders(context.Background(), tenantA, userA, 500, -1)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)

	orders, err = env.svc.ListOrders(context.Background(), tenantA, "user-2", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
