// Package checkout coordinates the checkout saga: validate cart, create order,
// reserve stock, take payment, then confirm or compensate.
package checkout

import (
	"context"
	"time"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/ledger"
	"github.com/fjod/go_cart/storefront/internal/lock"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/internal/reservation"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Request struct {
	TenantID          string
	UserID            string
	CartID            string
	ShippingAddressID string
	BillingAddressID  string
	PaymentMethod     domain.PaymentMethod
	CouponCode        string
}

type RetryRequest struct {
	TenantID      string
	UserID        string
	OrderID       string
	PaymentMethod domain.PaymentMethod
}

type Result struct {
	OrderID       string
	OrderNumber   string
	ReservationID string
	Status        domain.OrderStatus
	Total         decimal.Decimal
	Currency      string
	// PaymentHandle is the client secret for card payments confirmed by the provider
	PaymentHandle string
	// Existing is set when an in-flight order for the same cart was returned
	Existing bool
}

type Service interface {
	Checkout(ctx context.Context, req Request) (*Result, error)
	RetryPayment(ctx context.Context, req RetryRequest) (*Result, error)
	CancelCheckout(ctx context.Context, tenantID, userID, orderID string) (*domain.Order, error)
	HandlePaymentEvent(ctx context.Context, ev payment.Event) error
	GetOrder(ctx context.Context, tenantID, userID, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, tenantID, userID string, limit, offset int) ([]*domain.Order, error)
}

// Alerter receives the events operators must look at
type Alerter interface {
	RollbackFailed(ctx context.Context, tenantID string, err *domain.RollbackFailureError)
	PaymentMismatch(ctx context.Context, tenantID, orderID, paymentID, message string)
}

type Config struct {
	PaymentTimeout time.Duration
	LockTTL        time.Duration
	// LockWait bounds how long a duplicate request waits for the first one
	LockWait time.Duration
	// CompensationTimeout bounds rollback work after the caller went away
	CompensationTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PaymentTimeout:      10 * time.Second,
		LockTTL:             30 * time.Second,
		LockWait:            5 * time.Second,
		CompensationTimeout: 15 * time.Second,
	}
}

type Deps struct {
	Carts        catalog.CartReader
	Products     catalog.ProductReader
	Ledger       *ledger.Ledger
	Reservations *reservation.Manager
	Orders       store.OrderStore
	Outbox       store.OutboxStore
	Tx           store.Transactor
	Payments     payment.Client
	Locker       lock.Locker
	Alerts       Alerter
	Log          *zap.Logger
}

type CheckoutServiceImpl struct {
	carts        catalog.CartReader
	products     catalog.ProductReader
	ledger       *ledger.Ledger
	reservations *reservation.Manager
	orders       store.OrderStore
	outbox       store.OutboxStore
	tx           store.Transactor
	payments     payment.Client
	locker       lock.Locker
	alerts       Alerter
	cfg          Config
	log          *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

func NewCheckoutService(d Deps, cfg Config) *CheckoutServiceImpl {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutServiceImpl{
		carts:        d.Carts,
		products:     d.Products,
		ledger:       d.Ledger,
		reservations: d.Reservations,
		orders:       d.Orders,
		outbox:       d.Outbox,
		tx:           d.Tx,
		payments:     d.Payments,
		locker:       d.Locker,
		alerts:       d.Alerts,
		cfg:          cfg,
		log:          log,
		tracer:       otel.Tracer("github.com/fjod/go_cart/storefront/internal/checkout"),
		now:          time.Now,
	}
}

func resultFromOrder(o *domain.Order) *Result {
	return &Result{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		ReservationID: o.ReservationID,
		Status:        o.Status,
		Total:         o.Total,
		Currency:      o.Currency,
		PaymentHandle: o.PaymentSecret,
	}
}
