package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderReserved  OrderStatus = "RESERVED"
	OrderPaid      OrderStatus = "PAID"
	OrderFailed    OrderStatus = "FAILED"
	OrderCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:  {OrderReserved, OrderCancelled, OrderFailed},
	OrderReserved: {OrderPaid, OrderFailed, OrderCancelled},
	// a failed order may be retried with a new reservation
	OrderFailed: {OrderReserved, OrderCancelled},
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderPaid || s == OrderCancelled
}

// IsInFlight reports whether the order still holds or may still hold stock
func (s OrderStatus) IsInFlight() bool {
	return s == OrderPending || s == OrderReserved
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the order state machine allows from -> to
func CanTransitionTo(from, to OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "CARD"
	PaymentCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
	PaymentBankTransfer   PaymentMethod = "BANK_TRANSFER"
)

// RequiresConfirmation reports whether the provider confirms the payment asynchronously
func (m PaymentMethod) RequiresConfirmation() bool {
	return m == PaymentCard
}

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCard, PaymentCashOnDelivery, PaymentBankTransfer:
		return true
	}
	return false
}

// OrderItem is the line item snapshot taken when the order is created
type OrderItem struct {
	Key         StockKey        `json:"key"`
	ProductName string          `json:"product_name"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Order struct {
	ID                string
	OrderNumber       string
	TenantID          string
	UserID            string
	CartID            string
	Status            OrderStatus
	PaymentMethod     PaymentMethod
	PaymentID         string
	PaymentSecret     string
	ReservationID     string
	Items             []OrderItem
	Subtotal          decimal.Decimal
	Tax               decimal.Decimal
	Shipping          decimal.Decimal
	Discount          decimal.Decimal
	Total             decimal.Decimal
	Currency          string
	CouponCode        string
	ShippingAddressID string
	BillingAddressID  string
	CustomerEmail     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ReservationItems converts the order lines into the quantities to hold
func (o *Order) ReservationItems() []ReservationItem {
	items := make([]ReservationItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, ReservationItem{Key: item.Key, Quantity: item.Quantity})
	}
	return items
}
