package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrTenantMismatch      = errors.New("entity belongs to another tenant")
	ErrMissingTenant       = errors.New("tenant id is required")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidStatus       = errors.New("invalid reservation status for this operation")
	ErrActiveReservation   = errors.New("order already has an active reservation")
	ErrOrderNotFound       = errors.New("order not found")
	ErrCartNotFound        = errors.New("cart not found")
	ErrIllegalTransition   = errors.New("illegal transition of order status")
	ErrDuplicateInFlight   = errors.New("an in-flight order already exists for this cart")
	ErrCheckoutInProgress  = errors.New("checkout for this cart is already in progress")
	ErrInvalidAdjustment   = errors.New("invalid stock adjustment")
)

// CartIssue describes why one cart line cannot be checked out
type CartIssue struct {
	Key       StockKey `json:"key"`
	Requested int32    `json:"requested"`
	Available int32    `json:"available"`
	Reason    string   `json:"reason"`
}

const (
	IssueEmptyCart       = "empty_cart"
	IssueNotFound        = "not_found"
	IssueUnpublished     = "unpublished"
	IssueInvalidQuantity = "invalid_quantity"
	IssueOutOfStock      = "insufficient_stock"
)

// CartValidationError is returned before any side effect took place
type CartValidationError struct {
	Issues []CartIssue
}

func (e *CartValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Key, issue.Reason))
	}
	return "cart validation failed: " + strings.Join(parts, ", ")
}

// StockShortage is one item that could not be held
type StockShortage struct {
	Key       StockKey `json:"key"`
	Requested int32    `json:"requested"`
	Available int32    `json:"available"`
}

type InsufficientStockError struct {
	Items []StockShortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", item.Key, item.Requested, item.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// PaymentError covers declines, timeouts and provider outages.
// Temporary is set when retrying the same payment may succeed.
type PaymentError struct {
	OrderID   string // set once the failed order is known, so the caller can retry it
	Reason    string
	Temporary bool
	Err       error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment failed: %s: %v", e.Reason, e.Err)
	}
	return "payment failed: " + e.Reason
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// RollbackFailureError means a compensation step failed and the order needs manual reconciliation
type RollbackFailureError struct {
	OrderID       string
	ReservationID string
	Step          string
	Cause         error // the failure that triggered the compensation
	Err           error
}

func (e *RollbackFailureError) Error() string {
	return fmt.Sprintf("rollback failure at %s (order=%s reservation=%s): %v",
		e.Step, e.OrderID, e.ReservationID, e.Err)
}

func (e *RollbackFailureError) Unwrap() error {
	return e.Err
}
