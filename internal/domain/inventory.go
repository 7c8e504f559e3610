package domain

import (
	"fmt"
	"math"
	"time"
)

// MaxStock is the largest count a stock row can hold
const MaxStock = math.MaxInt32

// StockKey identifies a stock row. VariantID 0 means the product itself.
type StockKey struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id,omitempty"`
}

func (k StockKey) String() string {
	if k.VariantID == 0 {
		return fmt.Sprintf("%d", k.ProductID)
	}
	return fmt.Sprintf("%d/%d", k.ProductID, k.VariantID)
}

// Less orders keys by product, then variant. Holds are always taken in this order.
func (k StockKey) Less(other StockKey) bool {
	if k.ProductID != other.ProductID {
		return k.ProductID < other.ProductID
	}
	return k.VariantID < other.VariantID
}

// StockInfo contains stock counters for a product or variant
type StockInfo struct {
	TenantID         string
	Key              StockKey
	Stock            int32 // Sellable units currently owned
	Reserved         int32 // Held by unconfirmed reservations
	ReorderThreshold int32 // 0 falls back to the configured default
	UpdatedAt        time.Time
}

// Available returns the available stock (stock - reserved)
func (s StockInfo) Available() int32 {
	return s.Stock - s.Reserved
}

// AdjustedStock returns the stock after applying delta, clamped at zero.
// A result above MaxStock is rejected instead of wrapping around.
func (s StockInfo) AdjustedStock(delta int32) (int32, error) {
	next := int64(s.Stock) + int64(delta)
	if next > MaxStock {
		return 0, fmt.Errorf("%w: stock %d%+d exceeds %d", ErrInvalidAdjustment, s.Stock, delta, MaxStock)
	}
	if next < 0 {
		next = 0
	}
	return int32(next), nil
}

type InventoryReason string

const (
	ReasonPurchase           InventoryReason = "PURCHASE"
	ReasonReturn             InventoryReason = "RETURN"
	ReasonRestock            InventoryReason = "RESTOCK"
	ReasonDamage             InventoryReason = "DAMAGE"
	ReasonRecount            InventoryReason = "RECOUNT"
	ReasonReservationHold    InventoryReason = "RESERVATION_HOLD"
	ReasonReservationRelease InventoryReason = "RESERVATION_RELEASE"
)

// IsManual reports whether the reason may be used for a direct stock adjustment.
func (r InventoryReason) IsManual() bool {
	switch r {
	case ReasonReturn, ReasonRestock, ReasonDamage, ReasonRecount:
		return true
	}
	return false
}

func (r InventoryReason) String() string {
	return string(r)
}

// InventoryLogEntry is one immutable record of a ledger mutation.
// Adjustment is the signed change of Stock, ReservedDelta the signed change of Reserved.
type InventoryLogEntry struct {
	ID            string
	TenantID      string
	Key           StockKey
	Adjustment    int32
	ReservedDelta int32
	Reason        InventoryReason
	PreviousStock int32
	NewStock      int32
	Reference     string
	CreatedAt     time.Time
}

// StockChange is published to observers after a ledger mutation
type StockChange struct {
	TenantID      string
	Key           StockKey
	Reason        InventoryReason
	PreviousStock int32
	NewStock      int32
	Reserved      int32
	Threshold     int32
}
