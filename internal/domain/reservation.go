package domain

import "time"

// ReservationStatus represents the state of a stock reservation
type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationConfirmed || s == ReservationCancelled
}

// ReservationItem is the quantity held for a single stock row
type ReservationItem struct {
	Key      StockKey `json:"key"`
	Quantity int32    `json:"quantity"`
}

// Reservation groups the holds placed for one order
type Reservation struct {
	ID          string
	TenantID    string
	OrderID     string
	Status      ReservationStatus
	Items       []ReservationItem
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConfirmedAt *time.Time
	CancelledAt *time.Time
}

// IsExpired checks if the hold TTL has passed at the given moment
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
