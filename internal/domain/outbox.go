package domain

import "time"

const (
	EventOrderPaid      = "order.paid"
	EventOrderFailed    = "order.failed"
	EventOrderCancelled = "order.cancelled"
)

// OutboxEvent is written in the same transaction as the state change it describes
type OutboxEvent struct {
	ID          string
	AggregateID string
	TenantID    string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}
