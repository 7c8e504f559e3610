package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.uber.org/zap"
)

type NotificationType string

const (
	TypeLowStock              NotificationType = "LOW_STOCK"
	TypeRollbackFailure       NotificationType = "ROLLBACK_FAILURE"
	TypePaymentReconciliation NotificationType = "PAYMENT_RECONCILIATION"
)

type Notification struct {
	Type      NotificationType  `json:"type"`
	TenantID  string            `json:"tenant_id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Sink delivers notifications to the outside world
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

const sendTimeout = 5 * time.Second

// Notifier queues notifications and delivers them from a background worker.
// Enqueueing never blocks; when the queue is full the notification is dropped and logged.
type Notifier struct {
	sink             Sink
	log              *zap.Logger
	defaultThreshold int32

	mu     sync.RWMutex
	closed bool
	queue  chan Notification
	wg     sync.WaitGroup

	dropped atomic.Int64
}

// NewNotifier creates a notifier and starts its delivery worker
func NewNotifier(sink Sink, queueSize int, defaultThreshold int32, log *zap.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = 1
	}
	n := &Notifier{
		sink:             sink,
		log:              log,
		defaultThreshold: defaultThreshold,
		queue:            make(chan Notification, queueSize),
	}

	n.wg.Add(1)
	go n.deliverLoop()

	return n
}

func (n *Notifier) deliverLoop() {
	defer n.wg.Done()

	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := n.sink.Notify(ctx, msg); err != nil {
			n.log.Warn("notification delivery failed",
				zap.String("type", string(msg.Type)),
				zap.String("tenant_id", msg.TenantID),
				zap.Error(err))
		}
		cancel()
	}
}

func (n *Notifier) enqueue(msg Notification) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.dropped.Add(1)
		return
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	select {
	case n.queue <- msg:
	default:
		n.dropped.Add(1)
		n.log.Warn("notification queue full, dropping",
			zap.String("type", string(msg.Type)),
			zap.String("tenant_id", msg.TenantID))
	}
}

// OnStockChange emits LOW_STOCK when stock crosses below the reorder threshold.
// A row threshold of 0 uses the default.
func (n *Notifier) OnStockChange(_ context.Context, change domain.StockChange) {
	threshold := change.Threshold
	if threshold <= 0 {
		threshold = n.defaultThreshold
	}
	if threshold <= 0 {
		return
	}
	if change.PreviousStock < threshold || change.NewStock >= threshold {
		return
	}

	n.enqueue(Notification{
		Type:     TypeLowStock,
		TenantID: change.TenantID,
		Title:    fmt.Sprintf("Low stock for product %s", change.Key),
		Message: fmt.Sprintf("Stock for product %s dropped to %d (reorder threshold %d)",
			change.Key, change.NewStock, threshold),
		Metadata: map[string]string{
			"product_id":     strconv.FormatInt(change.Key.ProductID, 10),
			"variant_id":     strconv.FormatInt(change.Key.VariantID, 10),
			"previous_stock": strconv.Itoa(int(change.PreviousStock)),
			"new_stock":      strconv.Itoa(int(change.NewStock)),
			"threshold":      strconv.Itoa(int(threshold)),
			"reason":         string(change.Reason),
		},
	})
}

// RollbackFailed alerts operators about a compensation that needs manual reconciliation
func (n *Notifier) RollbackFailed(_ context.Context, tenantID string, rf *domain.RollbackFailureError) {
	n.enqueue(Notification{
		Type:     TypeRollbackFailure,
		TenantID: tenantID,
		Title:    "Checkout rollback failed",
		Message:  rf.Error(),
		Metadata: map[string]string{
			"order_id":       rf.OrderID,
			"reservation_id": rf.ReservationID,
			"step":           rf.Step,
		},
	})
}

// PaymentMismatch alerts operators about a provider event that cannot be applied
func (n *Notifier) PaymentMismatch(_ context.Context, tenantID, orderID, paymentID, message string) {
	n.enqueue(Notification{
		Type:     TypePaymentReconciliation,
		TenantID: tenantID,
		Title:    "Payment needs reconciliation",
		Message:  message,
		Metadata: map[string]string{
			"order_id":   orderID,
			"payment_id": paymentID,
		},
	})
}

// Dropped returns how many notifications were discarded
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Close stops accepting notifications and drains the queue
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
	return nil
}
