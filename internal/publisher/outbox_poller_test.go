package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
)

// MockOutbox implements store.OutboxStore for testing
type MockOutbox struct {
	mu        sync.Mutex
	Events    []domain.OutboxEvent
	GetErr    error
	MarkErr   error
	Processed []string
}

func (m *MockOutbox) AddOutboxEvent(_ context.Context, event domain.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockOutbox) GetUnprocessedEvents(context.Context, int) ([]domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var pending []domain.OutboxEvent
	for _, ev := range m.Events {
		if !m.isProcessed(ev.ID) {
			pending = append(pending, ev)
		}
	}
	return pending, nil
}

func (m *MockOutbox) isProcessed(id string) bool {
	for _, p := range m.Processed {
		if p == id {
			return true
		}
	}
	return false
}

func (m *MockOutbox) MarkEventProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.Processed = append(m.Processed, id)
	return nil
}

// MockWriter records written messages, failing for the configured keys
type MockWriter struct {
	mu       sync.Mutex
	Messages []kafkaGo.Message
	FailKeys map[string]bool
}

func (w *MockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		if w.FailKeys[string(m.Key)] {
			return errors.New("broker unavailable")
		}
	}
	w.Messages = append(w.Messages, msgs...)
	return nil
}

func (w *MockWriter) Close() error { return nil }

func paidEvent(id, orderID string) domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:          id,
		AggregateID: orderID,
		TenantID:    "tenant-a",
		EventType:   domain.EventOrderPaid,
		Payload:     json.RawMessage(fmt.Sprintf(`{"order_id":%q}`, orderID)),
		CreatedAt:   time.Now(),
	}
}

func TestProcessUnpublishedEvents_PublishesAndMarks(t *testing.T) {
	outbox := &MockOutbox{Events: []domain.OutboxEvent{paidEvent("e1", "order-1"), paidEvent("e2", "order-2")}}
	writer := &MockWriter{}
	poller := NewOutboxPoller(outbox, writer, time.Second, zap.NewNop())

	published := poller.processUnpublishedEvents(context.Background())

	assert.Equal(t, 2, published)
	assert.Equal(t, []string{"e1", "e2"}, outbox.Processed)
	require.Len(t, writer.Messages, 2)
	msg := writer.Messages[0]
	assert.Equal(t, "order-1", string(msg.Key))
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, domain.EventOrderPaid, headers["event_type"])
	assert.Equal(t, "e1", headers["event_id"])
	assert.Equal(t, "tenant-a", headers["tenant_id"])

	assert.Equal(t, 0, poller.processUnpublishedEvents(context.Background()), "processed events are not sent again")
}

func TestProcessUnpublishedEvents_FailedPublishIsRetried(t *testing.T) {
	outbox := &MockOutbox{Events: []domain.OutboxEvent{paidEvent("e1", "order-1"), paidEvent("e2", "order-2")}}
	writer := &MockWriter{FailKeys: map[string]bool{"order-1": true}}
	poller := NewOutboxPoller(outbox, writer, time.Second, zap.NewNop())

	assert.Equal(t, 1, poller.processUnpublishedEvents(context.Background()))
	assert.Equal(t, []string{"e2"}, outbox.Processed)

	writer.FailKeys = nil
	assert.Equal(t, 1, poller.processUnpublishedEvents(context.Background()))
	assert.ElementsMatch(t, []string{"e1", "e2"}, outbox.Processed)
}

func TestProcessUnpublishedEvents_StoreErrors(t *testing.T) {
	outbox := &MockOutbox{GetErr: errors.New("database connection error")}
	writer := &MockWriter{}
	poller := NewOutboxPoller(outbox, writer, time.Second, zap.NewNop())

	assert.Equal(t, 0, poller.processUnpublishedEvents(context.Background()))
	assert.Empty(t, writer.Messages)

	outbox = &MockOutbox{Events: []domain.OutboxEvent{paidEvent("e1", "order-1")}, MarkErr: errors.New("mark failed")}
	poller = NewOutboxPoller(outbox, writer, time.Second, zap.NewNop())
	assert.Equal(t, 0, poller.processUnpublishedEvents(context.Background()))
	assert.Len(t, writer.Messages, 1, "event is published even if marking fails")
}

func setupKafka(t *testing.T) (string, func()) {
	if testing.Short() {
		t.Skip("skipping kafka container test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestOutboxPoller_PublishesEventsToKafka(t *testing.T) {
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, "order-events")
	time.Sleep(5 * time.Second)

	outbox := &MockOutbox{Events: []domain.OutboxEvent{paidEvent("e1", "order-123")}}
	writer := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(brokerAddr),
		Topic:        "order-events",
		Balancer:     &kafkaGo.Hash{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	defer writer.Close()

	poller := NewOutboxPoller(outbox, writer, time.Second, zap.NewNop())
	poller.timeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	go poller.Run(ctx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    "order-events",
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "order-123", string(msg.Key))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "order-123", payload["order_id"])

	assert.Eventually(t, func() bool {
		outbox.mu.Lock()
		defer outbox.mu.Unlock()
		return len(outbox.Processed) == 1
	}, 5*time.Second, 100*time.Millisecond)
}
