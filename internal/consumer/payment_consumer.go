// Package consumer applies payment provider events relayed through Kafka.
package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	groupID     = "storefront-payments"
	maxAttempts = 3
)

// Reader is the subset of *kafka.Reader the consumer needs
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventHandler is implemented by the checkout service
type EventHandler interface {
	HandlePaymentEvent(ctx context.Context, ev payment.Event) error
}

type Consumer struct {
	handler    EventHandler
	reader     Reader
	retryDelay time.Duration
	log        *zap.Logger
}

func NewReader(topic string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewConsumer(handler EventHandler, reader Reader, log *zap.Logger) *Consumer {
	return &Consumer{
		handler:    handler,
		reader:     reader,
		retryDelay: 500 * time.Millisecond,
		log:        log,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// processMessage handles one message and commits it unless ctx was cancelled mid-way
func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("error reading message", zap.Error(err))
		c.sleep(ctx)
		return
	}
	log := c.log.With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))

	ev, err := payment.DecodeEvent(m.Value)
	if err != nil {
		if errors.Is(err, payment.ErrUnknownEvent) {
			log.Debug("skipping payment event", zap.Error(err))
		} else {
			log.Error("malformed payment event, skipping", zap.Error(err))
		}
		c.commit(ctx, log, m)
		return
	}
	log = log.With(zap.String("event_id", ev.ID), zap.String("payment_id", ev.PaymentID))

	for attempt := 1; ; attempt++ {
		err = c.handler.HandlePaymentEvent(ctx, *ev)
		if err == nil || permanent(err) {
			break
		}
		if ctx.Err() != nil {
			return
		}
		if attempt == maxAttempts {
			log.Error("giving up on payment event", zap.Int("attempts", attempt), zap.Error(err))
			break
		}
		log.Warn("failed to apply payment event, retrying", zap.Int("attempt", attempt), zap.Error(err))
		c.sleep(ctx)
	}
	if err != nil && permanent(err) {
		log.Warn("payment event cannot be applied", zap.Error(err))
	}
	c.commit(ctx, log, m)
}

func (c *Consumer) commit(ctx context.Context, log *zap.Logger, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		log.Warn("failed to commit message", zap.Error(err))
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	select {
	case <-time.After(c.retryDelay):
	case <-ctx.Done():
	}
}

// permanent reports errors that a redelivery cannot fix
func permanent(err error) bool {
	return errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, domain.ErrMissingTenant) ||
		errors.Is(err, domain.ErrTenantMismatch) ||
		errors.Is(err, payment.ErrUnknownEvent)
}
