package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer used by the sinks
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications as JSON, keyed by tenant
type KafkaSink struct {
	writer MessageWriter
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaSink(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.TenantID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "notification_type", Value: []byte(n.Type)},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// LogSink writes notifications to the structured log
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, n Notification) error {
	fields := []zap.Field{
		zap.String("type", string(n.Type)),
		zap.String("tenant_id", n.TenantID),
		zap.String("title", n.Title),
		zap.Any("metadata", n.Metadata),
	}
	if n.Type == TypeLowStock {
		s.log.Info(n.Message, fields...)
		return nil
	}
	s.log.Error(n.Message, fields...)
	return nil
}
