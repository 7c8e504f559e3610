package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"
)

type RecordingSink struct {
	mu       sync.Mutex
	received []Notification
	err      error
	block    chan struct{}
	got      chan Notification
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{got: make(chan Notification, 100)}
}

func (s *RecordingSink) Notify(_ context.Context, n Notification) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.received = append(s.received, n)
	s.mu.Unlock()
	s.got <- n
	return s.err
}

func (s *RecordingSink) All() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.received...)
}

type MockWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *MockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *MockWriter) Close() error {
	w.closed = true
	return nil
}

var errBrokerDown = errors.New("broker down")
