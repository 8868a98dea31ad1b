package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher queues status changes for the SMS dispatcher. Messages are
// keyed by order id so a consumer sees one order's changes in order.
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		WriteTimeout: time.Second,
	}
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

var _ app.Notifier = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) OrderStatusChanged(ctx context.Context, change app.StatusChange) error {
	payload, err := json.Marshal(newStatusMessage(change))
	if err != nil {
		return fmt.Errorf("marshal status message: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(change.OrderID),
		Value: payload,
		Time:  change.ChangedAt,
	})
	if err != nil {
		return fmt.Errorf("publish status to kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
