// Package kafka publishes order domain events to a Kafka topic.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/kart-orders/internal/domain/order"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.EventPublisher = (*Publisher)(nil)

// Publisher writes one message per event, keyed by order id so all events of
// an order land on the same partition in order.
type Publisher struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewWriter creates a kafka.Writer for topic.
func NewWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// NewPublisher creates a Publisher. A zero timeout leaves ctx unchanged.
func NewPublisher(w MessageWriter, timeout time.Duration) *Publisher {
	return &Publisher{writer: w, timeout: timeout}
}

// Publish encodes e as JSON and writes it.
func (p *Publisher) Publish(ctx context.Context, e order.Event) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msg := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: Encode(e),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Kind)},
		},
		Time: e.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s event for order %q", e.Kind, e.OrderID)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Encode renders e as a JSON object. Money is written as decimal strings.
func Encode(e order.Event) []byte {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("type")
	enc.Str(string(e.Kind))
	enc.FieldStart("order_id")
	enc.Str(e.OrderID)
	if e.CustomOrderNumber != "" {
		enc.FieldStart("order_number")
		enc.Str(e.CustomOrderNumber)
	}
	enc.FieldStart("customer_id")
	enc.Str(e.CustomerID)
	enc.FieldStart("store_id")
	enc.Str(e.StoreID)
	enc.FieldStart("status")
	enc.Str(string(e.Status))
	enc.FieldStart("payment_status")
	enc.Str(string(e.PaymentStatus))
	enc.FieldStart("total")
	enc.Str(e.Total.StringFixed(2))
	if e.Kind == order.EventRefunded {
		enc.FieldStart("amount")
		enc.Str(e.Amount.StringFixed(2))
	}
	if e.CurrencyCode != "" {
		enc.FieldStart("currency")
		enc.Str(e.CurrencyCode)
	}
	enc.FieldStart("occurred_at")
	enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano))
	enc.ObjEnd()
	return enc.Bytes()
}
