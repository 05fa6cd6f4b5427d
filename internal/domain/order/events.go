package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/payment"
)

// EventKind names a domain event.
type EventKind string

const (
	EventPlaced        EventKind = "order.placed"
	EventPaid          EventKind = "order.paid"
	EventStatusChanged EventKind = "order.status_changed"
	EventCompleted     EventKind = "order.completed"
	EventCancelled     EventKind = "order.cancelled"
	EventRefunded      EventKind = "order.refunded"
	EventDeleted       EventKind = "order.deleted"
)

// Event is published for downstream consumers.
type Event struct {
	Kind              EventKind
	OrderID           string
	CustomOrderNumber string
	CustomerID        string
	StoreID           string
	Status            Status
	PaymentStatus     payment.Status
	Total             decimal.Decimal
	// Amount is the refunded amount for EventRefunded.
	Amount       decimal.Decimal
	CurrencyCode string
	OccurredAt   time.Time
}

// EventPublisher delivers events. Failures never roll back order state.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// Notifier queues a templated customer or store-owner message.
type Notifier interface {
	NotifyOrder(ctx context.Context, kind EventKind, o *Order) error
}

// notified lists the events that produce a message.
var notified = map[EventKind]bool{
	EventPlaced:    true,
	EventPaid:      true,
	EventCompleted: true,
	EventCancelled: true,
	EventRefunded:  true,
}
