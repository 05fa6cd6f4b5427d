package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/currency"
	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/rewardpoints"
)

// StockAdjuster applies inventory deltas.
type StockAdjuster interface {
	Adjust(ctx context.Context, adj inventory.Adjustment) error
}

// Gateways resolves payment methods.
type Gateways interface {
	Get(method string) (payment.Gateway, error)
}

// Settings configures order placement policy.
type Settings struct {
	// MinimumSubtotal is compared with the excl-tax subtotal before discounts.
	MinimumSubtotal             decimal.Decimal
	MinimumTotal                decimal.Decimal
	AnonymousCheckoutAllowed    bool
	ActivateGiftCardsOnComplete bool
	DeactivateGiftCardsOnCancel bool
}

// Deps holds the collaborators of Service.
type Deps struct {
	Orders          Repository
	Notes           NoteRepository
	GiftCards       GiftCardRepository
	Reconciliations ReconciliationRepository
	UnitOfWork      UnitOfWork

	Customers     customer.Repository
	Countries     customer.CountryRepository
	Carts         cart.Repository
	Products      catalog.Repository
	DiscountUsage discount.UsageRepository

	Pricing      *pricing.Aggregator
	RewardPoints *rewardpoints.Ledger
	Inventory    StockAdjuster
	Gateways     Gateways
	Currency     *currency.Converter
	Numbers      *NumberGenerator

	Events   EventPublisher
	Notifier Notifier

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider

	Settings Settings
}

// Service is the order engine.
type Service struct {
	Deps

	notes   *bluemonday.Policy
	tracer  trace.Tracer
	metrics metrics
	now     func() time.Time
	newID   func() string
}

type metrics struct {
	placed        metric.Int64Counter
	failed        metric.Int64Counter
	paymentFailed metric.Int64Counter
	total         metric.Float64Histogram
}

// NewService validates deps and creates a Service.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Orders == nil, d.Notes == nil, d.GiftCards == nil, d.Reconciliations == nil, d.UnitOfWork == nil:
		return nil, errors.New("order: storage dependencies are required")
	case d.Customers == nil, d.Countries == nil, d.Carts == nil, d.Products == nil, d.DiscountUsage == nil:
		return nil, errors.New("order: catalog and customer dependencies are required")
	case d.Pricing == nil, d.RewardPoints == nil, d.Inventory == nil, d.Gateways == nil, d.Currency == nil:
		return nil, errors.New("order: engine dependencies are required")
	case d.Events == nil, d.Notifier == nil:
		return nil, errors.New("order: events and notifier are required")
	}
	if d.MeterProvider == nil {
		d.MeterProvider = metricnoop.NewMeterProvider()
	}
	if d.TracerProvider == nil {
		d.TracerProvider = tracenoop.NewTracerProvider()
	}

	meter := d.MeterProvider.Meter("github.com/xenking/kart-orders/internal/domain/order")
	var (
		m   metrics
		err error
	)
	if m.placed, err = meter.Int64Counter("orders.placed", metric.WithDescription("Orders placed")); err != nil {
		return nil, errors.Wrap(err, "orders.placed")
	}
	if m.failed, err = meter.Int64Counter("orders.placement_failed", metric.WithDescription("Failed placements by stage")); err != nil {
		return nil, errors.Wrap(err, "orders.placement_failed")
	}
	if m.paymentFailed, err = meter.Int64Counter("orders.payment_failed", metric.WithDescription("Gateway failures by operation")); err != nil {
		return nil, errors.Wrap(err, "orders.payment_failed")
	}
	if m.total, err = meter.Float64Histogram("orders.total", metric.WithDescription("Placed order totals")); err != nil {
		return nil, errors.Wrap(err, "orders.total")
	}

	return &Service{
		Deps:    d,
		notes:   bluemonday.StrictPolicy(),
		tracer:  d.TracerProvider.Tracer("github.com/xenking/kart-orders/internal/domain/order"),
		metrics: m,
		now:     time.Now,
		newID:   func() string { return ulid.Make().String() },
	}, nil
}

// GetOrder loads a non-deleted order.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.Orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	if o.Deleted {
		return nil, errors.Wrapf(ErrOrderNotFound, "order %s", id)
	}
	return o, nil
}

// ListNotes returns the notes of an order.
func (s *Service) ListNotes(ctx context.Context, orderID string) ([]Note, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	notes, err := s.Notes.ListNotes(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list notes")
	}
	return notes, nil
}

// AddNote appends an operator note with markup stripped.
func (s *Service) AddNote(ctx context.Context, orderID, text string, displayToCustomer bool) (*Note, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	n := &Note{
		ID:                s.newID(),
		OrderID:           orderID,
		Text:              s.notes.Sanitize(text),
		DisplayToCustomer: displayToCustomer,
		CreatedAt:         s.now().UTC(),
	}
	if n.Text == "" {
		return nil, errors.New("note text is empty")
	}
	if err := s.Notes.AddNote(ctx, n); err != nil {
		return nil, errors.Wrap(err, "add note")
	}
	return n, nil
}

// note records a system note. Failures are logged only.
func (s *Service) note(ctx context.Context, o *Order, format string, args ...any) {
	n := &Note{
		ID:        s.newID(),
		OrderID:   o.ID,
		Text:      s.notes.Sanitize(fmt.Sprintf(format, args...)),
		CreatedAt: s.now().UTC(),
	}
	if err := s.Notes.AddNote(ctx, n); err != nil {
		zctx.From(ctx).Warn("Failed to add order note", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// emit publishes kind and queues its notification. Failures are logged only.
func (s *Service) emit(ctx context.Context, kind EventKind, o *Order, amount decimal.Decimal) {
	lg := zctx.From(ctx)
	e := Event{
		Kind:              kind,
		OrderID:           o.ID,
		CustomOrderNumber: o.CustomOrderNumber,
		CustomerID:        o.CustomerID,
		StoreID:           o.StoreID,
		Status:            o.Status,
		PaymentStatus:     o.PaymentStatus,
		Total:             o.Total,
		Amount:            amount,
		CurrencyCode:      s.Currency.Primary(),
		OccurredAt:        s.now().UTC(),
	}
	if err := s.Events.Publish(ctx, e); err != nil {
		lg.Warn("Failed to publish order event",
			zap.String("order_id", o.ID),
			zap.String("event", string(kind)),
			zap.Error(err),
		)
	}
	if !notified[kind] {
		return
	}
	if err := s.Notifier.NotifyOrder(ctx, kind, o); err != nil {
		lg.Warn("Failed to queue order notification",
			zap.String("order_id", o.ID),
			zap.String("event", string(kind)),
			zap.Error(err),
		)
	}
}

func (s *Service) countFailure(ctx context.Context, stage Stage) {
	s.metrics.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
}

func (s *Service) countGatewayFailure(ctx context.Context, op string) {
	s.metrics.paymentFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}
