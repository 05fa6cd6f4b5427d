// Package order places orders, drives their status and payment state, and
// runs the side effects tied to each transition.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

// Status is the fulfillment axis of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusCancelled  Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusComplete, StatusCancelled},
	StatusProcessing: {StatusComplete, StatusCancelled},
	StatusComplete:   {StatusCancelled},
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s accepts no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled
}

func (s Status) String() string { return string(s) }

// Order is a placed order. Money fields are in the primary store currency.
type Order struct {
	ID                string
	CustomOrderNumber string
	StoreID           string
	CustomerID        string

	// Currency snapshot taken at placement.
	CustomerCurrencyCode string
	CurrencyRate         decimal.Decimal
	CustomerLanguageCode string

	BillingAddress  *customer.Address
	ShippingAddress *customer.Address
	ShippingMethod  string

	Status        Status
	PaymentStatus payment.Status
	PaymentMethod string

	AuthorizationTransactionID string
	CaptureTransactionID       string
	SubscriptionTransactionID  string

	SubtotalInclTax         decimal.Decimal
	SubtotalExclTax         decimal.Decimal
	SubtotalDiscountInclTax decimal.Decimal
	SubtotalDiscountExclTax decimal.Decimal
	ShippingInclTax         decimal.Decimal
	ShippingExclTax         decimal.Decimal
	ShippingTaxRate         decimal.Decimal
	PaymentFeeInclTax       decimal.Decimal
	PaymentFeeExclTax       decimal.Decimal
	PaymentFeeTaxRate       decimal.Decimal
	Tax                     decimal.Decimal
	// TaxRates is the serialized per-rate breakdown, "rate:amount;...".
	TaxRates       string
	OrderDiscount  decimal.Decimal
	Total          decimal.Decimal
	RefundedAmount decimal.Decimal
	// AppliedDiscountIDs are the discounts granted at placement across
	// every scope. Edits reprice with exactly these.
	AppliedDiscountIDs []int64

	RedeemedRewardPoints       int
	RedeemedRewardPointsAmount decimal.Decimal
	// Ledger entry back-references; empty until the event happened.
	RedeemedPointsEntryID string
	AwardedPointsEntryID  string
	ReducedPointsEntryID  string
	ReturnedPointsEntryID string

	CheckoutAttributes string
	PaidAt             *time.Time
	Deleted            bool
	CreatedAt          time.Time

	Items []LineItem
}

// RefundableAmount is what can still be refunded.
func (o *Order) RefundableAmount() decimal.Decimal {
	left := o.Total.Sub(o.RefundedAmount)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// LineItem is a frozen copy of a cart line at placement.
type LineItem struct {
	ID                   string
	OrderID              string
	ProductID            string
	ProductName          string
	SKU                  string
	Quantity             int
	UnitPriceInclTax     decimal.Decimal
	UnitPriceExclTax     decimal.Decimal
	PriceInclTax         decimal.Decimal
	PriceExclTax         decimal.Decimal
	DiscountInclTax      decimal.Decimal
	DiscountExclTax      decimal.Decimal
	TaxRate              decimal.Decimal
	Selection            string
	AttributeDescription string
	OriginalProductCost  decimal.Decimal
	IsGiftCard           bool
	IsShipEnabled        bool
	RentalStart          *time.Time
	RentalEnd            *time.Time
}

// Note is an append-only order audit entry.
type Note struct {
	ID                string
	OrderID           string
	Text              string
	DisplayToCustomer bool
	CreatedAt         time.Time
}

// GiftCard is issued per purchased gift card unit.
type GiftCard struct {
	ID          string
	OrderID     string
	LineItemID  string
	Code        string
	Amount      decimal.Decimal
	IsActivated bool
	CreatedAt   time.Time
}

// StockReconciliation is an inventory adjustment that failed after the
// order was committed and waits for ReconcileStock.
type StockReconciliation struct {
	ID         string
	OrderID    string
	LineItemID string
	ProductID  string
	Selection  string
	Delta      int
	Error      string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// Repository persists orders with their line items.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// Update writes the order header, never its items.
	Update(ctx context.Context, o *Order) error
	UpdateItems(ctx context.Context, items []LineItem) error
}

// NoteRepository appends and lists order notes.
type NoteRepository interface {
	AddNote(ctx context.Context, n *Note) error
	ListNotes(ctx context.Context, orderID string) ([]Note, error)
}

// GiftCardRepository stores gift cards bought in orders.
type GiftCardRepository interface {
	CreateGiftCards(ctx context.Context, cards []GiftCard) error
	SetGiftCardsActive(ctx context.Context, orderID string, active bool) error
}

// ReconciliationRepository stores failed post-commit stock adjustments.
type ReconciliationRepository interface {
	AddReconciliation(ctx context.Context, r *StockReconciliation) error
	ListPendingReconciliations(ctx context.Context, orderID string) ([]StockReconciliation, error)
	// ListAllPendingReconciliations returns the oldest pending rows first.
	ListAllPendingReconciliations(ctx context.Context, limit int) ([]StockReconciliation, error)
	ResolveReconciliation(ctx context.Context, id string, at time.Time) error
}

// UnitOfWork runs fn in a transaction that repositories pick up from ctx.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
