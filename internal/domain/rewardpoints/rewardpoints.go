// Package rewardpoints converts between money and loyalty points and keeps
// the append-only points ledger.
package rewardpoints

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a redemption would drive a
	// balance negative.
	ErrInsufficientBalance = errors.New("insufficient reward points balance")
	// ErrEntryNotFound is returned for an unknown ledger entry.
	ErrEntryNotFound = errors.New("reward points entry not found")
)

// Kind is the economic event an entry records.
type Kind string

const (
	KindEarn   Kind = "earn"
	KindRedeem Kind = "redeem"
	KindReduce Kind = "reduce"
	KindReturn Kind = "return"
)

// Entry is one ledger row.
type Entry struct {
	ID         string
	CustomerID string
	StoreID    string
	Points     int
	// UsedAmount is the money redeemed against OrderID.
	UsedAmount  decimal.Decimal
	OrderID     string
	Kind        Kind
	Message     string
	ActivatesAt *time.Time
	CreatedAt   time.Time
}

// Repository persists ledger entries. Insert must serialize writers per
// customer and reject redemptions that overdraw the active balance.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id string) (*Entry, error)
	Balance(ctx context.Context, customerID, storeID string, at time.Time) (int, error)
}

// Settings configures conversion and earning.
type Settings struct {
	Enabled bool
	// ExchangeRate is the money value of one point.
	ExchangeRate       decimal.Decimal
	MinimumPointsToUse int
	// Every PurchaseAmount spent earns PurchasePoints.
	PurchaseAmount  decimal.Decimal
	PurchasePoints  int
	ActivationDelay time.Duration
}

// PointsToAmount returns the money value of points.
func (s Settings) PointsToAmount(points int) decimal.Decimal {
	if points <= 0 || !s.ExchangeRate.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(points)).Mul(s.ExchangeRate).Round(2)
}

// AmountToPoints returns the whole number of points covering amount,
// rounding up.
func (s Settings) AmountToPoints(amount decimal.Decimal) int {
	if !amount.IsPositive() || !s.ExchangeRate.IsPositive() {
		return 0
	}
	return int(amount.Div(s.ExchangeRate).Ceil().IntPart())
}

// CanRedeem reports whether balance meets the redemption threshold.
func (s Settings) CanRedeem(balance int) bool {
	return s.Enabled && balance > 0 && balance >= s.MinimumPointsToUse
}

// Redemption returns how many points to redeem against total and their
// money value. Only enough points to zero the total are used; the amount
// never exceeds total.
func (s Settings) Redemption(balance int, total decimal.Decimal) (int, decimal.Decimal) {
	if !s.CanRedeem(balance) || !total.IsPositive() {
		return 0, decimal.Zero
	}
	points := balance
	amount := s.PointsToAmount(points)
	if amount.GreaterThan(total) {
		points = s.AmountToPoints(total)
		if points > balance {
			points = balance
		}
		amount = s.PointsToAmount(points)
	}
	if amount.GreaterThan(total) {
		amount = total
	}
	return points, amount
}

// PointsForPurchase returns the points earned on amount.
func (s Settings) PointsForPurchase(amount decimal.Decimal) int {
	if !s.Enabled || !s.PurchaseAmount.IsPositive() || s.PurchasePoints <= 0 || !amount.IsPositive() {
		return 0
	}
	return int(amount.Div(s.PurchaseAmount).Floor().IntPart()) * s.PurchasePoints
}

// Ledger records reward point events.
type Ledger struct {
	repo     Repository
	settings Settings
	now      func() time.Time
	newID    func() string
}

// NewLedger creates a Ledger.
func NewLedger(repo Repository, settings Settings) *Ledger {
	return &Ledger{
		repo:     repo,
		settings: settings,
		now:      time.Now,
		newID:    func() string { return ulid.Make().String() },
	}
}

// Settings returns the ledger configuration.
func (l *Ledger) Settings() Settings {
	return l.settings
}

// Balance returns the active points balance.
func (l *Ledger) Balance(ctx context.Context, customerID, storeID string) (int, error) {
	if !l.settings.Enabled {
		return 0, nil
	}
	b, err := l.repo.Balance(ctx, customerID, storeID, l.now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "reward points balance")
	}
	return b, nil
}

// Redeem records points spent on an order.
func (l *Ledger) Redeem(ctx context.Context, customerID, storeID, orderID string, points int, amount decimal.Decimal) (*Entry, error) {
	if points <= 0 {
		return nil, errors.Errorf("redeemed points must be positive, got %d", points)
	}
	e := l.entry(customerID, storeID, orderID, KindRedeem, -points)
	e.UsedAmount = amount
	e.Message = "Redeemed for order"
	if err := l.repo.Insert(ctx, e); err != nil {
		return nil, errors.Wrap(err, "insert redemption")
	}
	return e, nil
}

// Award records points earned by an order. It returns nil when amount earns
// nothing.
func (l *Ledger) Award(ctx context.Context, customerID, storeID, orderID string, amount decimal.Decimal) (*Entry, error) {
	points := l.settings.PointsForPurchase(amount)
	if points <= 0 {
		return nil, nil
	}
	e := l.entry(customerID, storeID, orderID, KindEarn, points)
	e.Message = "Earned for order"
	if l.settings.ActivationDelay > 0 {
		at := e.CreatedAt.Add(l.settings.ActivationDelay)
		e.ActivatesAt = &at
	}
	if err := l.repo.Insert(ctx, e); err != nil {
		return nil, errors.Wrap(err, "insert award")
	}
	return e, nil
}

// Reduce claws back an earlier award. The reversal activates together with
// the award so a pending award never nets to a negative balance.
func (l *Ledger) Reduce(ctx context.Context, awardID string) (*Entry, error) {
	award, err := l.repo.GetByID(ctx, awardID)
	if err != nil {
		return nil, errors.Wrap(err, "get award")
	}
	e := l.entry(award.CustomerID, award.StoreID, award.OrderID, KindReduce, -award.Points)
	e.ActivatesAt = award.ActivatesAt
	e.Message = "Reduced for cancelled order"
	if err := l.repo.Insert(ctx, e); err != nil {
		return nil, errors.Wrap(err, "insert reduction")
	}
	return e, nil
}

// Return gives back points redeemed by an order.
func (l *Ledger) Return(ctx context.Context, redemptionID string) (*Entry, error) {
	redeemed, err := l.repo.GetByID(ctx, redemptionID)
	if err != nil {
		return nil, errors.Wrap(err, "get redemption")
	}
	e := l.entry(redeemed.CustomerID, redeemed.StoreID, redeemed.OrderID, KindReturn, -redeemed.Points)
	e.Message = "Returned for cancelled order"
	if err := l.repo.Insert(ctx, e); err != nil {
		return nil, errors.Wrap(err, "insert return")
	}
	return e, nil
}

func (l *Ledger) entry(customerID, storeID, orderID string, kind Kind, points int) *Entry {
	return &Entry{
		ID:         l.newID(),
		CustomerID: customerID,
		StoreID:    storeID,
		Points:     points,
		UsedAmount: decimal.Zero,
		OrderID:    orderID,
		Kind:       kind,
		CreatedAt:  l.now().UTC(),
	}
}
