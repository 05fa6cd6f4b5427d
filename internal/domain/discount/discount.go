// Package discount selects and validates discounts for the subtotal,
// shipping and order total scopes.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Scope is the amount a discount reduces.
type Scope string

const (
	ScopeSubtotal   Scope = "subtotal"
	ScopeShipping   Scope = "shipping"
	ScopeOrderTotal Scope = "order_total"
)

// Limitation restricts how many times a discount can be used.
type Limitation string

const (
	Unlimited         Limitation = "unlimited"
	NTimes            Limitation = "n_times"
	NTimesPerCustomer Limitation = "n_times_per_customer"
)

var (
	// ErrCouponNotFound is returned when a coupon code matches no discount.
	ErrCouponNotFound = errors.New("coupon code not found")
	// ErrExpired is returned outside a discount's validity window.
	ErrExpired = errors.New("discount is not active")
	// ErrCouponRequired is returned when the customer has not applied the
	// discount's coupon code.
	ErrCouponRequired = errors.New("coupon code required")
	// ErrUsageLimitReached is returned when a discount's limitation is exhausted.
	ErrUsageLimitReached = errors.New("discount usage limit reached")
	// ErrRoleNotAllowed is returned when the customer lacks a required role.
	ErrRoleNotAllowed = errors.New("discount not available for customer")
)

// Discount is a configured price reduction.
type Discount struct {
	ID                 int64
	Name               string
	Scope              Scope
	UsePercentage      bool
	Percentage         decimal.Decimal
	Amount             decimal.Decimal
	// MaxAmount caps a percentage discount. Zero means no cap.
	MaxAmount          decimal.Decimal
	Combinable         bool
	RequiresCouponCode bool
	CouponCode         string
	StartsAt           *time.Time
	EndsAt             *time.Time
	Limitation         Limitation
	LimitationTimes    int
	RequiredRoles      []string
}

// AmountFor returns the raw reduction this discount yields on base, floored
// at zero. Clamping to base is left to the Selector.
func (d *Discount) AmountFor(base decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	if d.UsePercentage {
		amount = base.Mul(d.Percentage).Div(hundred)
		if d.MaxAmount.IsPositive() && amount.GreaterThan(d.MaxAmount) {
			amount = d.MaxAmount
		}
	} else {
		amount = d.Amount
	}
	return floorAtZero(amount)
}

// Applied is a discount actually used in a calculation.
type Applied struct {
	ID     int64
	Name   string
	Amount decimal.Decimal
}

// MergeApplied appends src to dst, skipping discounts already present.
func MergeApplied(dst []Applied, src ...Applied) []Applied {
	for _, a := range src {
		dup := false
		for _, existing := range dst {
			if existing.ID == a.ID {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, a)
		}
	}
	return dst
}

// Usage is one discount-usage history row.
type Usage struct {
	DiscountID int64
	OrderID    string
	CustomerID string
	CreatedAt  time.Time
}

// Repository reads configured discounts.
type Repository interface {
	ListByScope(ctx context.Context, scope Scope) ([]Discount, error)
	FindByCouponCode(ctx context.Context, code string) (*Discount, error)
	ListCouponCodes(ctx context.Context) ([]string, error)
}

// UsageRepository reads and appends usage history.
type UsageRepository interface {
	CountUsage(ctx context.Context, discountID int64) (int, error)
	CountCustomerUsage(ctx context.Context, discountID int64, customerID string) (int, error)
	RecordUsage(ctx context.Context, usages []Usage) error
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
