package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-orders/internal/domain/customer"
)

// Eligibility decides whether a discount may be used by a customer.
type Eligibility interface {
	Validate(ctx context.Context, d *Discount, c *customer.Customer) (bool, error)
}

// Granted accepts every discount. Used when repricing with discounts an
// order already received.
type Granted struct{}

func (Granted) Validate(context.Context, *Discount, *customer.Customer) (bool, error) {
	return true, nil
}

// RulesValidator implements Eligibility by checking the validity window,
// coupon code, required roles and usage limitation.
type RulesValidator struct {
	usage UsageRepository
	now   func() time.Time
}

var _ Eligibility = (*RulesValidator)(nil)

// NewRulesValidator creates a RulesValidator backed by usage history.
func NewRulesValidator(usage UsageRepository) *RulesValidator {
	return &RulesValidator{usage: usage, now: time.Now}
}

// Validate reports whether d is currently usable by c. Rule violations yield
// false; only lookup failures are returned as errors.
func (v *RulesValidator) Validate(ctx context.Context, d *Discount, c *customer.Customer) (bool, error) {
	err := v.Check(ctx, d, c)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrExpired),
		errors.Is(err, ErrCouponRequired),
		errors.Is(err, ErrUsageLimitReached),
		errors.Is(err, ErrRoleNotAllowed):
		return false, nil
	default:
		return false, err
	}
}

// Check returns the first rule d violates for c, or nil.
func (v *RulesValidator) Check(ctx context.Context, d *Discount, c *customer.Customer) error {
	now := v.now()

	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return ErrExpired
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return ErrExpired
	}

	if d.RequiresCouponCode {
		if c == nil || d.CouponCode == "" || !c.HasCouponCode(d.CouponCode) {
			return ErrCouponRequired
		}
	}

	if len(d.RequiredRoles) > 0 {
		if c == nil {
			return ErrRoleNotAllowed
		}
		allowed := false
		for _, role := range d.RequiredRoles {
			if c.HasRole(role) {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrRoleNotAllowed
		}
	}

	switch d.Limitation {
	case NTimes:
		used, err := v.usage.CountUsage(ctx, d.ID)
		if err != nil {
			return errors.Wrap(err, "count discount usage")
		}
		if used >= d.LimitationTimes {
			return ErrUsageLimitReached
		}
	case NTimesPerCustomer:
		if c == nil {
			return ErrUsageLimitReached
		}
		used, err := v.usage.CountCustomerUsage(ctx, d.ID, c.ID)
		if err != nil {
			return errors.Wrap(err, "count customer discount usage")
		}
		if used >= d.LimitationTimes {
			return ErrUsageLimitReached
		}
	}

	return nil
}
