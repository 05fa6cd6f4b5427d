package discount

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/customer"
)

// Selection is the outcome of choosing discounts for a base amount.
type Selection struct {
	// Amount is clamped to [0, base].
	Amount  decimal.Decimal
	Applied []Applied
}

// Selector chooses the best discount or combinable set for an amount.
type Selector struct {
	eligibility Eligibility
}

// NewSelector returns a Selector filtering through eligibility.
func NewSelector(eligibility Eligibility) *Selector {
	return &Selector{eligibility: eligibility}
}

type candidate struct {
	amount  decimal.Decimal
	applied []Applied
	// lowestID orders tied candidates.
	lowestID int64
}

// Select filters discounts to the ones valid for c, then picks the largest
// reduction. When any valid discount is non-combinable, each discount alone
// competes with the sum of the combinable ones; ties go to the candidate
// holding the lowest discount id. Otherwise all combinable discounts add up.
func (s *Selector) Select(ctx context.Context, discounts []Discount, base decimal.Decimal, c *customer.Customer) (Selection, error) {
	if !base.IsPositive() || len(discounts) == 0 {
		return Selection{Amount: zero}, nil
	}

	valid := make([]Discount, 0, len(discounts))
	for i := range discounts {
		ok, err := s.eligibility.Validate(ctx, &discounts[i], c)
		if err != nil {
			return Selection{}, errors.Wrapf(err, "validate discount %d", discounts[i].ID)
		}
		if ok {
			valid = append(valid, discounts[i])
		}
	}
	if len(valid) == 0 {
		return Selection{Amount: zero}, nil
	}

	var (
		combined      candidate
		hasCombinable bool
		hasExclusive  bool
		candidates    []candidate
	)
	for i := range valid {
		d := &valid[i]
		amount := clamp(d.AmountFor(base), base)
		applied := Applied{ID: d.ID, Name: d.Name, Amount: amount}
		candidates = append(candidates, candidate{amount: amount, applied: []Applied{applied}, lowestID: d.ID})

		if !d.Combinable {
			hasExclusive = true
			continue
		}
		if !hasCombinable || d.ID < combined.lowestID {
			combined.lowestID = d.ID
		}
		hasCombinable = true
		combined.amount = combined.amount.Add(amount)
		combined.applied = append(combined.applied, applied)
	}
	combined.amount = clamp(combined.amount, base)

	if !hasExclusive {
		return Selection{Amount: combined.amount, Applied: combined.applied}, nil
	}

	if hasCombinable && len(combined.applied) > 1 {
		candidates = append(candidates, combined)
	}

	best := candidates[0]
	for _, cand := range candidates[1:] {
		if better(cand, best) {
			best = cand
		}
	}
	return Selection{Amount: best.amount, Applied: best.applied}, nil
}

func better(a, b candidate) bool {
	if cmp := a.amount.Cmp(b.amount); cmp != 0 {
		return cmp > 0
	}
	if a.lowestID != b.lowestID {
		return a.lowestID < b.lowestID
	}
	// Same lowest id: prefer the single discount over the combined set.
	return len(a.applied) < len(b.applied)
}

func clamp(amount, base decimal.Decimal) decimal.Decimal {
	amount = floorAtZero(amount)
	if amount.GreaterThan(base) {
		return base
	}
	return amount
}
