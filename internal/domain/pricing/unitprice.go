package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/catalog"
)

var hundred = decimal.NewFromInt(100)

// UnitPrice returns the pre-tax unit price of a cart line: customer-entered
// or tier or combination price, plus attribute adjustments, times the number
// of rental periods.
func UnitPrice(l *cart.Line, roles []string) (decimal.Decimal, error) {
	p := l.Product
	if p == nil {
		return decimal.Zero, errors.Errorf("line %s: product not loaded", l.ID)
	}

	sel, err := catalog.ParseSelection(l.Selection)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "line %s", l.ID)
	}

	var base decimal.Decimal
	switch {
	case p.CustomerEntersPrice:
		base = l.CustomerEnteredPrice
	default:
		base = p.Price
		if comb := p.FindCombination(sel); comb != nil && comb.OverriddenPrice != nil {
			base = *comb.OverriddenPrice
		}
		if tier, ok := p.TierPriceFor(l.Quantity, roles); ok && tier.LessThan(base) {
			base = tier
		}
	}

	values, err := p.SelectedValues(sel)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "line %s", l.ID)
	}
	adjust := decimal.Zero
	for _, v := range values {
		if v.UsePercentage {
			adjust = adjust.Add(base.Mul(v.PriceAdjustment).Div(hundred))
			continue
		}
		adjust = adjust.Add(v.PriceAdjustment)
	}
	price := base.Add(adjust)

	if p.IsRental && l.RentalStart != nil && l.RentalEnd != nil {
		price = price.Mul(decimal.NewFromInt(int64(rentalPeriods(l, p))))
	}

	if price.IsNegative() {
		return decimal.Zero, nil
	}
	return price, nil
}

// UnitCost returns the product cost plus the cost of selected values.
func UnitCost(l *cart.Line) decimal.Decimal {
	p := l.Product
	if p == nil {
		return decimal.Zero
	}
	cost := p.Cost
	sel, err := catalog.ParseSelection(l.Selection)
	if err != nil {
		return cost
	}
	values, err := p.SelectedValues(sel)
	if err != nil {
		return cost
	}
	for _, v := range values {
		cost = cost.Add(v.Cost)
	}
	return cost
}

func rentalPeriods(l *cart.Line, p *catalog.Product) int {
	days := int(l.RentalEnd.Sub(*l.RentalStart).Hours() / 24)
	if days < 1 {
		days = 1
	}
	period := p.RentalPeriodDays
	if period <= 0 {
		period = 1
	}
	n := days / period
	if days%period != 0 {
		n++
	}
	return n
}
