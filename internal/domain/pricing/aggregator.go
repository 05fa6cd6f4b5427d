// Package pricing computes cart subtotals, shipping, surcharges, tax and
// order totals. It performs no writes.
package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/rewardpoints"
	"github.com/xenking/kart-orders/internal/domain/tax"
)

var zero = decimal.Zero

// Settings configures rounding.
type Settings struct {
	// RoundPricesDuringCalculation rounds intermediate amounts to cents.
	RoundPricesDuringCalculation bool
}

// Checkout is everything needed to price a cart, passed explicitly.
type Checkout struct {
	Customer            *customer.Customer
	Lines               []cart.Line
	CheckoutAttributes  []catalog.CheckoutAttribute
	Shipping            *customer.ShippingOption
	PaymentFee          decimal.Decimal
	UseRewardPoints     bool
	RewardPointsBalance int
}

// LineAmount is a priced line in both tax modes.
type LineAmount struct {
	Excl decimal.Decimal
	Incl decimal.Decimal
	Rate decimal.Decimal
}

// LinePrice is the full pricing of one cart line.
type LinePrice struct {
	UnitExcl decimal.Decimal
	UnitIncl decimal.Decimal
	Excl     decimal.Decimal
	Incl     decimal.Decimal
	Rate     decimal.Decimal
	UnitCost decimal.Decimal
}

// SubtotalResult is the subtotal in one tax mode.
type SubtotalResult struct {
	DiscountAmount   decimal.Decimal
	AppliedDiscounts []discount.Applied
	WithoutDiscount  decimal.Decimal
	WithDiscount     decimal.Decimal
	// TaxRates holds tax per rate after the discount was distributed.
	TaxRates *tax.Accumulator
}

// ShippingResult is the shipping charge in one tax mode.
type ShippingResult struct {
	Required         bool
	Amount           decimal.Decimal
	DiscountAmount   decimal.Decimal
	AppliedDiscounts []discount.Applied
	TaxRate          decimal.Decimal
}

// TaxResult is the order tax total and its breakdown.
type TaxResult struct {
	Total decimal.Decimal
	Rates *tax.Accumulator
}

// TotalResult is the payable total.
type TotalResult struct {
	Total            decimal.Decimal
	DiscountAmount   decimal.Decimal
	AppliedDiscounts []discount.Applied
	RedeemedPoints   int
	RedeemedAmount   decimal.Decimal
}

// TotalParts are the excl-tax components summed into a total.
type TotalParts struct {
	Subtotal   decimal.Decimal
	Shipping   decimal.Decimal
	PaymentFee decimal.Decimal
	Tax        decimal.Decimal
}

// Redeemer picks reward points to spend against a remaining total.
type Redeemer func(total decimal.Decimal) (int, decimal.Decimal)

// Aggregator computes cart and order money figures.
type Aggregator struct {
	tax       tax.Calculator
	discounts discount.Repository
	selector  *discount.Selector
	points    rewardpoints.Settings
	settings  Settings
}

// NewAggregator wires an Aggregator.
func NewAggregator(
	calc tax.Calculator,
	discounts discount.Repository,
	selector *discount.Selector,
	points rewardpoints.Settings,
	settings Settings,
) *Aggregator {
	return &Aggregator{
		tax:       calc,
		discounts: discounts,
		selector:  selector,
		points:    points,
		settings:  settings,
	}
}

// WithGrantedDiscounts returns a copy of a that only selects among the
// discounts in ids and skips their eligibility rules.
func (a *Aggregator) WithGrantedDiscounts(ids []int64) *Aggregator {
	granted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		granted[id] = true
	}
	cp := *a
	cp.discounts = grantedDiscounts{Repository: a.discounts, ids: granted}
	cp.selector = discount.NewSelector(discount.Granted{})
	return &cp
}

type grantedDiscounts struct {
	discount.Repository
	ids map[int64]bool
}

func (g grantedDiscounts) ListByScope(ctx context.Context, scope discount.Scope) ([]discount.Discount, error) {
	ds, err := g.Repository.ListByScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]discount.Discount, 0, len(ds))
	for _, d := range ds {
		if g.ids[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (a *Aggregator) round(d decimal.Decimal) decimal.Decimal {
	if a.settings.RoundPricesDuringCalculation {
		return d.Round(2)
	}
	return d
}

// PriceLine prices one cart line in both tax modes.
func (a *Aggregator) PriceLine(ctx context.Context, l *cart.Line, c *customer.Customer) (*LinePrice, error) {
	var roles []string
	if c != nil {
		roles = c.Roles
	}
	unit, err := UnitPrice(l, roles)
	if err != nil {
		return nil, err
	}
	unit = a.round(unit)
	sub := a.round(unit.Mul(decimal.NewFromInt(int64(l.Quantity))))

	unitExcl, rate, err := a.tax.ProductPrice(ctx, l.Product, unit, false, c)
	if err != nil {
		return nil, errors.Wrap(err, "unit price excl tax")
	}
	unitIncl, _, err := a.tax.ProductPrice(ctx, l.Product, unit, true, c)
	if err != nil {
		return nil, errors.Wrap(err, "unit price incl tax")
	}
	excl, _, err := a.tax.ProductPrice(ctx, l.Product, sub, false, c)
	if err != nil {
		return nil, errors.Wrap(err, "line price excl tax")
	}
	incl, _, err := a.tax.ProductPrice(ctx, l.Product, sub, true, c)
	if err != nil {
		return nil, errors.Wrap(err, "line price incl tax")
	}

	return &LinePrice{
		UnitExcl: a.round(unitExcl),
		UnitIncl: a.round(unitIncl),
		Excl:     a.round(excl),
		Incl:     a.round(incl),
		Rate:     rate,
		UnitCost: UnitCost(l),
	}, nil
}

// LineAmounts prices every line and checkout attribute of co.
func (a *Aggregator) LineAmounts(ctx context.Context, co *Checkout) ([]LineAmount, error) {
	amounts := make([]LineAmount, 0, len(co.Lines)+len(co.CheckoutAttributes))
	for i := range co.Lines {
		lp, err := a.PriceLine(ctx, &co.Lines[i], co.Customer)
		if err != nil {
			return nil, err
		}
		amounts = append(amounts, LineAmount{Excl: lp.Excl, Incl: lp.Incl, Rate: lp.Rate})
	}
	for i := range co.CheckoutAttributes {
		attr := &co.CheckoutAttributes[i]
		excl, rate, err := a.tax.CheckoutAttributePrice(ctx, attr, false, co.Customer)
		if err != nil {
			return nil, errors.Wrapf(err, "checkout attribute %d", attr.ID)
		}
		incl, _, err := a.tax.CheckoutAttributePrice(ctx, attr, true, co.Customer)
		if err != nil {
			return nil, errors.Wrapf(err, "checkout attribute %d", attr.ID)
		}
		amounts = append(amounts, LineAmount{Excl: a.round(excl), Incl: a.round(incl), Rate: rate})
	}
	return amounts, nil
}

// Subtotal computes the cart subtotal in the requested tax mode.
func (a *Aggregator) Subtotal(ctx context.Context, co *Checkout, includingTax bool) (*SubtotalResult, error) {
	amounts, err := a.LineAmounts(ctx, co)
	if err != nil {
		return nil, err
	}
	return a.SubtotalFromAmounts(ctx, amounts, co.Customer, includingTax)
}

// SubtotalFromAmounts computes a subtotal over already priced amounts. The
// subtotal discount is selected on the excl-tax subtotal and its tax effect
// is taken from each rate bucket in proportion.
func (a *Aggregator) SubtotalFromAmounts(ctx context.Context, amounts []LineAmount, c *customer.Customer, includingTax bool) (*SubtotalResult, error) {
	subExcl, subIncl := zero, zero
	before := tax.NewAccumulator()
	for _, la := range amounts {
		subExcl = subExcl.Add(la.Excl)
		subIncl = subIncl.Add(la.Incl)
		before.Add(la.Rate, la.Incl.Sub(la.Excl))
	}
	subExcl = a.round(subExcl)
	subIncl = a.round(subIncl)

	sel, err := a.selectFor(ctx, discount.ScopeSubtotal, subExcl, c)
	if err != nil {
		return nil, err
	}
	discExcl := a.round(sel.Amount)
	withExcl := floorAtZero(subExcl.Sub(discExcl))

	after := tax.NewAccumulator()
	discTax := zero
	for _, r := range before.Rates() {
		bucket := r.Amount
		if discExcl.IsPositive() && subExcl.IsPositive() {
			share := a.round(bucket.Mul(discExcl).Div(subExcl))
			bucket = bucket.Sub(share)
			discTax = discTax.Add(share)
		}
		after.Add(r.Rate, floorAtZero(bucket))
	}

	res := &SubtotalResult{
		AppliedDiscounts: sel.Applied,
		TaxRates:         after,
	}
	if includingTax {
		res.WithoutDiscount = subIncl
		res.DiscountAmount = a.round(discExcl.Add(discTax))
		res.WithDiscount = a.round(withExcl.Add(after.Total()))
	} else {
		res.WithoutDiscount = subExcl
		res.DiscountAmount = discExcl
		res.WithDiscount = a.round(withExcl)
	}
	return res, nil
}

// Shipping computes the shipping charge after shipping discounts.
func (a *Aggregator) Shipping(ctx context.Context, co *Checkout, includingTax bool) (*ShippingResult, error) {
	if co.Shipping == nil || !cart.RequiresShipping(co.Lines) {
		return &ShippingResult{Amount: zero, DiscountAmount: zero, TaxRate: zero}, nil
	}
	base := a.round(floorAtZero(co.Shipping.Rate))

	sel, err := a.selectFor(ctx, discount.ScopeShipping, base, co.Customer)
	if err != nil {
		return nil, err
	}
	adjusted := floorAtZero(base.Sub(sel.Amount))

	price, rate, err := a.tax.ShippingPrice(ctx, adjusted, includingTax, co.Customer)
	if err != nil {
		return nil, errors.Wrap(err, "shipping price")
	}
	disc, _, err := a.tax.ShippingPrice(ctx, sel.Amount, includingTax, co.Customer)
	if err != nil {
		return nil, errors.Wrap(err, "shipping discount price")
	}
	return &ShippingResult{
		Required:         true,
		Amount:           a.round(price),
		DiscountAmount:   a.round(disc),
		AppliedDiscounts: sel.Applied,
		TaxRate:          rate,
	}, nil
}

// PaymentSurcharge prices the payment method fee and returns it with its rate.
func (a *Aggregator) PaymentSurcharge(ctx context.Context, co *Checkout, includingTax bool) (decimal.Decimal, decimal.Decimal, error) {
	if !co.PaymentFee.IsPositive() {
		return zero, zero, nil
	}
	price, rate, err := a.tax.PaymentSurchargePrice(ctx, co.PaymentFee, includingTax, co.Customer)
	if err != nil {
		return zero, zero, errors.Wrap(err, "payment surcharge")
	}
	return a.round(price), rate, nil
}

// TaxTotal computes the tax on subtotal, shipping and payment surcharge.
func (a *Aggregator) TaxTotal(ctx context.Context, co *Checkout) (*TaxResult, error) {
	sub, err := a.Subtotal(ctx, co, false)
	if err != nil {
		return nil, err
	}
	return a.taxFrom(ctx, co, sub)
}

func (a *Aggregator) taxFrom(ctx context.Context, co *Checkout, sub *SubtotalResult) (*TaxResult, error) {
	acc := sub.TaxRates.Clone()

	shipExcl, err := a.Shipping(ctx, co, false)
	if err != nil {
		return nil, err
	}
	if shipExcl.Required {
		shipIncl, err := a.Shipping(ctx, co, true)
		if err != nil {
			return nil, err
		}
		acc.Add(shipExcl.TaxRate, shipIncl.Amount.Sub(shipExcl.Amount))
	}

	feeExcl, feeRate, err := a.PaymentSurcharge(ctx, co, false)
	if err != nil {
		return nil, err
	}
	if feeExcl.IsPositive() {
		feeIncl, _, err := a.PaymentSurcharge(ctx, co, true)
		if err != nil {
			return nil, err
		}
		acc.Add(feeRate, feeIncl.Sub(feeExcl))
	}

	return &TaxResult{Total: a.round(acc.Total()), Rates: acc}, nil
}

// Total computes the payable cart total, redeeming reward points last when
// the checkout asks for it.
func (a *Aggregator) Total(ctx context.Context, co *Checkout) (*TotalResult, error) {
	q, err := a.Quote(ctx, co)
	if err != nil {
		return nil, err
	}
	return q.Total, nil
}

// ComposeTotal sums parts, applies the order total discount, then redeems
// reward points. Every step is floored at zero.
func (a *Aggregator) ComposeTotal(ctx context.Context, parts TotalParts, c *customer.Customer, redeem Redeemer) (*TotalResult, error) {
	total := a.round(parts.Subtotal.Add(parts.Shipping).Add(parts.PaymentFee).Add(parts.Tax))
	total = floorAtZero(total)

	sel, err := a.selectFor(ctx, discount.ScopeOrderTotal, total, c)
	if err != nil {
		return nil, err
	}
	disc := a.round(sel.Amount)
	total = floorAtZero(a.round(total.Sub(disc)))

	res := &TotalResult{
		DiscountAmount:   disc,
		AppliedDiscounts: sel.Applied,
		RedeemedAmount:   zero,
	}
	if redeem != nil {
		points, amount := redeem(total)
		if amount.GreaterThan(total) {
			amount = total
		}
		if points > 0 && amount.IsPositive() {
			res.RedeemedPoints = points
			res.RedeemedAmount = amount
			total = floorAtZero(total.Sub(amount))
		}
	}
	res.Total = total.Round(2)
	return res, nil
}

func (a *Aggregator) redeemer(co *Checkout) Redeemer {
	if !co.UseRewardPoints {
		return nil
	}
	return func(total decimal.Decimal) (int, decimal.Decimal) {
		return a.points.Redemption(co.RewardPointsBalance, total)
	}
}

func (a *Aggregator) selectFor(ctx context.Context, scope discount.Scope, base decimal.Decimal, c *customer.Customer) (discount.Selection, error) {
	ds, err := a.discounts.ListByScope(ctx, scope)
	if err != nil {
		return discount.Selection{}, errors.Wrapf(err, "list %s discounts", scope)
	}
	sel, err := a.selector.Select(ctx, ds, base, c)
	if err != nil {
		return discount.Selection{}, errors.Wrapf(err, "select %s discount", scope)
	}
	return sel, nil
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
