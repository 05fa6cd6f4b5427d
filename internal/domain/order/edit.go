package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/tax"
)

// UpdateTotalsRequest edits line items of a placed order.
type UpdateTotalsRequest struct {
	OrderID string
	Items   []ItemUpdate
}

// ItemUpdate sets the quantity and excl-tax unit price of one line item.
type ItemUpdate struct {
	ItemID           string
	Quantity         int
	UnitPriceExclTax decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// UpdateOrderTotals re-prices an order after line edits. Shipping, payment
// fee and redeemed points keep their placement values. Subtotal and order
// discounts are selected again, but only among the discounts granted at
// placement and without their eligibility rules, so no usage is recorded.
// Reward point entries are never touched: an edit that would not cover the
// redeemed points is rejected, and points awarded on completion stay.
// Stock follows quantity changes.
func (s *Service) UpdateOrderTotals(ctx context.Context, req UpdateTotalsRequest) (*Order, error) {
	o, err := s.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusCancelled {
		return nil, errors.Wrap(ErrNotEligible, "edit a cancelled order")
	}
	c, err := s.Customers.GetByID(ctx, o.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "get customer")
	}

	var verrs Errors
	updates := make(map[string]ItemUpdate, len(req.Items))
	for _, u := range req.Items {
		switch {
		case u.Quantity <= 0:
			verrs.Add(fmt.Sprintf("item %s: quantity must be positive", u.ItemID))
		case u.UnitPriceExclTax.IsNegative():
			verrs.Add(fmt.Sprintf("item %s: unit price must not be negative", u.ItemID))
		}
		updates[u.ItemID] = u
	}
	for id := range updates {
		if !hasItem(o, id) {
			verrs.Add(fmt.Sprintf("item %s not found in order", id))
		}
	}
	if len(verrs) > 0 {
		return nil, &ValidationError{Errors: verrs}
	}

	items := make([]LineItem, len(o.Items))
	copy(items, o.Items)
	deltas := make(map[string]int)
	amounts := make([]pricing.LineAmount, len(items))
	for i := range items {
		it := &items[i]
		if u, ok := updates[it.ID]; ok {
			if d := u.Quantity - it.Quantity; d != 0 {
				deltas[it.ID] = d
			}
			rate := it.TaxRate
			it.Quantity = u.Quantity
			it.UnitPriceExclTax = u.UnitPriceExclTax.Round(2)
			it.UnitPriceInclTax = u.UnitPriceExclTax.Mul(decimal.NewFromInt(1).Add(rate.Div(hundred))).Round(2)
			q := decimal.NewFromInt(int64(u.Quantity))
			it.PriceExclTax = it.UnitPriceExclTax.Mul(q)
			it.PriceInclTax = it.UnitPriceInclTax.Mul(q)
		}
		amounts[i] = pricing.LineAmount{Excl: it.PriceExclTax, Incl: it.PriceInclTax, Rate: it.TaxRate}
	}

	pr := s.Pricing.WithGrantedDiscounts(o.AppliedDiscountIDs)
	subExcl, err := pr.SubtotalFromAmounts(ctx, amounts, c, false)
	if err != nil {
		return nil, errors.Wrap(err, "subtotal")
	}
	subIncl, err := pr.SubtotalFromAmounts(ctx, amounts, c, true)
	if err != nil {
		return nil, errors.Wrap(err, "subtotal incl tax")
	}

	rates := subExcl.TaxRates.Clone()
	if o.ShippingInclTax.IsPositive() {
		rates.Add(o.ShippingTaxRate, o.ShippingInclTax.Sub(o.ShippingExclTax))
	}
	if o.PaymentFeeInclTax.IsPositive() {
		rates.Add(o.PaymentFeeTaxRate, o.PaymentFeeInclTax.Sub(o.PaymentFeeExclTax))
	}
	taxTotal := rates.Total().Round(2)

	redeemed := func(decimal.Decimal) (int, decimal.Decimal) {
		return o.RedeemedRewardPoints, o.RedeemedRewardPointsAmount
	}
	total, err := pr.ComposeTotal(ctx, pricing.TotalParts{
		Subtotal:   subExcl.WithDiscount,
		Shipping:   o.ShippingExclTax,
		PaymentFee: o.PaymentFeeExclTax,
		Tax:        taxTotal,
	}, c, redeemed)
	if err != nil {
		return nil, errors.Wrap(err, "order total")
	}
	if o.RedeemedRewardPoints > 0 && total.RedeemedAmount.LessThan(o.RedeemedRewardPointsAmount) {
		return nil, &ValidationError{Errors: Errors{
			fmt.Sprintf("new total does not cover the %d redeemed reward points worth %s",
				o.RedeemedRewardPoints, o.RedeemedRewardPointsAmount.StringFixed(2)),
		}}
	}
	if total.Total.LessThan(o.RefundedAmount) {
		return nil, &ValidationError{Errors: Errors{
			fmt.Sprintf("new total %s is below the refunded amount %s", total.Total.StringFixed(2), o.RefundedAmount.StringFixed(2)),
		}}
	}

	weightsExcl := make([]decimal.Decimal, len(items))
	weightsIncl := make([]decimal.Decimal, len(items))
	for i := range items {
		weightsExcl[i] = items[i].PriceExclTax
		weightsIncl[i] = items[i].PriceInclTax
	}
	discExcl := allocate(subExcl.DiscountAmount, weightsExcl)
	discIncl := allocate(subIncl.DiscountAmount, weightsIncl)
	for i := range items {
		items[i].DiscountExclTax = discExcl[i]
		items[i].DiscountInclTax = discIncl[i]
	}

	prevTotal := o.Total
	edited := *o
	edited.Items = items
	edited.SubtotalExclTax = subExcl.WithoutDiscount
	edited.SubtotalInclTax = subIncl.WithoutDiscount
	edited.SubtotalDiscountExclTax = subExcl.DiscountAmount
	edited.SubtotalDiscountInclTax = subIncl.DiscountAmount
	edited.Tax = taxTotal
	edited.TaxRates = tax.Format(rates.Rates())
	edited.OrderDiscount = total.DiscountAmount
	edited.Total = total.Total

	err = s.UnitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.Orders.UpdateItems(ctx, items); err != nil {
			return errors.Wrap(err, "update items")
		}
		if err := s.Orders.Update(ctx, &edited); err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	*o = edited

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	lg.Info("Order totals updated",
		zap.Stringer("previous_total", prevTotal),
		zap.Stringer("total", o.Total),
	)
	s.note(ctx, o, "Order totals have been updated. Total = %s", o.Total.StringFixed(2))

	var errs Errors
	for i := range o.Items {
		item := &o.Items[i]
		d, ok := deltas[item.ID]
		if !ok {
			continue
		}
		adj := inventory.Adjustment{
			ProductID: item.ProductID,
			Delta:     -d,
			Selection: item.Selection,
			Message:   fmt.Sprintf("Order #%s edited", o.CustomOrderNumber),
		}
		if err := s.Inventory.Adjust(ctx, adj); err != nil {
			errs.Add(s.stockFault(ctx, o, item, adj, err))
		}
	}
	return o, errs.Err()
}

func hasItem(o *Order, id string) bool {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return true
		}
	}
	return false
}
