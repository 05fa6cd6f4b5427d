package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/discount"
)

// Quote is every money figure of a checkout, computed once.
type Quote struct {
	SubtotalExcl *SubtotalResult
	SubtotalIncl *SubtotalResult
	ShippingExcl *ShippingResult
	ShippingIncl *ShippingResult
	FeeExcl      decimal.Decimal
	FeeIncl      decimal.Decimal
	FeeRate      decimal.Decimal
	Tax          *TaxResult
	Total        *TotalResult
	// AppliedDiscounts merges every pass, one entry per discount.
	AppliedDiscounts []discount.Applied
}

// Quote prices co in both tax modes and composes the total.
func (a *Aggregator) Quote(ctx context.Context, co *Checkout) (*Quote, error) {
	subExcl, err := a.Subtotal(ctx, co, false)
	if err != nil {
		return nil, err
	}
	subIncl, err := a.Subtotal(ctx, co, true)
	if err != nil {
		return nil, err
	}
	shipExcl, err := a.Shipping(ctx, co, false)
	if err != nil {
		return nil, err
	}
	shipIncl, err := a.Shipping(ctx, co, true)
	if err != nil {
		return nil, err
	}
	feeExcl, feeRate, err := a.PaymentSurcharge(ctx, co, false)
	if err != nil {
		return nil, err
	}
	feeIncl, _, err := a.PaymentSurcharge(ctx, co, true)
	if err != nil {
		return nil, err
	}
	taxRes, err := a.taxFrom(ctx, co, subExcl)
	if err != nil {
		return nil, err
	}

	total, err := a.ComposeTotal(ctx, TotalParts{
		Subtotal:   subExcl.WithDiscount,
		Shipping:   shipExcl.Amount,
		PaymentFee: feeExcl,
		Tax:        taxRes.Total,
	}, co.Customer, a.redeemer(co))
	if err != nil {
		return nil, err
	}

	var applied []discount.Applied
	applied = discount.MergeApplied(applied, subExcl.AppliedDiscounts...)
	applied = discount.MergeApplied(applied, subIncl.AppliedDiscounts...)
	applied = discount.MergeApplied(applied, shipExcl.AppliedDiscounts...)
	applied = discount.MergeApplied(applied, shipIncl.AppliedDiscounts...)
	applied = discount.MergeApplied(applied, total.AppliedDiscounts...)

	return &Quote{
		SubtotalExcl:     subExcl,
		SubtotalIncl:     subIncl,
		ShippingExcl:     shipExcl,
		ShippingIncl:     shipIncl,
		FeeExcl:          feeExcl,
		FeeIncl:          feeIncl,
		FeeRate:          feeRate,
		Tax:              taxRes,
		Total:            total,
		AppliedDiscounts: applied,
	}, nil
}
