package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/tax"
)

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	writeRaw(w, status, e.Bytes())
}

func money(e *jx.Encoder, name string, d decimal.Decimal) {
	e.FieldStart(name)
	e.Str(d.StringFixed(2))
}

func str(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

func optStr(e *jx.Encoder, name, v string) {
	if v != "" {
		str(e, name, v)
	}
}

func timestamp(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func strList(e *jx.Encoder, name string, list []string) {
	e.FieldStart(name)
	e.ArrStart()
	for _, s := range list {
		e.Str(s)
	}
	e.ArrEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	str(e, "id", o.ID)
	str(e, "number", o.CustomOrderNumber)
	str(e, "store_id", o.StoreID)
	str(e, "customer_id", o.CustomerID)
	str(e, "status", string(o.Status))
	str(e, "payment_status", string(o.PaymentStatus))
	str(e, "payment_method", o.PaymentMethod)
	optStr(e, "shipping_method", o.ShippingMethod)

	e.FieldStart("currency")
	e.ObjStart()
	str(e, "code", o.CustomerCurrencyCode)
	str(e, "rate", o.CurrencyRate.String())
	e.ObjEnd()

	money(e, "subtotal_incl_tax", o.SubtotalInclTax)
	money(e, "subtotal_excl_tax", o.SubtotalExclTax)
	money(e, "subtotal_discount_excl_tax", o.SubtotalDiscountExclTax)
	money(e, "shipping_incl_tax", o.ShippingInclTax)
	money(e, "shipping_excl_tax", o.ShippingExclTax)
	money(e, "payment_fee_excl_tax", o.PaymentFeeExclTax)
	money(e, "tax", o.Tax)
	if rates, err := tax.Parse(o.TaxRates); err == nil && len(rates) > 0 {
		encodeTaxRates(e, rates)
	}
	money(e, "order_discount", o.OrderDiscount)
	if len(o.AppliedDiscountIDs) > 0 {
		e.FieldStart("applied_discount_ids")
		e.ArrStart()
		for _, id := range o.AppliedDiscountIDs {
			e.Int64(id)
		}
		e.ArrEnd()
	}
	if o.RedeemedRewardPoints > 0 {
		e.FieldStart("redeemed_reward_points")
		e.Int(o.RedeemedRewardPoints)
		money(e, "redeemed_reward_points_amount", o.RedeemedRewardPointsAmount)
	}
	money(e, "total", o.Total)
	money(e, "refunded_amount", o.RefundedAmount)

	if o.BillingAddress != nil {
		encodeAddress(e, "billing_address", o.BillingAddress)
	}
	if o.ShippingAddress != nil {
		encodeAddress(e, "shipping_address", o.ShippingAddress)
	}
	if o.PaidAt != nil {
		timestamp(e, "paid_at", *o.PaidAt)
	}
	timestamp(e, "created_at", o.CreatedAt)

	e.FieldStart("items")
	e.ArrStart()
	for i := range o.Items {
		encodeItem(e, &o.Items[i])
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeItem(e *jx.Encoder, it *order.LineItem) {
	e.ObjStart()
	str(e, "id", it.ID)
	str(e, "product_id", it.ProductID)
	str(e, "name", it.ProductName)
	optStr(e, "sku", it.SKU)
	e.FieldStart("quantity")
	e.Int(it.Quantity)
	money(e, "unit_price_incl_tax", it.UnitPriceInclTax)
	money(e, "unit_price_excl_tax", it.UnitPriceExclTax)
	money(e, "price_incl_tax", it.PriceInclTax)
	money(e, "price_excl_tax", it.PriceExclTax)
	money(e, "discount_excl_tax", it.DiscountExclTax)
	str(e, "tax_rate", it.TaxRate.String())
	optStr(e, "attributes", it.AttributeDescription)
	if it.IsGiftCard {
		e.FieldStart("gift_card")
		e.Bool(true)
	}
	e.ObjEnd()
}

func encodeAddress(e *jx.Encoder, name string, a *customer.Address) {
	e.FieldStart(name)
	e.ObjStart()
	str(e, "first_name", a.FirstName)
	str(e, "last_name", a.LastName)
	str(e, "email", a.Email)
	str(e, "country", a.CountryCode)
	optStr(e, "city", a.City)
	optStr(e, "address1", a.Address1)
	optStr(e, "zip", a.PostalCode)
	e.ObjEnd()
}

func encodeTaxRates(e *jx.Encoder, rates []tax.Rate) {
	e.FieldStart("tax_rates")
	e.ArrStart()
	for _, r := range rates {
		e.ObjStart()
		str(e, "rate", r.Rate.String())
		money(e, "amount", r.Amount)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeApplied(e *jx.Encoder, name string, list []discount.Applied) {
	e.FieldStart(name)
	e.ArrStart()
	for _, a := range list {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(a.ID)
		str(e, "name", a.Name)
		money(e, "amount", a.Amount)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeQuote(e *jx.Encoder, q *pricing.Quote) {
	e.ObjStart()
	money(e, "subtotal_excl_tax", q.SubtotalExcl.WithoutDiscount)
	money(e, "subtotal_incl_tax", q.SubtotalIncl.WithoutDiscount)
	money(e, "subtotal_discount", q.SubtotalExcl.DiscountAmount)
	if q.ShippingExcl.Required {
		money(e, "shipping_excl_tax", q.ShippingExcl.Amount)
		money(e, "shipping_incl_tax", q.ShippingIncl.Amount)
	}
	if !q.FeeExcl.IsZero() {
		money(e, "payment_fee_excl_tax", q.FeeExcl)
		money(e, "payment_fee_incl_tax", q.FeeIncl)
	}
	money(e, "tax", q.Tax.Total)
	if q.Tax.Rates != nil {
		encodeTaxRates(e, q.Tax.Rates.Rates())
	}
	money(e, "order_discount", q.Total.DiscountAmount)
	if q.Total.RedeemedPoints > 0 {
		e.FieldStart("redeemed_reward_points")
		e.Int(q.Total.RedeemedPoints)
		money(e, "redeemed_reward_points_amount", q.Total.RedeemedAmount)
	}
	money(e, "total", q.Total.Total)
	encodeApplied(e, "applied_discounts", q.AppliedDiscounts)
	e.ObjEnd()
}

func encodeNote(e *jx.Encoder, n *order.Note) {
	e.ObjStart()
	str(e, "id", n.ID)
	str(e, "text", n.Text)
	e.FieldStart("display_to_customer")
	e.Bool(n.DisplayToCustomer)
	timestamp(e, "created_at", n.CreatedAt)
	e.ObjEnd()
}

func encodeReconciliation(e *jx.Encoder, r *order.StockReconciliation) {
	e.ObjStart()
	str(e, "id", r.ID)
	str(e, "order_id", r.OrderID)
	str(e, "line_item_id", r.LineItemID)
	str(e, "product_id", r.ProductID)
	optStr(e, "selection", r.Selection)
	e.FieldStart("delta")
	e.Int(r.Delta)
	str(e, "error", r.Error)
	timestamp(e, "created_at", r.CreatedAt)
	e.ObjEnd()
}
