package tax

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/customer"
)

var hundred = decimal.NewFromInt(100)

// Calculator prices taxable items for a customer. Every method returns the
// price in the requested tax mode and the rate, in percent, that applied.
type Calculator interface {
	ProductPrice(ctx context.Context, p *catalog.Product, price decimal.Decimal, includingTax bool, c *customer.Customer) (decimal.Decimal, decimal.Decimal, error)
	CheckoutAttributePrice(ctx context.Context, a *catalog.CheckoutAttribute, includingTax bool, c *customer.Customer) (decimal.Decimal, decimal.Decimal, error)
	ShippingPrice(ctx context.Context, price decimal.Decimal, includingTax bool, c *customer.Customer) (decimal.Decimal, decimal.Decimal, error)
	PaymentSurchargePrice(ctx context.Context, price decimal.Decimal, includingTax bool, c *customer.Customer) (decimal.Decimal, decimal.Decimal, error)
}

// Settings configures FixedRateCalculator.
type Settings struct {
	// PricesIncludeTax means catalog prices are entered with tax included.
	PricesIncludeTax bool
	DefaultRate      decimal.Decimal
	// CategoryRates maps a tax category to its rate in percent.
	CategoryRates         map[string]decimal.Decimal
	ShippingIsTaxable     bool
	ShippingTaxCategory   string
	PaymentFeeIsTaxable   bool
	PaymentFeeTaxCategory string
}

// FixedRateCalculator applies a fixed rate per tax category.
type FixedRateCalculator struct {
	settings Settings
}

var _ Calculator = (*FixedRateCalculator)(nil)

// NewFixedRateCalculator returns a calculator over the given settings.
func NewFixedRateCalculator(s Settings) *FixedRateCalculator {
	return &FixedRateCalculator{settings: s}
}

func (f *FixedRateCalculator) categoryRate(category string) decimal.Decimal {
	if r, ok := f.settings.CategoryRates[category]; ok {
		return r
	}
	return f.settings.DefaultRate
}

// ProductPrice prices a product line amount.
func (f *FixedRateCalculator) ProductPrice(_ context.Context, p *catalog.Product, price decimal.Decimal, includingTax bool, c *customer.Customer) (decimal.Decimal, decimal.Decimal, error) {
	exempt := p.IsTaxExempt || isExempt(c)
	out, rate := f.price(price, f.categoryRate(p.TaxCategory), includingTax, exempt)
	return out, rate, nil
}

// CheckoutAttributePrice prices a checkout attribute surcharge.
func (f *FixedRateCalculator) CheckoutAttributePrice(_ context.Context, a *catalog.CheckoutAttribute, includingTax bool, c *customer.Customer) (decimal.Decimal, decimal.Decimal, error) {
	exempt := a.IsTaxExempt || isExempt(c)
	out, rate := f.price(a.PriceAdjustment, f.categoryRate(a.TaxCategory), includingTax, exempt)
	return out, rate, nil
}

// ShippingPrice prices a shipping rate.
func (f *FixedRateCalculator) ShippingPrice(_ context.Context, price decimal.Decimal, includingTax bool, c *customer.Customer) (decimal.Decimal, decimal.Decimal, error) {
	exempt := !f.settings.ShippingIsTaxable || isExempt(c)
	out, rate := f.price(price, f.categoryRate(f.settings.ShippingTaxCategory), includingTax, exempt)
	return out, rate, nil
}

// PaymentSurchargePrice prices a payment method fee.
func (f *FixedRateCalculator) PaymentSurchargePrice(_ context.Context, price decimal.Decimal, includingTax bool, c *customer.Customer) (decimal.Decimal, decimal.Decimal, error) {
	exempt := !f.settings.PaymentFeeIsTaxable || isExempt(c)
	out, rate := f.price(price, f.categoryRate(f.settings.PaymentFeeTaxCategory), includingTax, exempt)
	return out, rate, nil
}

// price converts an entered price into the requested tax mode. When prices
// are entered with tax, exempt buyers get the tax stripped.
func (f *FixedRateCalculator) price(price, rate decimal.Decimal, includingTax, exempt bool) (decimal.Decimal, decimal.Decimal) {
	if f.settings.PricesIncludeTax {
		if exempt {
			return removeTax(price, rate), decimal.Zero
		}
		if includingTax {
			return price, rate
		}
		return removeTax(price, rate), rate
	}
	if exempt {
		return price, decimal.Zero
	}
	if includingTax {
		return addTax(price, rate), rate
	}
	return price, rate
}

func addTax(price, rate decimal.Decimal) decimal.Decimal {
	return price.Add(price.Mul(rate).Div(hundred))
}

func removeTax(price, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return price
	}
	return price.Div(decimal.NewFromInt(1).Add(rate.Div(hundred)))
}

func isExempt(c *customer.Customer) bool {
	return c != nil && c.IsTaxExempt
}
