package tax

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/customer"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAccumulator_ExactKeys(t *testing.T) {
	a := NewAccumulator()
	a.Add(d("10"), d("1.00"))
	a.Add(d("10.00"), d("0.50"))
	a.Add(d("20"), d("2"))

	require.Equal(t, 2, a.Len())
	assert.True(t, d("1.50").Equal(a.Get(d("10"))))
	assert.True(t, d("3.50").Equal(a.Total()))
}

func TestAccumulator_EmptyHasSentinel(t *testing.T) {
	rates := NewAccumulator().Rates()
	require.Len(t, rates, 1)
	assert.True(t, rates[0].Rate.IsZero())
	assert.True(t, rates[0].Amount.IsZero())
}

func TestAccumulator_NegativeFloored(t *testing.T) {
	a := NewAccumulator()
	a.Add(d("5"), d("1"))
	a.Add(d("5"), d("-3"))
	a.Add(d("7"), d("2"))

	rates := a.Rates()
	require.Len(t, rates, 2)
	assert.True(t, rates[0].Amount.IsZero())
	assert.True(t, d("2").Equal(a.Total()))
}

func TestAccumulator_Merge(t *testing.T) {
	a := NewAccumulator()
	a.Add(d("10"), d("1"))
	b := NewAccumulator()
	b.Add(d("10"), d("2"))
	b.Add(d("0"), d("0"))

	a.Merge(b)
	a.Merge(nil)

	assert.Equal(t, 2, a.Len())
	assert.True(t, d("3").Equal(a.Get(d("10"))))
}

func TestFormatParse(t *testing.T) {
	a := NewAccumulator()
	a.Add(d("20"), d("4"))
	a.Add(d("7.5"), d("0.755"))

	s := Format(a.Rates())
	assert.Equal(t, "7.5:0.76;20:4.00;", s)

	parsed, err := Parse(s)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.True(t, d("7.5").Equal(parsed[0].Rate))

	_, err = Parse("bad")
	assert.Error(t, err)
}

func TestFixedRateCalculator_ProductPrice(t *testing.T) {
	ctx := context.Background()
	p := &catalog.Product{TaxCategory: "books"}
	settings := Settings{
		DefaultRate:   d("20"),
		CategoryRates: map[string]decimal.Decimal{"books": d("10")},
	}

	tests := []struct {
		name         string
		settings     func(Settings) Settings
		customer     *customer.Customer
		includingTax bool
		wantPrice    string
		wantRate     string
	}{
		{name: "excl tax", wantPrice: "100", wantRate: "10"},
		{name: "incl tax", includingTax: true, wantPrice: "110", wantRate: "10"},
		{
			name:         "exempt customer",
			customer:     &customer.Customer{IsTaxExempt: true},
			includingTax: true,
			wantPrice:    "100",
			wantRate:     "0",
		},
		{
			name: "prices include tax, excl requested",
			settings: func(s Settings) Settings {
				s.PricesIncludeTax = true
				return s
			},
			wantPrice: "90.91",
			wantRate:  "10",
		},
		{
			name: "prices include tax, incl requested",
			settings: func(s Settings) Settings {
				s.PricesIncludeTax = true
				return s
			},
			includingTax: true,
			wantPrice:    "100",
			wantRate:     "10",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings
			if tt.settings != nil {
				s = tt.settings(s)
			}
			calc := NewFixedRateCalculator(s)
			price, rate, err := calc.ProductPrice(ctx, p, d("100"), tt.includingTax, tt.customer)
			require.NoError(t, err)
			assert.True(t, d(tt.wantPrice).Equal(price.Round(2)), "price %s", price)
			assert.True(t, d(tt.wantRate).Equal(rate), "rate %s", rate)
		})
	}
}

func TestFixedRateCalculator_ShippingNotTaxable(t *testing.T) {
	calc := NewFixedRateCalculator(Settings{DefaultRate: d("25")})
	price, rate, err := calc.ShippingPrice(context.Background(), d("8"), true, nil)
	require.NoError(t, err)
	assert.True(t, d("8").Equal(price))
	assert.True(t, rate.IsZero())
}
