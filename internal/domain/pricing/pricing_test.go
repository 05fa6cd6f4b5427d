package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/rewardpoints"
	"github.com/xenking/kart-orders/internal/domain/tax"
)

// --- Mock implementations ---

type mockDiscountRepo struct {
	byScope map[discount.Scope][]discount.Discount
	err     error
}

func (m *mockDiscountRepo) ListByScope(_ context.Context, scope discount.Scope) ([]discount.Discount, error) {
	return m.byScope[scope], m.err
}

func (m *mockDiscountRepo) FindByCouponCode(context.Context, string) (*discount.Discount, error) {
	return nil, discount.ErrCouponNotFound
}

func (m *mockDiscountRepo) ListCouponCodes(context.Context) ([]string, error) {
	return nil, nil
}

type allowAll struct{}

func (allowAll) Validate(context.Context, *discount.Discount, *customer.Customer) (bool, error) {
	return true, nil
}

type denyAll struct{}

func (denyAll) Validate(context.Context, *discount.Discount, *customer.Customer) (bool, error) {
	return false, nil
}

// --- Helpers ---

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func product(id, price string) *catalog.Product {
	return &catalog.Product{
		ID:        id,
		Name:      "Product " + id,
		Price:     dec(price),
		Published: true,
	}
}

func line(p *catalog.Product, qty int) cart.Line {
	return cart.Line{ID: "l-" + p.ID, ProductID: p.ID, Quantity: qty, Product: p}
}

func newAggregator(repo *mockDiscountRepo, taxSettings tax.Settings, points rewardpoints.Settings) *Aggregator {
	return NewAggregator(
		tax.NewFixedRateCalculator(taxSettings),
		repo,
		discount.NewSelector(allowAll{}),
		points,
		Settings{RoundPricesDuringCalculation: true},
	)
}

func tenPercentTax() tax.Settings {
	return tax.Settings{
		DefaultRate:         dec("10"),
		ShippingIsTaxable:   true,
		PaymentFeeIsTaxable: true,
	}
}

func tenPercentOff() discount.Discount {
	return discount.Discount{
		ID:            1,
		Name:          "10% off",
		Scope:         discount.ScopeSubtotal,
		UsePercentage: true,
		Percentage:    dec("10"),
		Limitation:    discount.Unlimited,
	}
}

// --- Tests ---

func TestUnitPrice(t *testing.T) {
	override := dec("12.00")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * 24 * time.Hour)

	withAttrs := func() *catalog.Product {
		p := product("p1", "10.00")
		p.Attributes = []catalog.AttributeMapping{{
			ID:   1,
			Name: "Size",
			Values: []catalog.AttributeValue{
				{ID: 10, Name: "L", PriceAdjustment: dec("2.00")},
				{ID: 11, Name: "XL", PriceAdjustment: dec("50"), UsePercentage: true},
			},
		}}
		return p
	}

	tests := []struct {
		name  string
		line  func() cart.Line
		roles []string
		want  string
	}{
		{
			name: "plain",
			line: func() cart.Line { return line(product("p1", "10.00"), 1) },
			want: "10.00",
		},
		{
			name: "fixed attribute adjustment",
			line: func() cart.Line {
				l := line(withAttrs(), 1)
				l.Selection = "1:10"
				return l
			},
			want: "12.00",
		},
		{
			name: "percentage attribute adjustment",
			line: func() cart.Line {
				l := line(withAttrs(), 1)
				l.Selection = "1:11"
				return l
			},
			want: "15.00",
		},
		{
			name: "combination overridden price",
			line: func() cart.Line {
				p := withAttrs()
				p.Combinations = []catalog.AttributeCombination{{ID: 5, Selection: "1:10", OverriddenPrice: &override}}
				l := line(p, 1)
				l.Selection = "1:10"
				return l
			},
			want: "14.00",
		},
		{
			name: "tier price for role",
			line: func() cart.Line {
				p := product("p1", "10.00")
				p.TierPrices = []catalog.TierPrice{
					{Quantity: 5, Price: dec("8.00")},
					{Quantity: 5, Price: dec("7.00"), CustomerRole: "wholesale"},
				}
				return line(p, 6)
			},
			roles: []string{"wholesale"},
			want:  "7.00",
		},
		{
			name: "customer entered price",
			line: func() cart.Line {
				p := product("p1", "10.00")
				p.CustomerEntersPrice = true
				l := line(p, 1)
				l.CustomerEnteredPrice = dec("25.00")
				return l
			},
			want: "25.00",
		},
		{
			name: "rental periods",
			line: func() cart.Line {
				p := product("p1", "10.00")
				p.IsRental = true
				p.RentalPeriodDays = 7
				l := line(p, 1)
				l.RentalStart = &start
				l.RentalEnd = &end
				return l
			},
			want: "20.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.line()
			got, err := UnitPrice(&l, tt.roles)
			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestUnitPrice_UnknownValue(t *testing.T) {
	l := line(product("p1", "10.00"), 1)
	l.Selection = "9:99"

	_, err := UnitPrice(&l, nil)
	require.Error(t, err)
}

func TestSubtotal_PercentageDiscountWithTax(t *testing.T) {
	repo := &mockDiscountRepo{byScope: map[discount.Scope][]discount.Discount{
		discount.ScopeSubtotal: {tenPercentOff()},
	}}
	a := newAggregator(repo, tenPercentTax(), rewardpoints.Settings{})
	co := &Checkout{
		Customer: &customer.Customer{ID: "c1"},
		Lines:    []cart.Line{line(product("p1", "10.00"), 2)},
	}

	excl, err := a.Subtotal(context.Background(), co, false)
	require.NoError(t, err)
	assert.True(t, dec("20.00").Equal(excl.WithoutDiscount))
	assert.True(t, dec("2.00").Equal(excl.DiscountAmount))
	assert.True(t, dec("18.00").Equal(excl.WithDiscount))
	assert.True(t, dec("1.80").Equal(excl.TaxRates.Total()))
	require.Len(t, excl.AppliedDiscounts, 1)
	assert.Equal(t, int64(1), excl.AppliedDiscounts[0].ID)

	incl, err := a.Subtotal(context.Background(), co, true)
	require.NoError(t, err)
	assert.True(t, dec("22.00").Equal(incl.WithoutDiscount))
	assert.True(t, dec("2.20").Equal(incl.DiscountAmount))
	assert.True(t, dec("19.80").Equal(incl.WithDiscount))

	total, err := a.Total(context.Background(), co)
	require.NoError(t, err)
	assert.True(t, dec("19.80").Equal(total.Total), "got %s", total.Total)
}

func TestSubtotal_InclMinusExclMatchesTax(t *testing.T) {
	ts := tenPercentTax()
	ts.CategoryRates = map[string]decimal.Decimal{"books": dec("5"), "luxury": dec("20")}

	p1 := product("p1", "9.99")
	p1.TaxCategory = "books"
	p2 := product("p2", "14.50")
	p2.TaxCategory = "luxury"
	p3 := product("p3", "3.33")

	a := newAggregator(&mockDiscountRepo{}, ts, rewardpoints.Settings{})
	co := &Checkout{
		Customer: &customer.Customer{ID: "c1"},
		Lines:    []cart.Line{line(p1, 3), line(p2, 1), line(p3, 7)},
	}

	excl, err := a.Subtotal(context.Background(), co, false)
	require.NoError(t, err)
	incl, err := a.Subtotal(context.Background(), co, true)
	require.NoError(t, err)

	diff := incl.WithDiscount.Sub(excl.WithDiscount)
	assert.True(t, diff.Sub(excl.TaxRates.Total()).Abs().LessThanOrEqual(dec("0.01")),
		"incl-excl %s, tax %s", diff, excl.TaxRates.Total())
	assert.Equal(t, 3, excl.TaxRates.Len())
}

func TestSubtotal_DiscountNeverExceedsBase(t *testing.T) {
	repo := &mockDiscountRepo{byScope: map[discount.Scope][]discount.Discount{
		discount.ScopeSubtotal: {{ID: 3, Name: "huge", Scope: discount.ScopeSubtotal, Amount: dec("100"), Limitation: discount.Unlimited}},
	}}
	a := newAggregator(repo, tenPercentTax(), rewardpoints.Settings{})
	co := &Checkout{Lines: []cart.Line{line(product("p1", "10.00"), 2)}}

	excl, err := a.Subtotal(context.Background(), co, false)
	require.NoError(t, err)
	assert.True(t, dec("20.00").Equal(excl.DiscountAmount))
	assert.True(t, excl.WithDiscount.IsZero())
	assert.True(t, excl.TaxRates.Total().IsZero())

	total, err := a.Total(context.Background(), co)
	require.NoError(t, err)
	assert.True(t, total.Total.IsZero())
}

func TestShipping(t *testing.T) {
	repo := &mockDiscountRepo{byScope: map[discount.Scope][]discount.Discount{
		discount.ScopeShipping: {{ID: 7, Name: "ship", Scope: discount.ScopeShipping, Amount: dec("2.00"), Limitation: discount.Unlimited}},
	}}
	a := newAggregator(repo, tenPercentTax(), rewardpoints.Settings{})

	shipped := product("p1", "10.00")
	shipped.IsShipEnabled = true
	co := &Checkout{
		Lines:    []cart.Line{line(shipped, 1)},
		Shipping: &customer.ShippingOption{Name: "Ground", Rate: dec("5.00")},
	}

	excl, err := a.Shipping(context.Background(), co, false)
	require.NoError(t, err)
	assert.True(t, excl.Required)
	assert.True(t, dec("3.00").Equal(excl.Amount))
	assert.True(t, dec("2.00").Equal(excl.DiscountAmount))

	incl, err := a.Shipping(context.Background(), co, true)
	require.NoError(t, err)
	assert.True(t, dec("3.30").Equal(incl.Amount))

	taxRes, err := a.TaxTotal(context.Background(), co)
	require.NoError(t, err)
	assert.True(t, dec("1.30").Equal(taxRes.Total), "got %s", taxRes.Total)

	q, err := a.Quote(context.Background(), co)
	require.NoError(t, err)
	assert.True(t, dec("14.30").Equal(q.Total.Total), "got %s", q.Total.Total)
	require.Len(t, q.AppliedDiscounts, 1)
}

func TestShipping_NotRequired(t *testing.T) {
	a := newAggregator(&mockDiscountRepo{}, tenPercentTax(), rewardpoints.Settings{})
	co := &Checkout{
		Lines:    []cart.Line{line(product("p1", "10.00"), 1)},
		Shipping: &customer.ShippingOption{Rate: dec("5.00")},
	}

	res, err := a.Shipping(context.Background(), co, true)
	require.NoError(t, err)
	assert.False(t, res.Required)
	assert.True(t, res.Amount.IsZero())
}

func TestPaymentSurchargeInTax(t *testing.T) {
	a := newAggregator(&mockDiscountRepo{}, tenPercentTax(), rewardpoints.Settings{})
	co := &Checkout{
		Lines:      []cart.Line{line(product("p1", "10.00"), 1)},
		PaymentFee: dec("1.00"),
	}

	feeIncl, rate, err := a.PaymentSurcharge(context.Background(), co, true)
	require.NoError(t, err)
	assert.True(t, dec("1.10").Equal(feeIncl))
	assert.True(t, dec("10").Equal(rate))

	total, err := a.Total(context.Background(), co)
	require.NoError(t, err)
	assert.True(t, dec("12.10").Equal(total.Total), "got %s", total.Total)
}

func TestTotal_OrderTotalDiscountThenPoints(t *testing.T) {
	repo := &mockDiscountRepo{byScope: map[discount.Scope][]discount.Discount{
		discount.ScopeOrderTotal: {{ID: 9, Name: "order", Scope: discount.ScopeOrderTotal, Amount: dec("1.80"), Limitation: discount.Unlimited}},
	}}
	points := rewardpoints.Settings{Enabled: true, ExchangeRate: dec("0.01")}
	a := newAggregator(repo, tenPercentTax(), points)
	co := &Checkout{
		Customer:            &customer.Customer{ID: "c1"},
		Lines:               []cart.Line{line(product("p1", "10.00"), 2)},
		UseRewardPoints:     true,
		RewardPointsBalance: 1500,
	}

	total, err := a.Total(context.Background(), co)
	require.NoError(t, err)
	// 22.00 - 1.80 = 20.20, then 1500 points cover 15.00.
	assert.True(t, dec("1.80").Equal(total.DiscountAmount))
	assert.Equal(t, 1500, total.RedeemedPoints)
	assert.True(t, dec("15.00").Equal(total.RedeemedAmount))
	assert.True(t, dec("5.20").Equal(total.Total), "got %s", total.Total)
}

func TestTotal_PointsOnlyCoverRemaining(t *testing.T) {
	points := rewardpoints.Settings{Enabled: true, ExchangeRate: dec("0.01")}
	a := newAggregator(&mockDiscountRepo{}, tax.Settings{}, points)
	co := &Checkout{
		Lines:               []cart.Line{line(product("p1", "10.00"), 1)},
		UseRewardPoints:     true,
		RewardPointsBalance: 1500,
	}

	total, err := a.Total(context.Background(), co)
	require.NoError(t, err)
	assert.Equal(t, 1000, total.RedeemedPoints)
	assert.True(t, dec("10.00").Equal(total.RedeemedAmount))
	assert.True(t, total.Total.IsZero())
}

func TestComposeTotal_Clamped(t *testing.T) {
	a := newAggregator(&mockDiscountRepo{}, tax.Settings{}, rewardpoints.Settings{})

	res, err := a.ComposeTotal(context.Background(), TotalParts{
		Subtotal: dec("5.00"),
		Tax:      dec("0.50"),
	}, nil, func(decimal.Decimal) (int, decimal.Decimal) {
		return 900, dec("9.00")
	})
	require.NoError(t, err)
	assert.True(t, dec("5.50").Equal(res.RedeemedAmount))
	assert.True(t, res.Total.IsZero())
}

func TestWithGrantedDiscounts(t *testing.T) {
	fiveOff := discount.Discount{
		ID:         2,
		Name:       "5 off",
		Scope:      discount.ScopeSubtotal,
		Amount:     dec("5"),
		Combinable: true,
		Limitation: discount.Unlimited,
	}
	repo := &mockDiscountRepo{byScope: map[discount.Scope][]discount.Discount{
		discount.ScopeSubtotal: {tenPercentOff(), fiveOff},
	}}
	a := NewAggregator(
		tax.NewFixedRateCalculator(tenPercentTax()),
		repo,
		discount.NewSelector(denyAll{}),
		rewardpoints.Settings{},
		Settings{RoundPricesDuringCalculation: true},
	)
	amounts := []LineAmount{{Excl: dec("20"), Incl: dec("22"), Rate: dec("10")}}
	c := &customer.Customer{ID: "c1"}

	live, err := a.SubtotalFromAmounts(context.Background(), amounts, c, false)
	require.NoError(t, err)
	assert.True(t, live.DiscountAmount.IsZero())

	granted, err := a.WithGrantedDiscounts([]int64{1}).SubtotalFromAmounts(context.Background(), amounts, c, false)
	require.NoError(t, err)
	assert.True(t, dec("2").Equal(granted.DiscountAmount))
	require.Len(t, granted.AppliedDiscounts, 1)
	assert.Equal(t, int64(1), granted.AppliedDiscounts[0].ID)

	none, err := a.WithGrantedDiscounts(nil).SubtotalFromAmounts(context.Background(), amounts, c, false)
	require.NoError(t, err)
	assert.True(t, none.DiscountAmount.IsZero())
}

func TestSubtotal_RepositoryError(t *testing.T) {
	errBoom := errors.New("db down")
	a := newAggregator(&mockDiscountRepo{err: errBoom}, tenPercentTax(), rewardpoints.Settings{})
	co := &Checkout{Lines: []cart.Line{line(product("p1", "10.00"), 1)}}

	_, err := a.Subtotal(context.Background(), co, false)
	require.ErrorIs(t, err, errBoom)
}

func TestPriceLine(t *testing.T) {
	ts := tenPercentTax()
	ts.PricesIncludeTax = true
	a := newAggregator(&mockDiscountRepo{}, ts, rewardpoints.Settings{})

	p := product("p1", "11.00")
	p.Cost = dec("4.00")
	l := line(p, 3)

	lp, err := a.PriceLine(context.Background(), &l, nil)
	require.NoError(t, err)
	assert.True(t, dec("10.00").Equal(lp.UnitExcl))
	assert.True(t, dec("11.00").Equal(lp.UnitIncl))
	assert.True(t, dec("30.00").Equal(lp.Excl))
	assert.True(t, dec("33.00").Equal(lp.Incl))
	assert.True(t, dec("4.00").Equal(lp.UnitCost))
}
