package discount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/customer"
)

type mockDiscountRepo struct {
	byCode  map[string]*Discount
	lookups int
}

func (m *mockDiscountRepo) ListByScope(context.Context, Scope) ([]Discount, error) {
	return nil, nil
}

func (m *mockDiscountRepo) FindByCouponCode(_ context.Context, code string) (*Discount, error) {
	m.lookups++
	d, ok := m.byCode[code]
	if !ok {
		return nil, ErrCouponNotFound
	}
	return d, nil
}

func (m *mockDiscountRepo) ListCouponCodes(context.Context) ([]string, error) {
	codes := make([]string, 0, len(m.byCode))
	for code := range m.byCode {
		codes = append(codes, code)
	}
	return codes, nil
}

type mockCustomerRepo struct {
	c     *customer.Customer
	saved *customer.CheckoutState
}

func (m *mockCustomerRepo) GetByID(context.Context, string) (*customer.Customer, error) {
	return m.c, nil
}

func (m *mockCustomerRepo) SaveCheckoutState(_ context.Context, _ string, s customer.CheckoutState) error {
	m.saved = &s
	return nil
}

func newCouponFixture(t *testing.T) (*CouponService, *mockDiscountRepo, *mockCustomerRepo) {
	t.Helper()
	discounts := &mockDiscountRepo{byCode: map[string]*Discount{
		"SAVE10": {ID: 1, RequiresCouponCode: true, CouponCode: "SAVE10", Limitation: Unlimited},
		"ONCE":   {ID: 2, RequiresCouponCode: true, CouponCode: "ONCE", Limitation: NTimes, LimitationTimes: 1},
	}}
	customers := &mockCustomerRepo{c: &customer.Customer{ID: "c1"}}
	idx, err := LoadCouponIndex(context.Background(), discounts, 0.001)
	require.NoError(t, err)

	svc := NewCouponService(discounts, customers, idx, NewRulesValidator(&mockUsageRepo{total: 1}))
	return svc, discounts, customers
}

func TestCouponService_Apply(t *testing.T) {
	svc, _, customers := newCouponFixture(t)

	d, err := svc.Apply(context.Background(), "c1", " save10 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.ID)
	require.NotNil(t, customers.saved)
	assert.Equal(t, []string{"SAVE10"}, customers.saved.CouponCodes)
}

func TestCouponService_UnknownCodeSkipsLookup(t *testing.T) {
	svc, discounts, _ := newCouponFixture(t)

	_, err := svc.Apply(context.Background(), "c1", "NOPE-NOT-A-CODE")
	require.ErrorIs(t, err, ErrCouponNotFound)
	assert.LessOrEqual(t, discounts.lookups, 1)
}

func TestCouponService_LimitReached(t *testing.T) {
	svc, _, customers := newCouponFixture(t)

	_, err := svc.Apply(context.Background(), "c1", "ONCE")
	require.ErrorIs(t, err, ErrUsageLimitReached)
	assert.Nil(t, customers.saved)
}
