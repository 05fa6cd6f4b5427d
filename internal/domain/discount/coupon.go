package discount

import (
	"context"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-orders/internal/domain/customer"
)

// NormalizeCode canonicalizes a coupon code for lookups.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CouponIndex is a bloom filter over known coupon codes. A negative answer
// is definitive, so unknown codes never reach the database.
type CouponIndex struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewCouponIndex sizes the filter for capacity codes at false positive rate fpr.
func NewCouponIndex(capacity uint, fpr float64) *CouponIndex {
	if capacity == 0 {
		capacity = 1
	}
	return &CouponIndex{filter: bloom.NewWithEstimates(capacity, fpr)}
}

// LoadCouponIndex builds an index from every coupon code in repo.
func LoadCouponIndex(ctx context.Context, repo Repository, fpr float64) (*CouponIndex, error) {
	codes, err := repo.ListCouponCodes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupon codes")
	}
	idx := NewCouponIndex(uint(len(codes))*2, fpr)
	for _, code := range codes {
		idx.Add(code)
	}
	return idx, nil
}

// Add registers code.
func (i *CouponIndex) Add(code string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.filter.AddString(NormalizeCode(code))
}

// MayContain reports whether code might be known.
func (i *CouponIndex) MayContain(code string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.filter.TestString(NormalizeCode(code))
}

// CouponService applies coupon codes to a customer's checkout.
type CouponService struct {
	discounts Repository
	customers customer.Repository
	index     *CouponIndex
	rules     *RulesValidator
}

// NewCouponService creates a CouponService. index may be nil.
func NewCouponService(discounts Repository, customers customer.Repository, index *CouponIndex, rules *RulesValidator) *CouponService {
	return &CouponService{
		discounts: discounts,
		customers: customers,
		index:     index,
		rules:     rules,
	}
}

// Apply validates code for the customer and stores it on their checkout
// state. Applying an already applied code is a no-op.
func (s *CouponService) Apply(ctx context.Context, customerID, code string) (*Discount, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrCouponNotFound
	}
	if s.index != nil && !s.index.MayContain(code) {
		return nil, ErrCouponNotFound
	}

	d, err := s.discounts.FindByCouponCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	c, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "get customer")
	}
	if c.HasCouponCode(d.CouponCode) {
		return d, nil
	}

	state := c.Checkout
	state.CouponCodes = append(append([]string(nil), state.CouponCodes...), d.CouponCode)
	trial := *c
	trial.Checkout = state
	if err := s.rules.Check(ctx, d, &trial); err != nil {
		return nil, err
	}

	if err := s.customers.SaveCheckoutState(ctx, c.ID, state); err != nil {
		return nil, errors.Wrap(err, "save checkout state")
	}
	return d, nil
}
