package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/pricing"
)

// CartTotals is a priced preview of the customer's cart.
type CartTotals struct {
	Quote *pricing.Quote
	// LineErrors are cart validation problems. Lines whose product is gone
	// are left out of the totals.
	LineErrors []string
}

// CartTotals prices the current cart without placing an order.
func (s *Service) CartTotals(ctx context.Context, customerID, storeID, paymentMethod string) (*CartTotals, error) {
	c, err := s.Customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "get customer")
	}
	if storeID == "" {
		storeID = c.StoreID
	}
	lines, err := s.Carts.ListByCustomer(ctx, c.ID, storeID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	if len(lines) == 0 {
		return nil, ErrCartEmpty
	}
	if err := s.attachProducts(ctx, lines); err != nil {
		return nil, err
	}

	res := &CartTotals{}
	valid := make([]cart.Line, 0, len(lines))
	for i := range lines {
		for _, lerr := range cart.Validate(&lines[i]) {
			res.LineErrors = append(res.LineErrors, lerr.Error())
		}
		if lines[i].Product != nil {
			valid = append(valid, lines[i])
		}
	}
	stockErrs, err := s.stockErrors(ctx, lines)
	if err != nil {
		return nil, err
	}
	for _, serr := range stockErrs {
		res.LineErrors = append(res.LineErrors, serr.Error())
	}

	co := &pricing.Checkout{
		Customer:           c,
		Lines:              valid,
		CheckoutAttributes: c.Checkout.Attributes,
		Shipping:           c.Checkout.Shipping,
		UseRewardPoints:    c.Checkout.UseRewardPoints,
	}
	if co.UseRewardPoints {
		if co.RewardPointsBalance, err = s.RewardPoints.Balance(ctx, c.ID, storeID); err != nil {
			return nil, err
		}
	}
	if paymentMethod != "" {
		if _, err := s.withPaymentFee(ctx, co, paymentMethod); err != nil {
			return nil, err
		}
	}

	if res.Quote, err = s.Pricing.Quote(ctx, co); err != nil {
		return nil, errors.Wrap(err, "price cart")
	}
	return res, nil
}

// withPaymentFee resolves method and sets its surcharge on co.
func (s *Service) withPaymentFee(ctx context.Context, co *pricing.Checkout, method string) (payment.Gateway, error) {
	gw, err := s.Gateways.Get(method)
	if errors.Is(err, payment.ErrUnknownMethod) {
		return nil, &ValidationError{Errors: Errors{fmt.Sprintf("payment method %q is not available", method)}}
	}
	if err != nil {
		return nil, errors.Wrap(err, "resolve payment method")
	}
	sub, err := s.Pricing.Subtotal(ctx, co, false)
	if err != nil {
		return nil, errors.Wrap(err, "subtotal for payment fee")
	}
	if co.PaymentFee, err = gw.AdditionalFee(ctx, sub.WithDiscount); err != nil {
		return nil, errors.Wrap(err, "payment fee")
	}
	return gw, nil
}
