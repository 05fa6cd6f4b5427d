// Package customer models the buyer, their addresses and one-time checkout
// state.
package customer

import (
	"context"
	"net/mail"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/catalog"
)

var (
	// ErrNotFound is returned when a customer does not exist.
	ErrNotFound = errors.New("customer not found")
	// ErrCountryNotFound is returned for an unknown country code.
	ErrCountryNotFound = errors.New("country not found")
)

// Customer is a registered or guest buyer.
type Customer struct {
	ID              string
	StoreID         string
	Email           string
	IsGuest         bool
	IsTaxExempt     bool
	Active          bool
	Deleted         bool
	Roles           []string
	CurrencyCode    string
	LanguageCode    string
	BillingAddress  *Address
	ShippingAddress *Address
	Checkout        CheckoutState
}

// CheckoutState is per-checkout input that is reset once an order is placed.
type CheckoutState struct {
	CouponCodes     []string
	Attributes      []catalog.CheckoutAttribute
	UseRewardPoints bool
	Shipping        *ShippingOption
}

// ShippingOption is a rate quoted by an external shipping provider.
type ShippingOption struct {
	Name     string
	Provider string
	Rate     decimal.Decimal
}

// HasRole reports whether the customer belongs to role.
func (c *Customer) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasCouponCode reports whether the customer applied code during checkout.
func (c *Customer) HasCouponCode(code string) bool {
	for _, cc := range c.Checkout.CouponCodes {
		if strings.EqualFold(strings.TrimSpace(cc), strings.TrimSpace(code)) {
			return true
		}
	}
	return false
}

// Address is a postal address with contact details.
type Address struct {
	FirstName   string
	LastName    string
	Email       string
	Company     string
	CountryCode string
	City        string
	Address1    string
	Address2    string
	PostalCode  string
	Phone       string
}

// Clone returns a detached copy so later edits of the source do not leak.
func (a *Address) Clone() *Address {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// Country controls where billing and shipping are allowed.
type Country struct {
	Code           string
	Name           string
	AllowsBilling  bool
	AllowsShipping bool
}

// ValidEmail reports whether s is a bare syntactically valid address.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s
}

// Repository provides customer reads and checkout state writes.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Customer, error)
	SaveCheckoutState(ctx context.Context, customerID string, state CheckoutState) error
}

// CountryRepository looks up countries by ISO code.
type CountryRepository interface {
	GetByCode(ctx context.Context, code string) (*Country, error)
}
