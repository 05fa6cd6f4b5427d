// Package currency captures the currency snapshot stored on an order.
package currency

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Snapshot is a currency code and its exchange rate against the primary
// currency at one instant.
type Snapshot struct {
	Code string
	Rate decimal.Decimal
}

// Settings lists the primary currency and known exchange rates.
type Settings struct {
	PrimaryCode string
	Rates       map[string]decimal.Decimal
}

// Converter resolves snapshots from Settings.
type Converter struct {
	primary string
	rates   map[string]decimal.Decimal
}

// NewConverter validates settings and returns a Converter.
func NewConverter(s Settings) (*Converter, error) {
	primary, err := Normalize(s.PrimaryCode)
	if err != nil {
		return nil, errors.Wrap(err, "primary currency")
	}
	rates := make(map[string]decimal.Decimal, len(s.Rates)+1)
	for code, rate := range s.Rates {
		c, err := Normalize(code)
		if err != nil {
			return nil, errors.Wrapf(err, "currency %q", code)
		}
		if !rate.IsPositive() {
			return nil, errors.Errorf("currency %s: rate must be positive", c)
		}
		rates[c] = rate
	}
	rates[primary] = decimal.NewFromInt(1)
	return &Converter{primary: primary, rates: rates}, nil
}

// Normalize validates an ISO 4217 code and returns it upper-cased.
func Normalize(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", errors.Wrapf(err, "parse currency %q", code)
	}
	return unit.String(), nil
}

// Primary returns the primary currency code.
func (c *Converter) Primary() string {
	return c.primary
}

// Snapshot returns the rate for code. Empty or unconfigured codes fall back
// to the primary currency.
func (c *Converter) Snapshot(code string) Snapshot {
	if code != "" {
		if norm, err := Normalize(code); err == nil {
			if rate, ok := c.rates[norm]; ok {
				return Snapshot{Code: norm, Rate: rate}
			}
		}
	}
	return Snapshot{Code: c.primary, Rate: decimal.NewFromInt(1)}
}

// MinorUnits converts amount to the integer minor unit count of code, using
// the ISO rounding scale (cents for USD, none for JPY).
func MinorUnits(amount decimal.Decimal, code string) (int64, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, errors.Wrapf(err, "parse currency %q", code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return amount.Shift(int32(scale)).Round(0).IntPart(), nil
}
