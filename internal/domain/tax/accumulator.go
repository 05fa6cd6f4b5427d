// Package tax accumulates tax amounts per rate and prices taxable items.
package tax

import (
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Rate is a single tax bucket: the rate in percent and the tax amount
// collected at that rate.
type Rate struct {
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

// Accumulator maps a tax rate to an accumulated tax amount. Rates are keyed
// by their exact decimal value, so 10 and 10.00 share a bucket.
type Accumulator struct {
	buckets map[string]Rate
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{buckets: make(map[string]Rate)}
}

func key(rate decimal.Decimal) string {
	return rate.String()
}

// Add merges amount into the bucket for rate.
func (a *Accumulator) Add(rate, amount decimal.Decimal) {
	k := key(rate)
	b, ok := a.buckets[k]
	if !ok {
		b = Rate{Rate: rate, Amount: decimal.Zero}
	}
	b.Amount = b.Amount.Add(amount)
	a.buckets[k] = b
}

// Merge adds every bucket of other into a.
func (a *Accumulator) Merge(other *Accumulator) {
	if other == nil {
		return
	}
	for _, b := range other.buckets {
		a.Add(b.Rate, b.Amount)
	}
}

// Clone returns an independent copy of a.
func (a *Accumulator) Clone() *Accumulator {
	c := NewAccumulator()
	c.Merge(a)
	return c
}

// Len returns the number of distinct rates.
func (a *Accumulator) Len() int {
	return len(a.buckets)
}

// Get returns the raw accumulated amount for rate.
func (a *Accumulator) Get(rate decimal.Decimal) decimal.Decimal {
	if b, ok := a.buckets[key(rate)]; ok {
		return b.Amount
	}
	return decimal.Zero
}

// Rates returns the buckets ordered by rate. Negative amounts are floored to
// zero, and an empty accumulator yields a single (0, 0) bucket.
func (a *Accumulator) Rates() []Rate {
	if len(a.buckets) == 0 {
		return []Rate{{Rate: decimal.Zero, Amount: decimal.Zero}}
	}
	out := make([]Rate, 0, len(a.buckets))
	for _, b := range a.buckets {
		out = append(out, Rate{Rate: b.Rate, Amount: floorAtZero(b.Amount)})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Rate.LessThan(out[j].Rate)
	})
	return out
}

// Total returns the sum of all buckets after flooring.
func (a *Accumulator) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, b := range a.buckets {
		sum = sum.Add(floorAtZero(b.Amount))
	}
	return sum
}

// Format serializes rates as "rate:amount;" pairs, the form stored on orders.
func Format(rates []Rate) string {
	var sb strings.Builder
	for _, r := range rates {
		sb.WriteString(r.Rate.String())
		sb.WriteByte(':')
		sb.WriteString(r.Amount.StringFixed(2))
		sb.WriteByte(';')
	}
	return sb.String()
}

// Parse is the inverse of Format.
func Parse(s string) ([]Rate, error) {
	var out []Rate
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		rateStr, amountStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, errors.Errorf("malformed tax rate entry %q", part)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(rateStr))
		if err != nil {
			return nil, errors.Wrapf(err, "parse rate %q", rateStr)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(amountStr))
		if err != nil {
			return nil, errors.Wrapf(err, "parse amount %q", amountStr)
		}
		out = append(out, Rate{Rate: rate, Amount: amount})
	}
	return out, nil
}

// Accumulate builds an Accumulator from parsed rates.
func Accumulate(rates []Rate) *Accumulator {
	a := NewAccumulator()
	for _, r := range rates {
		a.Add(r.Rate, r.Amount)
	}
	return a
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
