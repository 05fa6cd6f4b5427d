package catalog

import (
	"sort"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// AttributeValueType distinguishes plain values from values that bundle
// another product.
type AttributeValueType string

const (
	ValueSimple              AttributeValueType = "simple"
	ValueAssociatedToProduct AttributeValueType = "associated_to_product"
)

// AttributeMapping is one configurable attribute of a product, such as size.
type AttributeMapping struct {
	ID     int64
	Name   string
	Values []AttributeValue
}

// AttributeValue is one selectable option of an attribute mapping.
type AttributeValue struct {
	ID                  int64
	Name                string
	Type                AttributeValueType
	PriceAdjustment     decimal.Decimal
	UsePercentage       bool
	Cost                decimal.Decimal
	AssociatedProductID string
	// Quantity is the number of associated product units in one bundle.
	Quantity int
}

// AttributeCombination is a SKU-level variant with its own stock.
type AttributeCombination struct {
	ID                          int64
	Selection                   string
	SKU                         string
	StockQuantity               int
	AllowOutOfStockOrders       bool
	NotifyAdminForQuantityBelow int
	OverriddenPrice             *decimal.Decimal
	Version                     int64
}

// Selection is a parsed attribute selection: mapping id to chosen value ids.
type Selection map[int64][]int64

// ParseSelection decodes the "mapping:value,value;mapping:value" form.
// The empty string is an empty selection.
func ParseSelection(s string) (Selection, error) {
	sel := make(Selection)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mappingStr, valuesStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, errors.Errorf("malformed attribute selection %q", part)
		}
		mappingID, err := strconv.ParseInt(strings.TrimSpace(mappingStr), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse attribute id %q", mappingStr)
		}
		for _, v := range strings.Split(valuesStr, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			valueID, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parse attribute value %q", v)
			}
			sel[mappingID] = append(sel[mappingID], valueID)
		}
	}
	return sel, nil
}

// Encode returns the canonical encoded form with sorted ids, so equal
// selections always encode identically.
func (s Selection) Encode() string {
	mappingIDs := make([]int64, 0, len(s))
	for id := range s {
		mappingIDs = append(mappingIDs, id)
	}
	sort.Slice(mappingIDs, func(i, j int) bool { return mappingIDs[i] < mappingIDs[j] })

	var sb strings.Builder
	for _, id := range mappingIDs {
		values := append([]int64(nil), s[id]...)
		if len(values) == 0 {
			continue
		}
		sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
		if sb.Len() > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(strconv.FormatInt(id, 10))
		sb.WriteByte(':')
		for i, v := range values {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.FormatInt(v, 10))
		}
	}
	return sb.String()
}

// SelectedValues resolves a selection against the product's attributes.
func (p *Product) SelectedValues(sel Selection) ([]AttributeValue, error) {
	var out []AttributeValue
	for _, m := range p.Attributes {
		for _, valueID := range sel[m.ID] {
			v, ok := m.value(valueID)
			if !ok {
				return nil, errors.Errorf("attribute %q has no value %d", m.Name, valueID)
			}
			out = append(out, v)
		}
	}
	for mappingID := range sel {
		if _, ok := p.mapping(mappingID); !ok {
			return nil, errors.Errorf("product %s has no attribute %d", p.ID, mappingID)
		}
	}
	return out, nil
}

// FindCombination returns the combination matching sel, or nil.
func (p *Product) FindCombination(sel Selection) *AttributeCombination {
	want := sel.Encode()
	for i := range p.Combinations {
		c := &p.Combinations[i]
		parsed, err := ParseSelection(c.Selection)
		if err != nil {
			continue
		}
		if parsed.Encode() == want {
			return c
		}
	}
	return nil
}

// Describe renders a human-readable selection, e.g. "Size: M, Color: Red".
func (p *Product) Describe(sel Selection) string {
	var parts []string
	for _, m := range p.Attributes {
		for _, valueID := range sel[m.ID] {
			if v, ok := m.value(valueID); ok {
				parts = append(parts, m.Name+": "+v.Name)
			}
		}
	}
	return strings.Join(parts, ", ")
}

func (p *Product) mapping(id int64) (AttributeMapping, bool) {
	for _, m := range p.Attributes {
		if m.ID == id {
			return m, true
		}
	}
	return AttributeMapping{}, false
}

func (m AttributeMapping) value(id int64) (AttributeValue, bool) {
	for _, v := range m.Values {
		if v.ID == id {
			return v, true
		}
	}
	return AttributeValue{}, false
}
