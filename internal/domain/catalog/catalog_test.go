package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shirt() *Product {
	return &Product{
		ID: "shirt",
		Attributes: []AttributeMapping{
			{ID: 2, Name: "Color", Values: []AttributeValue{{ID: 20, Name: "Red"}, {ID: 21, Name: "Blue"}}},
			{ID: 1, Name: "Size", Values: []AttributeValue{{ID: 10, Name: "S"}, {ID: 11, Name: "M"}}},
		},
		Combinations: []AttributeCombination{
			{ID: 100, Selection: "2:21;1:11", StockQuantity: 3},
		},
	}
}

func TestSelection_RoundTrip(t *testing.T) {
	sel, err := ParseSelection(" 2:21 ; 1:11,10 ")
	require.NoError(t, err)
	assert.Equal(t, "1:10,11;2:21", sel.Encode())

	empty, err := ParseSelection("")
	require.NoError(t, err)
	assert.Empty(t, empty.Encode())
}

func TestParseSelection_Malformed(t *testing.T) {
	for _, in := range []string{"1", "a:1", "1:b"} {
		_, err := ParseSelection(in)
		assert.Error(t, err, in)
	}
}

func TestProduct_FindCombination(t *testing.T) {
	p := shirt()

	sel, err := ParseSelection("1:11;2:21")
	require.NoError(t, err)
	comb := p.FindCombination(sel)
	require.NotNil(t, comb)
	assert.Equal(t, int64(100), comb.ID)

	other, err := ParseSelection("1:10;2:21")
	require.NoError(t, err)
	assert.Nil(t, p.FindCombination(other))
}

func TestProduct_SelectedValuesAndDescribe(t *testing.T) {
	p := shirt()
	sel, err := ParseSelection("1:11;2:20")
	require.NoError(t, err)

	values, err := p.SelectedValues(sel)
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.Equal(t, "Color: Red, Size: M", p.Describe(sel))

	bad, err := ParseSelection("3:1")
	require.NoError(t, err)
	_, err = p.SelectedValues(bad)
	assert.Error(t, err)
}

func TestProduct_TierPriceFor(t *testing.T) {
	p := &Product{TierPrices: []TierPrice{
		{Quantity: 5, Price: decimal.NewFromInt(9)},
		{Quantity: 10, Price: decimal.NewFromInt(8)},
		{Quantity: 2, Price: decimal.NewFromInt(7), CustomerRole: "wholesale"},
	}}

	_, ok := p.TierPriceFor(1, nil)
	assert.False(t, ok)

	price, ok := p.TierPriceFor(12, nil)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(8).Equal(price))

	price, ok = p.TierPriceFor(3, []string{"wholesale"})
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(7).Equal(price))
}
