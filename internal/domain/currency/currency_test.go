package currency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_Snapshot(t *testing.T) {
	c, err := NewConverter(Settings{
		PrimaryCode: "usd",
		Rates:       map[string]decimal.Decimal{"EUR": decimal.RequireFromString("0.92")},
	})
	require.NoError(t, err)

	assert.Equal(t, "USD", c.Primary())

	eur := c.Snapshot("eur")
	assert.Equal(t, "EUR", eur.Code)
	assert.True(t, decimal.RequireFromString("0.92").Equal(eur.Rate))

	fallback := c.Snapshot("GBP")
	assert.Equal(t, "USD", fallback.Code)
	assert.True(t, fallback.Rate.Equal(decimal.NewFromInt(1)))

	assert.Equal(t, "USD", c.Snapshot("not-a-code").Code)
}

func TestNewConverter_RejectsBadInput(t *testing.T) {
	_, err := NewConverter(Settings{PrimaryCode: "XXXX"})
	assert.Error(t, err)

	_, err = NewConverter(Settings{
		PrimaryCode: "USD",
		Rates:       map[string]decimal.Decimal{"EUR": decimal.Zero},
	})
	assert.Error(t, err)
}

func TestMinorUnits(t *testing.T) {
	cents, err := MinorUnits(decimal.RequireFromString("19.80"), "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(1980), cents)

	yen, err := MinorUnits(decimal.RequireFromString("1500"), "JPY")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), yen)
}
