package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/discount"
)

func TestReadSeed(t *testing.T) {
	s, err := readSeed("../../db/seed/seed.json")
	require.NoError(t, err)

	require.Len(t, s.Products, 3)
	waffle := s.Products[0]
	assert.Equal(t, "waffle", waffle.ID)
	assert.Equal(t, "6.5", waffle.Price.String())
	assert.Equal(t, catalog.InventoryStock, waffle.Inventory.Mode)
	assert.Equal(t, catalog.LowStockDisableBuyButton, waffle.Inventory.LowStockActivity)
	require.Len(t, s.Products[1].TierPrices, 1)
	assert.True(t, s.Products[2].IsGiftCard)

	require.Len(t, s.Customers, 1)
	require.NotNil(t, s.Customers[0].BillingAddress)
	assert.Equal(t, "US", s.Customers[0].BillingAddress.CountryCode)
	assert.False(t, s.Countries[2].AllowsShipping)

	require.Len(t, s.Discounts, 3)
	assert.Equal(t, discount.ScopeShipping, s.Discounts[2].Scope)
	assert.Equal(t, discount.NTimesPerCustomer, s.Discounts[1].Limitation)
	assert.Equal(t, []string{"registered"}, s.Discounts[1].RequiredRoles)
}

func TestReadSeed_Missing(t *testing.T) {
	_, err := readSeed("does-not-exist.json")
	assert.ErrorContains(t, err, "read seed file")
}
