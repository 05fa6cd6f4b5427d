// Package catalog holds the product model consumed by order placement:
// pricing inputs, attribute selections and inventory settings.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrStaleVersion is returned when an optimistic inventory update loses
	// a race with a concurrent writer.
	ErrStaleVersion = errors.New("stale product version")
	// ErrCombinationNotFound is returned when an attribute selection has no
	// matching combination.
	ErrCombinationNotFound = errors.New("attribute combination not found")
)

// InventoryMode selects how stock is tracked for a product.
type InventoryMode string

const (
	// InventoryNone disables stock tracking.
	InventoryNone InventoryMode = "none"
	// InventoryStock tracks a single stock quantity on the product.
	InventoryStock InventoryMode = "stock"
	// InventoryAttributes tracks stock per attribute combination.
	InventoryAttributes InventoryMode = "attributes"
)

// LowStockActivity is applied when stock falls to the minimum threshold.
type LowStockActivity string

const (
	LowStockNothing          LowStockActivity = "nothing"
	LowStockDisableBuyButton LowStockActivity = "disable_buy_button"
	LowStockUnpublish        LowStockActivity = "unpublish"
)

// Inventory holds the stock settings and current quantity of a product.
type Inventory struct {
	Mode                        InventoryMode
	StockQuantity               int
	MinStockQuantity            int
	LowStockActivity            LowStockActivity
	NotifyAdminForQuantityBelow int
	AllowBackorder              bool
	AllowBackInStockSubscribers bool
}

// Product is a sellable catalog item.
type Product struct {
	ID          string
	Name        string
	SKU         string
	Price       decimal.Decimal
	Cost        decimal.Decimal
	TaxCategory string
	IsTaxExempt bool

	CustomerEntersPrice         bool
	MinimumCustomerEnteredPrice decimal.Decimal
	MaximumCustomerEnteredPrice decimal.Decimal

	IsGiftCard    bool
	IsRecurring   bool
	IsShipEnabled bool
	IsRental      bool
	// RentalPeriodDays is the length of one priced rental period.
	RentalPeriodDays int

	Published        bool
	DisableBuyButton bool
	Deleted          bool

	OrderMinimumQuantity int
	OrderMaximumQuantity int

	Inventory    Inventory
	Attributes   []AttributeMapping
	Combinations []AttributeCombination
	TierPrices   []TierPrice

	// Version is bumped on every inventory write.
	Version   int64
	UpdatedAt time.Time
}

// TierPrice overrides the unit price from a quantity threshold up.
type TierPrice struct {
	Quantity     int
	Price        decimal.Decimal
	CustomerRole string
}

// CheckoutAttribute is a cart-level option that can carry a surcharge.
type CheckoutAttribute struct {
	ID              int64
	Name            string
	Value           string
	PriceAdjustment decimal.Decimal
	TaxCategory     string
	IsTaxExempt     bool
}

// Repository provides product reads and versioned inventory writes.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// UpdateInventory persists stock quantity and the published and buy
	// button flags if p.Version still matches, bumping p.Version.
	UpdateInventory(ctx context.Context, p *Product) error
	// UpdateCombinationStock persists a combination's stock quantity if its
	// version still matches, bumping c.Version.
	UpdateCombinationStock(ctx context.Context, productID string, c *AttributeCombination) error
}

// TierPriceFor returns the best applicable tier price for qty, if any.
func (p *Product) TierPriceFor(qty int, roles []string) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		found bool
	)
	for _, tp := range p.TierPrices {
		if qty < tp.Quantity {
			continue
		}
		if tp.CustomerRole != "" && !contains(roles, tp.CustomerRole) {
			continue
		}
		if !found || tp.Price.LessThan(best) {
			best = tp.Price
			found = true
		}
	}
	return best, found
}

// Purchasable reports whether the product can be ordered at all.
func (p *Product) Purchasable() bool {
	return p.Published && !p.Deleted && !p.DisableBuyButton
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
