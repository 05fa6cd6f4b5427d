// Package cart holds checkout cart lines and their placement-time validation.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/catalog"
)

// Line is one cart entry. Lines are ephemeral and only live until checkout.
type Line struct {
	ID                   string
	CustomerID           string
	StoreID              string
	ProductID            string
	Quantity             int
	Selection            string
	CustomerEnteredPrice decimal.Decimal
	RentalStart          *time.Time
	RentalEnd            *time.Time
	CreatedAt            time.Time

	// Product is resolved from the catalog before pricing or validation.
	Product *catalog.Product
}

// Repository reads and removes cart lines.
type Repository interface {
	ListByCustomer(ctx context.Context, customerID, storeID string) ([]Line, error)
	DeleteLines(ctx context.Context, ids []string) error
}

// LineError describes why a line cannot be ordered.
type LineError struct {
	LineID    string
	ProductID string
	Reason    string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("product %s: %s", e.ProductID, e.Reason)
}

// Validate re-checks a line against current catalog state and returns every
// problem found. Stock is checked across the whole cart by ValidateStock.
func Validate(l *Line) []error {
	fail := func(format string, args ...any) error {
		return &LineError{LineID: l.ID, ProductID: l.ProductID, Reason: fmt.Sprintf(format, args...)}
	}

	p := l.Product
	if p == nil {
		return []error{fail("product not found")}
	}

	var errs []error
	if l.Quantity <= 0 {
		errs = append(errs, fail("quantity must be greater than 0"))
	}
	if !p.Purchasable() {
		errs = append(errs, fail("product is not available for purchase"))
	}
	if p.OrderMinimumQuantity > 0 && l.Quantity < p.OrderMinimumQuantity {
		errs = append(errs, fail("minimum quantity is %d", p.OrderMinimumQuantity))
	}
	if p.OrderMaximumQuantity > 0 && l.Quantity > p.OrderMaximumQuantity {
		errs = append(errs, fail("maximum quantity is %d", p.OrderMaximumQuantity))
	}

	if p.CustomerEntersPrice {
		price := l.CustomerEnteredPrice
		if price.LessThan(p.MinimumCustomerEnteredPrice) ||
			(p.MaximumCustomerEnteredPrice.IsPositive() && price.GreaterThan(p.MaximumCustomerEnteredPrice)) {
			errs = append(errs, fail("entered price must be between %s and %s",
				p.MinimumCustomerEnteredPrice.StringFixed(2), p.MaximumCustomerEnteredPrice.StringFixed(2)))
		}
	}

	if p.IsRental {
		if l.RentalStart == nil || l.RentalEnd == nil || !l.RentalEnd.After(*l.RentalStart) {
			errs = append(errs, fail("rental period is invalid"))
		}
	}

	sel, err := catalog.ParseSelection(l.Selection)
	if err != nil {
		return append(errs, fail("invalid attribute selection"))
	}
	if _, err := p.SelectedValues(sel); err != nil {
		errs = append(errs, fail("%s", err.Error()))
	}

	if p.Inventory.Mode == catalog.InventoryAttributes && p.FindCombination(sel) == nil {
		errs = append(errs, fail("selected attribute combination is not available"))
	}

	return errs
}

// ComponentIDs returns the associated products the lines' selections draw
// stock from, each once.
func ComponentIDs(lines []Line) []string {
	seen := make(map[string]bool)
	var ids []string
	for i := range lines {
		for _, v := range associated(&lines[i]) {
			if !seen[v.AssociatedProductID] {
				seen[v.AssociatedProductID] = true
				ids = append(ids, v.AssociatedProductID)
			}
		}
	}
	return ids
}

func associated(l *Line) []catalog.AttributeValue {
	if l.Product == nil {
		return nil
	}
	sel, err := catalog.ParseSelection(l.Selection)
	if err != nil {
		return nil
	}
	values, err := l.Product.SelectedValues(sel)
	if err != nil {
		return nil
	}
	var out []catalog.AttributeValue
	for _, v := range values {
		if v.Type == catalog.ValueAssociatedToProduct && v.AssociatedProductID != "" {
			out = append(out, v)
		}
	}
	return out
}

type stockKey struct {
	productID     string
	combinationID int64
}

type stockDemand struct {
	lineID   string
	product  *catalog.Product
	comb     *catalog.AttributeCombination
	quantity int
}

// ValidateStock sums what every line takes from each product, combination
// and bundle component, then compares each sum against stock. components
// holds the associated products by id. Problems Validate reports for a line
// are skipped here.
func ValidateStock(lines []Line, components map[string]*catalog.Product) []error {
	var (
		order  []stockKey
		demand = make(map[stockKey]*stockDemand)
		errs   []error
	)
	take := func(lineID string, p *catalog.Product, comb *catalog.AttributeCombination, qty int) {
		k := stockKey{productID: p.ID}
		if comb != nil {
			k.combinationID = comb.ID
		}
		d, ok := demand[k]
		if !ok {
			d = &stockDemand{lineID: lineID, product: p, comb: comb}
			demand[k] = d
			order = append(order, k)
		}
		d.quantity += qty
	}

	for i := range lines {
		l := &lines[i]
		p := l.Product
		if p == nil || l.Quantity <= 0 {
			continue
		}
		sel, err := catalog.ParseSelection(l.Selection)
		if err != nil {
			continue
		}
		switch p.Inventory.Mode {
		case catalog.InventoryStock:
			take(l.ID, p, nil, l.Quantity)
		case catalog.InventoryAttributes:
			if comb := p.FindCombination(sel); comb != nil {
				take(l.ID, p, comb, l.Quantity)
			}
		}

		for _, v := range associated(l) {
			cp, ok := components[v.AssociatedProductID]
			if !ok {
				errs = append(errs, &LineError{LineID: l.ID, ProductID: v.AssociatedProductID, Reason: "associated product not found"})
				continue
			}
			switch cp.Inventory.Mode {
			case catalog.InventoryAttributes:
				errs = append(errs, &LineError{LineID: l.ID, ProductID: cp.ID, Reason: "associated product needs an attribute selection"})
				continue
			case catalog.InventoryNone:
				continue
			}
			qty := v.Quantity
			if qty <= 0 {
				qty = 1
			}
			take(l.ID, cp, nil, l.Quantity*qty)
		}
	}

	for _, k := range order {
		d := demand[k]
		if d.comb != nil {
			if !d.comb.AllowOutOfStockOrders && d.comb.StockQuantity < d.quantity {
				errs = append(errs, &LineError{
					LineID:    d.lineID,
					ProductID: d.product.ID,
					Reason:    fmt.Sprintf("only %d item(s) in stock for the selected combination", max(d.comb.StockQuantity, 0)),
				})
			}
			continue
		}
		if !d.product.Inventory.AllowBackorder && d.product.Inventory.StockQuantity < d.quantity {
			errs = append(errs, &LineError{
				LineID:    d.lineID,
				ProductID: d.product.ID,
				Reason:    fmt.Sprintf("only %d item(s) in stock", max(d.product.Inventory.StockQuantity, 0)),
			})
		}
	}
	return errs
}

// IsRecurring reports whether any line holds a recurring product.
func IsRecurring(lines []Line) bool {
	for i := range lines {
		if p := lines[i].Product; p != nil && p.IsRecurring {
			return true
		}
	}
	return false
}

// RequiresShipping reports whether any line must be shipped.
func RequiresShipping(lines []Line) bool {
	for i := range lines {
		if p := lines[i].Product; p != nil && p.IsShipEnabled {
			return true
		}
	}
	return false
}
