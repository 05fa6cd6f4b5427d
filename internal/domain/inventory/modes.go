package inventory

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-orders/internal/domain/catalog"
)

// change is the in-memory result of applying a delta, written in one
// versioned update.
type change struct {
	combination *catalog.AttributeCombination
	previous    int
	current     int
	notifyBelow int
}

func (c *change) combinationID() int64 {
	if c.combination == nil {
		return 0
	}
	return c.combination.ID
}

// modeHandler implements one inventory tracking mode.
type modeHandler interface {
	// apply mutates p in memory. A nil change means nothing is tracked.
	apply(p *catalog.Product, delta int, selection string) (*change, error)
	save(ctx context.Context, repo catalog.Repository, p *catalog.Product, c *change) error
}

type untracked struct{}

func (untracked) apply(*catalog.Product, int, string) (*change, error) {
	return nil, nil
}

func (untracked) save(context.Context, catalog.Repository, *catalog.Product, *change) error {
	return nil
}

type productStock struct {
	autoRepublish bool
}

func (h productStock) apply(p *catalog.Product, delta int, _ string) (*change, error) {
	inv := &p.Inventory
	prev := inv.StockQuantity
	inv.StockQuantity += delta

	switch {
	case delta < 0 && inv.StockQuantity <= inv.MinStockQuantity:
		switch inv.LowStockActivity {
		case catalog.LowStockDisableBuyButton:
			p.DisableBuyButton = true
		case catalog.LowStockUnpublish:
			p.Published = false
		}
	case delta > 0 && h.autoRepublish && prev <= inv.MinStockQuantity && inv.StockQuantity > inv.MinStockQuantity:
		switch inv.LowStockActivity {
		case catalog.LowStockDisableBuyButton:
			p.DisableBuyButton = false
		case catalog.LowStockUnpublish:
			p.Published = true
		}
	}

	return &change{
		previous:    prev,
		current:     inv.StockQuantity,
		notifyBelow: inv.NotifyAdminForQuantityBelow,
	}, nil
}

func (productStock) save(ctx context.Context, repo catalog.Repository, p *catalog.Product, _ *change) error {
	if err := repo.UpdateInventory(ctx, p); err != nil {
		return errors.Wrapf(err, "update product %s stock", p.ID)
	}
	return nil
}

type combinationStock struct{}

func (combinationStock) apply(p *catalog.Product, delta int, selection string) (*change, error) {
	sel, err := catalog.ParseSelection(selection)
	if err != nil {
		return nil, errors.Wrapf(err, "product %s", p.ID)
	}
	comb := p.FindCombination(sel)
	if comb == nil {
		return nil, errors.Wrapf(catalog.ErrCombinationNotFound, "product %s selection %q", p.ID, selection)
	}
	prev := comb.StockQuantity
	comb.StockQuantity += delta
	return &change{
		combination: comb,
		previous:    prev,
		current:     comb.StockQuantity,
		notifyBelow: comb.NotifyAdminForQuantityBelow,
	}, nil
}

func (combinationStock) save(ctx context.Context, repo catalog.Repository, p *catalog.Product, c *change) error {
	if err := repo.UpdateCombinationStock(ctx, p.ID, c.combination); err != nil {
		return errors.Wrapf(err, "update product %s combination %d stock", p.ID, c.combination.ID)
	}
	return nil
}
