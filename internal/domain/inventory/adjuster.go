// Package inventory applies stock deltas to products and attribute
// combinations and evaluates low-stock policy.
package inventory

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/catalog"
)

// ErrConcurrentUpdate is returned when a stock write keeps losing races
// after every retry.
var ErrConcurrentUpdate = errors.New("concurrent inventory update")

// HistoryEntry is one append-only stock quantity change.
type HistoryEntry struct {
	ID            string
	ProductID     string
	CombinationID int64
	Adjustment    int
	StockQuantity int
	Message       string
	CreatedAt     time.Time
}

// HistoryRepository appends stock history.
type HistoryRepository interface {
	Append(ctx context.Context, e *HistoryEntry) error
}

// Notifier is told about stock events that need an admin or customer email.
type Notifier interface {
	NotifyLowStock(ctx context.Context, p *catalog.Product, c *catalog.AttributeCombination, quantity int) error
	NotifyBackInStock(ctx context.Context, p *catalog.Product, c *catalog.AttributeCombination) error
}

// TxRunner runs fn inside a transaction carried by ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Settings configures the Adjuster.
type Settings struct {
	// AutoRepublish reverses the low-stock activity once stock rises back
	// above the minimum.
	AutoRepublish bool
	// MaxRetries bounds optimistic retries per adjustment.
	MaxRetries int
	// MaxBundleDepth bounds recursion into associated products.
	MaxBundleDepth int
}

// Adjustment describes one stock change.
type Adjustment struct {
	ProductID string
	Delta     int
	Selection string
	Message   string
}

// Adjuster applies stock deltas.
type Adjuster struct {
	products catalog.Repository
	history  HistoryRepository
	notifier Notifier
	tx       TxRunner
	settings Settings
	handlers map[catalog.InventoryMode]modeHandler
	now      func() time.Time
	newID    func() string
}

// NewAdjuster creates an Adjuster.
func NewAdjuster(
	products catalog.Repository,
	history HistoryRepository,
	notifier Notifier,
	tx TxRunner,
	settings Settings,
) *Adjuster {
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = 3
	}
	if settings.MaxBundleDepth <= 0 {
		settings.MaxBundleDepth = 3
	}
	return &Adjuster{
		products: products,
		history:  history,
		notifier: notifier,
		tx:       tx,
		settings: settings,
		handlers: map[catalog.InventoryMode]modeHandler{
			catalog.InventoryNone:       untracked{},
			catalog.InventoryStock:      productStock{autoRepublish: settings.AutoRepublish},
			catalog.InventoryAttributes: combinationStock{},
		},
		now:   time.Now,
		newID: func() string { return ulid.Make().String() },
	}
}

// Adjust applies a.Delta to the product, or to the combination matching
// a.Selection, then recurses into associated products of the selection.
// The product and every associated product commit in one transaction: on
// error no stock has moved. Adjust retries the whole tree on stale reads,
// so it must not run inside a caller's transaction.
func (a *Adjuster) Adjust(ctx context.Context, adj Adjustment) error {
	if adj.Delta == 0 {
		return nil
	}
	lg := zctx.From(ctx)

	for attempt := 0; attempt <= a.settings.MaxRetries; attempt++ {
		var applied []appliedChange
		err := a.tx.RunInTx(ctx, func(ctx context.Context) error {
			applied = applied[:0]
			return a.adjust(ctx, adj, 0, &applied)
		})
		if errors.Is(err, catalog.ErrStaleVersion) {
			lg.Debug("Stale inventory read, retrying",
				zap.String("product_id", adj.ProductID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return err
		}
		for _, c := range applied {
			a.notify(ctx, c.product, c.change, c.delta)
		}
		return nil
	}
	return errors.Wrapf(ErrConcurrentUpdate, "product %s", adj.ProductID)
}

// appliedChange is a written change waiting for its notifications.
type appliedChange struct {
	product *catalog.Product
	change  *change
	delta   int
}

func (a *Adjuster) adjust(ctx context.Context, adj Adjustment, depth int, applied *[]appliedChange) error {
	if adj.Delta == 0 {
		return nil
	}

	p, err := a.adjustOne(ctx, adj, applied)
	if err != nil {
		return err
	}

	if depth >= a.settings.MaxBundleDepth {
		return nil
	}
	sel, err := catalog.ParseSelection(adj.Selection)
	if err != nil {
		return errors.Wrapf(err, "product %s", adj.ProductID)
	}
	values, err := p.SelectedValues(sel)
	if err != nil {
		return errors.Wrapf(err, "product %s", adj.ProductID)
	}
	for _, v := range values {
		if v.Type != catalog.ValueAssociatedToProduct || v.AssociatedProductID == "" {
			continue
		}
		qty := v.Quantity
		if qty <= 0 {
			qty = 1
		}
		err := a.adjust(ctx, Adjustment{
			ProductID: v.AssociatedProductID,
			Delta:     adj.Delta * qty,
			Message:   adj.Message,
		}, depth+1, applied)
		if err != nil {
			return errors.Wrapf(err, "associated product %s", v.AssociatedProductID)
		}
	}
	return nil
}

// adjustOne writes one product's stock and history inside the running
// transaction.
func (a *Adjuster) adjustOne(ctx context.Context, adj Adjustment, applied *[]appliedChange) (*catalog.Product, error) {
	p, err := a.products.GetByID(ctx, adj.ProductID)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", adj.ProductID)
	}
	h, ok := a.handlers[p.Inventory.Mode]
	if !ok {
		return nil, errors.Errorf("product %s: unknown inventory mode %q", p.ID, p.Inventory.Mode)
	}
	ch, err := h.apply(p, adj.Delta, adj.Selection)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return p, nil
	}
	if err := h.save(ctx, a.products, p, ch); err != nil {
		return nil, err
	}
	err = a.history.Append(ctx, &HistoryEntry{
		ID:            a.newID(),
		ProductID:     p.ID,
		CombinationID: ch.combinationID(),
		Adjustment:    adj.Delta,
		StockQuantity: ch.current,
		Message:       adj.Message,
		CreatedAt:     a.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	*applied = append(*applied, appliedChange{product: p, change: ch, delta: adj.Delta})
	return p, nil
}

// notify delivers stock notifications. Delivery failures are logged only.
func (a *Adjuster) notify(ctx context.Context, p *catalog.Product, ch *change, delta int) {
	lg := zctx.From(ctx)
	if delta < 0 && ch.current < ch.notifyBelow {
		if err := a.notifier.NotifyLowStock(ctx, p, ch.combination, ch.current); err != nil {
			lg.Warn("Low stock notification failed", zap.String("product_id", p.ID), zap.Error(err))
		}
	}
	if ch.previous <= 0 && ch.current > 0 && p.Inventory.AllowBackInStockSubscribers {
		if err := a.notifier.NotifyBackInStock(ctx, p, ch.combination); err != nil {
			lg.Warn("Back in stock notification failed", zap.String("product_id", p.ID), zap.Error(err))
		}
	}
}
