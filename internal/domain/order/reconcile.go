package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/inventory"
)

// ReconcileStock retries the pending stock adjustments of an order and
// returns how many are still pending.
func (s *Service) ReconcileStock(ctx context.Context, orderID string) (int, error) {
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return 0, errors.Wrapf(err, "get order %s", orderID)
	}
	pending, err := s.Reconciliations.ListPendingReconciliations(ctx, o.ID)
	if err != nil {
		return 0, errors.Wrap(err, "list pending reconciliations")
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	remaining := 0
	for _, r := range pending {
		err := s.Inventory.Adjust(ctx, inventory.Adjustment{
			ProductID: r.ProductID,
			Delta:     r.Delta,
			Selection: r.Selection,
			Message:   "Stock reconciliation for order #" + o.CustomOrderNumber,
		})
		if err != nil {
			lg.Warn("Stock reconciliation still failing",
				zap.String("reconciliation_id", r.ID),
				zap.String("product_id", r.ProductID),
				zap.Error(err),
			)
			remaining++
			continue
		}
		if err := s.Reconciliations.ResolveReconciliation(ctx, r.ID, s.now().UTC()); err != nil {
			// Stock moved but the row stays pending; a retry would apply it twice.
			lg.Error("Failed to resolve stock reconciliation",
				zap.String("reconciliation_id", r.ID),
				zap.Error(err),
			)
			return remaining, errors.Wrapf(err, "resolve reconciliation %s", r.ID)
		}
		s.note(ctx, o, "Stock adjustment of %d for product %s reconciled", r.Delta, r.ProductID)
	}

	lg.Info("Stock reconciled", zap.Int("resolved", len(pending)-remaining), zap.Int("remaining", remaining))
	return remaining, nil
}

// PendingReconciliations lists the oldest pending stock reconciliations
// across orders.
func (s *Service) PendingReconciliations(ctx context.Context, limit int) ([]StockReconciliation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Reconciliations.ListAllPendingReconciliations(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list pending reconciliations")
	}
	return rows, nil
}
