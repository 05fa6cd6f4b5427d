// Package jobs runs scheduled maintenance over placed orders.
package jobs

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/order"
)

// Reconciler is the part of order.Service the reconciliation job uses.
type Reconciler interface {
	PendingReconciliations(ctx context.Context, limit int) ([]order.StockReconciliation, error)
	ReconcileStock(ctx context.Context, orderID string) (int, error)
}

// ReconcileReport is the result of one reconciliation run.
type ReconcileReport struct {
	Pending   int
	Orders    int
	Remaining int
	Oldest    time.Duration
}

// StockReconciliation reports pending post-commit stock adjustments and,
// when Retry is set, replays them per order.
type StockReconciliation struct {
	svc   Reconciler
	lg    *zap.Logger
	limit int
	retry bool
	now   func() time.Time
}

// NewStockReconciliation creates the job.
func NewStockReconciliation(svc Reconciler, lg *zap.Logger, limit int, retry bool) *StockReconciliation {
	return &StockReconciliation{svc: svc, lg: lg, limit: limit, retry: retry, now: time.Now}
}

// Run executes one pass.
func (j *StockReconciliation) Run(ctx context.Context) (ReconcileReport, error) {
	rows, err := j.svc.PendingReconciliations(ctx, j.limit)
	if err != nil {
		return ReconcileReport{}, errors.Wrap(err, "list pending reconciliations")
	}

	var (
		report = ReconcileReport{Pending: len(rows)}
		orders []string
		seen   = make(map[string]bool)
	)
	for _, r := range rows {
		if age := j.now().Sub(r.CreatedAt); age > report.Oldest {
			report.Oldest = age
		}
		if !seen[r.OrderID] {
			seen[r.OrderID] = true
			orders = append(orders, r.OrderID)
		}
	}
	report.Orders = len(orders)
	report.Remaining = report.Pending

	if j.retry {
		report.Remaining = 0
		for _, id := range orders {
			left, err := j.svc.ReconcileStock(ctx, id)
			if err != nil {
				j.lg.Error("Stock reconciliation failed", zap.String("order_id", id), zap.Error(err))
				left = countFor(rows, id)
			}
			report.Remaining += left
		}
	}

	lvl := zap.InfoLevel
	if report.Remaining > 0 {
		lvl = zap.WarnLevel
	}
	j.lg.Log(lvl, "Pending stock reconciliations",
		zap.Int("pending", report.Pending),
		zap.Int("orders", report.Orders),
		zap.Int("remaining", report.Remaining),
		zap.Duration("oldest", report.Oldest),
	)
	return report, nil
}

func countFor(rows []order.StockReconciliation, orderID string) int {
	n := 0
	for _, r := range rows {
		if r.OrderID == orderID {
			n++
		}
	}
	return n
}
