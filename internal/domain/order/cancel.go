package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CanCancel reports whether o can still be cancelled.
func (s *Service) CanCancel(o *Order) bool {
	return !o.Deleted && o.Status.CanTransitionTo(StatusCancelled)
}

// CancelOrder cancels an order and reverses what it consumed. A non-nil
// Errors after a committed cancellation lists the side effects that failed.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.CanCancel(o) {
		return errors.Wrapf(ErrNotEligible, "cancel in status %s", o.Status)
	}

	var errs Errors
	if err := s.setStatus(ctx, o, StatusCancelled, &errs); err != nil {
		return err
	}
	return errs.Err()
}

// DeleteOrder soft-deletes an order. An order that was not cancelled is
// compensated first.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	var errs Errors
	if o.Status != StatusCancelled {
		s.compensate(ctx, o, &errs)
	}

	o.Deleted = true
	if err := s.Orders.Update(ctx, o); err != nil {
		return errors.Wrap(err, "delete order")
	}
	zctx.From(ctx).Info("Order deleted", zap.String("order_id", o.ID))
	s.note(ctx, o, "Order has been deleted")
	s.emit(ctx, EventDeleted, o, decimal.Zero)
	return errs.Err()
}
