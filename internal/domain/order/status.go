package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

// CheckOrderStatus advances o along the status axis as its payment status
// allows. Calling it again without a state change does nothing.
func (s *Service) CheckOrderStatus(ctx context.Context, o *Order) error {
	if o.PaymentStatus == payment.StatusPaid && o.PaidAt == nil {
		at := s.now().UTC()
		o.PaidAt = &at
		if err := s.Orders.Update(ctx, o); err != nil {
			o.PaidAt = nil
			return errors.Wrap(err, "set paid date")
		}
	}

	var errs Errors
	if o.Status == StatusPending &&
		(o.PaymentStatus == payment.StatusAuthorized || o.PaymentStatus == payment.StatusPaid) {
		if err := s.setStatus(ctx, o, StatusProcessing, &errs); err != nil {
			return err
		}
	}
	if o.Status != StatusCancelled && o.Status != StatusComplete && o.PaymentStatus == payment.StatusPaid {
		if err := s.setStatus(ctx, o, StatusComplete, &errs); err != nil {
			return err
		}
	}
	return errs.Err()
}

// setStatus persists a transition and runs its side effects. The returned
// error means nothing changed; side-effect failures land in errs.
func (s *Service) setStatus(ctx context.Context, o *Order, next Status, errs *Errors) error {
	prev := o.Status
	if prev == next {
		return nil
	}
	if !prev.CanTransitionTo(next) {
		return errors.Wrapf(ErrInvalidTransition, "%s to %s", prev, next)
	}

	o.Status = next
	if err := s.Orders.Update(ctx, o); err != nil {
		o.Status = prev
		return errors.Wrap(err, "update order status")
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)
	s.note(ctx, o, "Order status has been changed from %s to %s", prev, next)
	s.emit(ctx, EventStatusChanged, o, decimal.Zero)

	switch next {
	case StatusComplete:
		s.completed(ctx, o, errs)
		s.emit(ctx, EventCompleted, o, decimal.Zero)
	case StatusCancelled:
		s.compensate(ctx, o, errs)
		s.emit(ctx, EventCancelled, o, decimal.Zero)
	}
	return nil
}

func (s *Service) completed(ctx context.Context, o *Order, errs *Errors) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	if o.AwardedPointsEntryID == "" {
		var points int
		err := s.UnitOfWork.RunInTx(ctx, func(ctx context.Context) error {
			e, err := s.RewardPoints.Award(ctx, o.CustomerID, o.StoreID, o.ID, o.Total)
			if err != nil || e == nil {
				return err
			}
			o.AwardedPointsEntryID = e.ID
			points = e.Points
			return s.Orders.Update(ctx, o)
		})
		switch {
		case err != nil:
			o.AwardedPointsEntryID = ""
			lg.Error("Failed to award reward points", zap.Error(err))
			errs.Add(fmt.Sprintf("award reward points: %v", err))
		case points > 0:
			s.note(ctx, o, "Customer has been awarded %d reward points", points)
		}
	}

	if s.Settings.ActivateGiftCardsOnComplete {
		if err := s.GiftCards.SetGiftCardsActive(ctx, o.ID, true); err != nil {
			lg.Error("Failed to activate gift cards", zap.Error(err))
			errs.Add(fmt.Sprintf("activate gift cards: %v", err))
		}
	}
}

// compensate reverses what the order consumed: stock, reward points and
// gift cards. Each step is recorded on the order so it never runs twice.
func (s *Service) compensate(ctx context.Context, o *Order, errs *Errors) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	// Deltas still pending never reached stock and are not reversed.
	unapplied := make(map[string]int)
	pending, err := s.Reconciliations.ListPendingReconciliations(ctx, o.ID)
	if err != nil {
		lg.Error("Failed to list pending stock reconciliations", zap.Error(err))
		errs.Add(fmt.Sprintf("list stock reconciliations: %v", err))
		return
	}
	for _, r := range pending {
		if err := s.Reconciliations.ResolveReconciliation(ctx, r.ID, s.now().UTC()); err != nil {
			lg.Error("Failed to resolve stock reconciliation", zap.String("reconciliation_id", r.ID), zap.Error(err))
			errs.Add(fmt.Sprintf("resolve stock reconciliation %s: %v", r.ID, err))
			continue
		}
		unapplied[r.LineItemID] += r.Delta
	}

	for i := range o.Items {
		item := &o.Items[i]
		restock := item.Quantity + unapplied[item.ID]
		if restock == 0 {
			continue
		}
		adj := inventory.Adjustment{
			ProductID: item.ProductID,
			Delta:     restock,
			Selection: item.Selection,
			Message:   fmt.Sprintf("Order #%s cancelled", o.CustomOrderNumber),
		}
		if err := s.Inventory.Adjust(ctx, adj); err != nil {
			errs.Add(s.stockFault(ctx, o, item, adj, err))
		}
	}

	reduce := o.AwardedPointsEntryID != "" && o.ReducedPointsEntryID == ""
	ret := o.RedeemedPointsEntryID != "" && o.ReturnedPointsEntryID == ""
	if reduce || ret {
		prev := *o
		err := s.UnitOfWork.RunInTx(ctx, func(ctx context.Context) error {
			if reduce {
				e, err := s.RewardPoints.Reduce(ctx, o.AwardedPointsEntryID)
				if err != nil {
					return err
				}
				o.ReducedPointsEntryID = e.ID
			}
			if ret {
				e, err := s.RewardPoints.Return(ctx, o.RedeemedPointsEntryID)
				if err != nil {
					return err
				}
				o.ReturnedPointsEntryID = e.ID
			}
			return s.Orders.Update(ctx, o)
		})
		if err != nil {
			o.ReducedPointsEntryID = prev.ReducedPointsEntryID
			o.ReturnedPointsEntryID = prev.ReturnedPointsEntryID
			lg.Error("Failed to reverse reward points", zap.Error(err))
			errs.Add(fmt.Sprintf("reverse reward points: %v", err))
		} else {
			s.note(ctx, o, "Reward points of the order have been reversed")
		}
	}

	if s.Settings.DeactivateGiftCardsOnCancel {
		if err := s.GiftCards.SetGiftCardsActive(ctx, o.ID, false); err != nil {
			lg.Error("Failed to deactivate gift cards", zap.Error(err))
			errs.Add(fmt.Sprintf("deactivate gift cards: %v", err))
		}
	}
}
