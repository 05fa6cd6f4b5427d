package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/payment"
)

func (s *Service) gatewayFor(o *Order) payment.Gateway {
	if o.PaymentMethod == "" {
		return nil
	}
	gw, err := s.Gateways.Get(o.PaymentMethod)
	if err != nil {
		return nil
	}
	return gw
}

func isOpen(o *Order) bool {
	return !o.Deleted && o.Status != StatusCancelled
}

// CanCapture reports whether an authorized payment can be captured online.
func (s *Service) CanCapture(o *Order) bool {
	if !isOpen(o) || o.Status == StatusPending || o.PaymentStatus != payment.StatusAuthorized {
		return false
	}
	gw := s.gatewayFor(o)
	return gw != nil && gw.SupportsCapture()
}

// CanMarkAsPaid reports whether the order can be marked paid offline.
func (s *Service) CanMarkAsPaid(o *Order) bool {
	if !isOpen(o) {
		return false
	}
	return o.PaymentStatus == payment.StatusPending || o.PaymentStatus == payment.StatusAuthorized
}

// CanMarkAsAuthorized reports whether a pending payment can be marked
// authorized offline.
func (s *Service) CanMarkAsAuthorized(o *Order) bool {
	return isOpen(o) && o.PaymentStatus == payment.StatusPending
}

// CanRefund reports whether the full total can be refunded online.
func (s *Service) CanRefund(o *Order) bool {
	if !s.CanRefundOffline(o) {
		return false
	}
	gw := s.gatewayFor(o)
	return gw != nil && gw.SupportsRefund()
}

// CanRefundOffline reports whether the full total can be marked refunded.
func (s *Service) CanRefundOffline(o *Order) bool {
	return !o.Deleted &&
		o.Total.IsPositive() &&
		o.RefundedAmount.IsZero() &&
		o.PaymentStatus == payment.StatusPaid
}

// CanPartiallyRefund reports whether amount can be refunded online.
func (s *Service) CanPartiallyRefund(o *Order, amount decimal.Decimal) bool {
	if !s.CanPartiallyRefundOffline(o, amount) {
		return false
	}
	gw := s.gatewayFor(o)
	return gw != nil && gw.SupportsPartialRefund()
}

// CanPartiallyRefundOffline reports whether amount can be marked refunded.
func (s *Service) CanPartiallyRefundOffline(o *Order, amount decimal.Decimal) bool {
	if o.Deleted || !o.Total.IsPositive() || !amount.IsPositive() {
		return false
	}
	if amount.GreaterThan(o.RefundableAmount()) {
		return false
	}
	return o.PaymentStatus == payment.StatusPaid || o.PaymentStatus == payment.StatusPartiallyRefunded
}

// CanVoid reports whether an authorization can be voided online.
func (s *Service) CanVoid(o *Order) bool {
	if !s.CanVoidOffline(o) {
		return false
	}
	gw := s.gatewayFor(o)
	return gw != nil && gw.SupportsVoid()
}

// CanVoidOffline reports whether an authorization can be marked voided.
func (s *Service) CanVoidOffline(o *Order) bool {
	return !o.Deleted && o.Total.IsPositive() && o.PaymentStatus == payment.StatusAuthorized
}

// Capture captures the authorized payment of an order.
func (s *Service) Capture(ctx context.Context, orderID string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.CanCapture(o) {
		return errors.Wrapf(ErrNotEligible, "capture in payment status %s", o.PaymentStatus)
	}

	res, err := s.gatewayFor(o).Capture(ctx, payment.CaptureRequest{
		OrderGUID:                  o.ID,
		Amount:                     o.Total,
		CurrencyCode:               s.Currency.Primary(),
		AuthorizationTransactionID: o.AuthorizationTransactionID,
	})
	if err == nil && res == nil {
		err = payment.ErrNoResult
	}
	if err == nil && !res.Success() {
		err = Errors(res.Errors)
	}
	if err != nil {
		return s.gatewayFailed(ctx, o, "capture", err)
	}

	next := res.NewStatus
	if !next.Valid() {
		next = payment.StatusPaid
	}
	o.CaptureTransactionID = res.CaptureTransactionID
	return s.applyPayment(ctx, o, next, decimal.Zero, "Order has been captured")
}

// MarkAsPaid records an offline payment.
func (s *Service) MarkAsPaid(ctx context.Context, orderID string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.CanMarkAsPaid(o) {
		return errors.Wrapf(ErrNotEligible, "mark as paid in payment status %s", o.PaymentStatus)
	}
	return s.applyPayment(ctx, o, payment.StatusPaid, decimal.Zero, "Order has been marked as paid")
}

// MarkAsAuthorized records an offline authorization.
func (s *Service) MarkAsAuthorized(ctx context.Context, orderID string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.CanMarkAsAuthorized(o) {
		return errors.Wrapf(ErrNotEligible, "mark as authorized in payment status %s", o.PaymentStatus)
	}
	return s.applyPayment(ctx, o, payment.StatusAuthorized, decimal.Zero, "Order has been marked as authorized")
}

// Refund refunds the whole order total through the gateway.
func (s *Service) Refund(ctx context.Context, orderID string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.CanRefund(o) {
		return errors.Wrapf(ErrNotEligible, "refund in payment status %s", o.PaymentStatus)
	}
	return s.refund(ctx, o, o.Total, false)
}

// RefundOffline marks the whole order total refunded.
func (s *Service) RefundOffline(ctx context.Context, orderID string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.CanRefundOffline(o) {
		return errors.Wrapf(ErrNotEligible, "refund offline in payment status %s", o.PaymentStatus)
	}
	return s.applyPayment(ctx, o, payment.StatusRefunded, o.Total,
		fmt.Sprintf("Order has been marked as refunded. Amount = %s", o.Total.StringFixed(2)))
}

// PartiallyRefund refunds amount through the gateway.
func (s *Service) PartiallyRefund(ctx context.Context, orderID string, amount decimal.Decimal) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.CanPartiallyRefund(o, amount) {
		return errors.Wrapf(ErrNotEligible, "partial refund of %s in payment status %s", amount, o.PaymentStatus)
	}
	return s.refund(ctx, o, amount, true)
}

// PartiallyRefundOffline marks amount refunded.
func (s *Service) PartiallyRefundOffline(ctx context.Context, orderID string, amount decimal.Decimal) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.CanPartiallyRefundOffline(o, amount) {
		return errors.Wrapf(ErrNotEligible, "partial refund of %s in payment status %s", amount, o.PaymentStatus)
	}
	return s.applyPayment(ctx, o, refundStatus(o, amount), amount,
		fmt.Sprintf("Order has been marked as partially refunded. Amount = %s", amount.StringFixed(2)))
}

// Void cancels the authorization through the gateway.
func (s *Service) Void(ctx context.Context, orderID string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.CanVoid(o) {
		return errors.Wrapf(ErrNotEligible, "void in payment status %s", o.PaymentStatus)
	}

	res, err := s.gatewayFor(o).Void(ctx, payment.VoidRequest{
		OrderGUID:                  o.ID,
		AuthorizationTransactionID: o.AuthorizationTransactionID,
	})
	if err == nil && res == nil {
		err = payment.ErrNoResult
	}
	if err == nil && !res.Success() {
		err = Errors(res.Errors)
	}
	if err != nil {
		return s.gatewayFailed(ctx, o, "void", err)
	}
	return s.applyPayment(ctx, o, payment.StatusVoided, decimal.Zero, "Order has been voided")
}

// VoidOffline marks the authorization voided.
func (s *Service) VoidOffline(ctx context.Context, orderID string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.CanVoidOffline(o) {
		return errors.Wrapf(ErrNotEligible, "void offline in payment status %s", o.PaymentStatus)
	}
	return s.applyPayment(ctx, o, payment.StatusVoided, decimal.Zero, "Order has been marked as voided")
}

func (s *Service) refund(ctx context.Context, o *Order, amount decimal.Decimal, partial bool) error {
	op := "refund"
	if partial {
		op = "partial refund"
	}
	res, err := s.gatewayFor(o).Refund(ctx, payment.RefundRequest{
		OrderGUID:            o.ID,
		Amount:               amount,
		CurrencyCode:         s.Currency.Primary(),
		CaptureTransactionID: o.CaptureTransactionID,
		IsPartial:            partial,
	})
	if err == nil && res == nil {
		err = payment.ErrNoResult
	}
	if err == nil && !res.Success() {
		err = Errors(res.Errors)
	}
	if err != nil {
		return s.gatewayFailed(ctx, o, op, err)
	}
	return s.applyPayment(ctx, o, refundStatus(o, amount), amount,
		fmt.Sprintf("Order has been refunded. Amount = %s", amount.StringFixed(2)))
}

func refundStatus(o *Order, amount decimal.Decimal) payment.Status {
	if o.RefundedAmount.Add(amount).GreaterThanOrEqual(o.Total) {
		return payment.StatusRefunded
	}
	return payment.StatusPartiallyRefunded
}

// gatewayFailed records a failed gateway call. Order state is untouched.
func (s *Service) gatewayFailed(ctx context.Context, o *Order, op string, cause error) error {
	msgs := Messages(cause)
	zctx.From(ctx).Error("Payment gateway operation failed",
		zap.String("operation", op),
		zap.String("order_id", o.ID),
		zap.Strings("errors", msgs),
	)
	s.countGatewayFailure(ctx, op)

	var errs Errors
	errs.Add(msgs...)
	s.note(ctx, o, "Unable to %s order. Error: %s", op, errs.Error())
	return errs
}

// applyPayment moves the payment status, persists it and re-runs the status
// policy.
func (s *Service) applyPayment(ctx context.Context, o *Order, next payment.Status, refunded decimal.Decimal, msg string) error {
	if o.PaymentStatus != next && !o.PaymentStatus.CanTransitionTo(next) {
		return errors.Wrapf(ErrInvalidTransition, "payment %s to %s", o.PaymentStatus, next)
	}

	prevStatus, prevRefunded := o.PaymentStatus, o.RefundedAmount
	o.PaymentStatus = next
	o.RefundedAmount = o.RefundedAmount.Add(refunded)
	if err := s.Orders.Update(ctx, o); err != nil {
		o.PaymentStatus, o.RefundedAmount = prevStatus, prevRefunded
		zctx.From(ctx).Error("Failed to persist payment status",
			zap.String("order_id", o.ID),
			zap.String("payment_status", string(next)),
			zap.Error(err),
		)
		return errors.Wrap(err, "update payment status")
	}

	zctx.From(ctx).Info("Order payment status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(prevStatus)),
		zap.String("to", string(next)),
	)
	s.note(ctx, o, "%s", msg)
	if next == payment.StatusPaid && prevStatus != payment.StatusPaid {
		s.emit(ctx, EventPaid, o, decimal.Zero)
	}
	if refunded.IsPositive() {
		s.emit(ctx, EventRefunded, o, refunded)
	}
	return s.CheckOrderStatus(ctx, o)
}
