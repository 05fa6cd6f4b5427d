package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/payment"
)

func TestCapture(t *testing.T) {
	h := newHarness(t)
	h.gw.status = payment.StatusAuthorized
	o := h.place(t)

	require.NoError(t, h.svc.Capture(context.Background(), o.ID))

	stored := h.orders.get(t, o.ID)
	assert.Equal(t, payment.StatusPaid, stored.PaymentStatus)
	assert.Equal(t, StatusComplete, stored.Status)
	assert.Equal(t, "cap-2", stored.CaptureTransactionID)
	assert.NotNil(t, stored.PaidAt)
	assert.Equal(t, 1, h.gw.captured)
	assert.Contains(t, h.events.kinds(), EventPaid)
	assert.Equal(t, 19, h.balance(t))

	err := h.svc.Capture(context.Background(), o.ID)
	require.ErrorIs(t, err, ErrNotEligible)
}

func TestCapture_GatewayFailureLeavesState(t *testing.T) {
	h := newHarness(t)
	h.gw.status = payment.StatusAuthorized
	h.gw.captureErrors = []string{"insufficient funds"}
	o := h.place(t)

	err := h.svc.Capture(context.Background(), o.ID)
	require.Error(t, err)
	assert.Equal(t, []string{"insufficient funds"}, Messages(err))

	stored := h.orders.get(t, o.ID)
	assert.Equal(t, payment.StatusAuthorized, stored.PaymentStatus)
	assert.Equal(t, StatusProcessing, stored.Status)
	assert.Contains(t, h.notes.texts(), "Unable to capture order. Error: insufficient funds")
}

func TestRefund(t *testing.T) {
	h := newHarness(t)
	o := h.place(t)

	require.NoError(t, h.svc.Refund(context.Background(), o.ID))

	stored := h.orders.get(t, o.ID)
	assert.Equal(t, payment.StatusRefunded, stored.PaymentStatus)
	assert.True(t, dec("19.80").Equal(stored.RefundedAmount))
	require.Len(t, h.gw.refunds, 1)
	assert.True(t, dec("19.80").Equal(h.gw.refunds[0]))

	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, EventRefunded, last.Kind)
	assert.True(t, dec("19.80").Equal(last.Amount))

	require.ErrorIs(t, h.svc.Refund(context.Background(), o.ID), ErrNotEligible)
}

func TestRefund_TransportErrorLeavesState(t *testing.T) {
	h := newHarness(t)
	h.gw.refundErr = errors.New("connection reset")
	o := h.place(t)

	err := h.svc.Refund(context.Background(), o.ID)
	require.Error(t, err)
	assert.Equal(t, []string{"connection reset"}, Messages(err))

	stored := h.orders.get(t, o.ID)
	assert.Equal(t, payment.StatusPaid, stored.PaymentStatus)
	assert.True(t, stored.RefundedAmount.IsZero())
}

func TestPartiallyRefund(t *testing.T) {
	h := newHarness(t)
	o := h.place(t)
	ctx := context.Background()

	require.NoError(t, h.svc.PartiallyRefund(ctx, o.ID, dec("5")))
	stored := h.orders.get(t, o.ID)
	assert.Equal(t, payment.StatusPartiallyRefunded, stored.PaymentStatus)
	assert.True(t, dec("5").Equal(stored.RefundedAmount))
	assert.True(t, dec("14.80").Equal(stored.RefundableAmount()))

	require.ErrorIs(t, h.svc.PartiallyRefund(ctx, o.ID, dec("15")), ErrNotEligible)
	require.ErrorIs(t, h.svc.PartiallyRefund(ctx, o.ID, dec("0")), ErrNotEligible)

	require.NoError(t, h.svc.PartiallyRefund(ctx, o.ID, dec("14.80")))
	stored = h.orders.get(t, o.ID)
	assert.Equal(t, payment.StatusRefunded, stored.PaymentStatus)
	assert.True(t, stored.RefundableAmount().IsZero())
	assert.Len(t, h.gw.refunds, 2)
}

func TestRefund_OfflineWhenGatewayCannot(t *testing.T) {
	h := newHarness(t)
	h.gw.refund = false
	h.gw.partialRefund = false
	o := h.place(t)
	ctx := context.Background()

	stored := h.orders.get(t, o.ID)
	assert.False(t, h.svc.CanRefund(stored))
	assert.True(t, h.svc.CanRefundOffline(stored))
	require.ErrorIs(t, h.svc.Refund(ctx, o.ID), ErrNotEligible)
	require.ErrorIs(t, h.svc.PartiallyRefund(ctx, o.ID, dec("1")), ErrNotEligible)

	require.NoError(t, h.svc.PartiallyRefundOffline(ctx, o.ID, dec("1")))
	assert.False(t, h.svc.CanRefundOffline(h.orders.get(t, o.ID)), "full refund needs nothing refunded yet")
	require.NoError(t, h.svc.PartiallyRefundOffline(ctx, o.ID, dec("18.80")))

	stored = h.orders.get(t, o.ID)
	assert.Equal(t, payment.StatusRefunded, stored.PaymentStatus)
	assert.Empty(t, h.gw.refunds)
}

func TestRefundOffline(t *testing.T) {
	h := newHarness(t)
	o := h.place(t)

	require.NoError(t, h.svc.RefundOffline(context.Background(), o.ID))
	stored := h.orders.get(t, o.ID)
	assert.Equal(t, payment.StatusRefunded, stored.PaymentStatus)
	assert.True(t, dec("19.80").Equal(stored.RefundedAmount))
	assert.Empty(t, h.gw.refunds)
}

func TestVoid(t *testing.T) {
	h := newHarness(t)
	h.gw.status = payment.StatusAuthorized
	o := h.place(t)

	require.NoError(t, h.svc.Void(context.Background(), o.ID))
	stored := h.orders.get(t, o.ID)
	assert.Equal(t, payment.StatusVoided, stored.PaymentStatus)
	assert.Equal(t, StatusProcessing, stored.Status)
	assert.Equal(t, 1, h.gw.voided)

	require.ErrorIs(t, h.svc.Void(context.Background(), o.ID), ErrNotEligible)
}

func TestVoid_GatewayRejects(t *testing.T) {
	h := newHarness(t)
	h.gw.status = payment.StatusAuthorized
	h.gw.voidErrors = []string{"authorization expired"}
	o := h.place(t)

	err := h.svc.Void(context.Background(), o.ID)
	assert.Equal(t, []string{"authorization expired"}, Messages(err))
	assert.Equal(t, payment.StatusAuthorized, h.orders.get(t, o.ID).PaymentStatus)

	require.NoError(t, h.svc.VoidOffline(context.Background(), o.ID))
	assert.Equal(t, payment.StatusVoided, h.orders.get(t, o.ID).PaymentStatus)
}

func TestVoidOffline_RequiresAuthorization(t *testing.T) {
	h := newHarness(t)
	o := h.place(t)

	require.ErrorIs(t, h.svc.VoidOffline(context.Background(), o.ID), ErrNotEligible)
}

func TestMarkAsPaid(t *testing.T) {
	h := newHarness(t)
	h.gw.status = payment.StatusPending
	o := h.place(t)

	stored := h.orders.get(t, o.ID)
	require.Equal(t, StatusPending, stored.Status)
	assert.True(t, h.svc.CanMarkAsPaid(stored))
	assert.False(t, h.svc.CanCapture(stored))

	require.NoError(t, h.svc.MarkAsPaid(context.Background(), o.ID))
	stored = h.orders.get(t, o.ID)
	assert.Equal(t, payment.StatusPaid, stored.PaymentStatus)
	assert.Equal(t, StatusComplete, stored.Status)
	assert.NotNil(t, stored.PaidAt)

	require.ErrorIs(t, h.svc.MarkAsPaid(context.Background(), o.ID), ErrNotEligible)
}

func TestMarkAsAuthorized(t *testing.T) {
	h := newHarness(t)
	h.gw.status = payment.StatusPending
	o := h.place(t)

	require.NoError(t, h.svc.MarkAsAuthorized(context.Background(), o.ID))
	stored := h.orders.get(t, o.ID)
	assert.Equal(t, payment.StatusAuthorized, stored.PaymentStatus)
	assert.Equal(t, StatusProcessing, stored.Status)
	assert.True(t, h.svc.CanCapture(stored))
}

func TestPaymentOps_CancelledOrder(t *testing.T) {
	h := newHarness(t)
	h.gw.status = payment.StatusAuthorized
	o := h.place(t)
	require.NoError(t, h.svc.CancelOrder(context.Background(), o.ID))

	stored := h.orders.get(t, o.ID)
	assert.False(t, h.svc.CanCapture(stored))
	assert.False(t, h.svc.CanMarkAsPaid(stored))
	// Releasing the authorization stays possible after cancellation.
	assert.True(t, h.svc.CanVoid(stored))
}
