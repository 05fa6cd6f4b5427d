package manual

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/payment"
)

func TestProcessPayment_Modes(t *testing.T) {
	tests := []struct {
		mode Mode
		want payment.Status
	}{
		{mode: "", want: payment.StatusPending},
		{mode: ModePending, want: payment.StatusPending},
		{mode: ModeAuthorize, want: payment.StatusAuthorized},
		{mode: ModeAuthorizeAndCapture, want: payment.StatusPaid},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			res, err := New(Config{Mode: tt.mode}).ProcessPayment(context.Background(), payment.ProcessRequest{})
			require.NoError(t, err)
			assert.True(t, res.Success())
			assert.Equal(t, tt.want, res.NewStatus)
		})
	}
}

func TestAdditionalFee(t *testing.T) {
	g := New(Config{Fee: decimal.RequireFromString("1.00"), FeePercent: decimal.RequireFromString("2")})

	fee, err := g.AdditionalFee(context.Background(), decimal.RequireFromString("50.00"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2.00").Equal(fee))
}

func TestRefundNotSupported(t *testing.T) {
	g := New(Config{})

	res, err := g.Refund(context.Background(), payment.RefundRequest{})
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.False(t, g.SupportsRefund())
	assert.False(t, g.SupportsVoid())
}
