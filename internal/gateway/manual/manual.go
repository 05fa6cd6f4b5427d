// Package manual is an offline payment method: nothing is charged online
// and the operator marks the order paid once money arrives.
package manual

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/payment"
)

// SystemName identifies the method in orders and configuration.
const SystemName = "Payments.Manual"

// Mode is the status a new manual payment lands in.
type Mode string

const (
	ModePending             Mode = "pending"
	ModeAuthorize           Mode = "authorize"
	ModeAuthorizeAndCapture Mode = "authorize_capture"
)

// Config configures the manual method.
type Config struct {
	Mode Mode
	Fee  decimal.Decimal
	// FeePercent is added on top of Fee as a share of the subtotal.
	FeePercent decimal.Decimal
}

// Gateway is the manual payment method.
type Gateway struct {
	cfg Config
}

var _ payment.Gateway = (*Gateway)(nil)

// New creates a manual Gateway.
func New(cfg Config) *Gateway {
	if cfg.Mode == "" {
		cfg.Mode = ModePending
	}
	return &Gateway{cfg: cfg}
}

func (g *Gateway) SystemName() string { return SystemName }

func (g *Gateway) ProcessPayment(_ context.Context, _ payment.ProcessRequest) (*payment.ProcessResult, error) {
	switch g.cfg.Mode {
	case ModeAuthorize:
		return &payment.ProcessResult{NewStatus: payment.StatusAuthorized}, nil
	case ModeAuthorizeAndCapture:
		return &payment.ProcessResult{NewStatus: payment.StatusPaid}, nil
	default:
		return &payment.ProcessResult{NewStatus: payment.StatusPending}, nil
	}
}

func (g *Gateway) ProcessRecurringPayment(ctx context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error) {
	return g.ProcessPayment(ctx, req)
}

func (g *Gateway) Capture(context.Context, payment.CaptureRequest) (*payment.CaptureResult, error) {
	return &payment.CaptureResult{NewStatus: payment.StatusPaid}, nil
}

func (g *Gateway) Refund(context.Context, payment.RefundRequest) (*payment.RefundResult, error) {
	return &payment.RefundResult{Errors: []string{"refund method not supported"}}, nil
}

func (g *Gateway) Void(context.Context, payment.VoidRequest) (*payment.VoidResult, error) {
	return &payment.VoidResult{Errors: []string{"void method not supported"}}, nil
}

// AdditionalFee is Fee plus FeePercent of subtotal.
func (g *Gateway) AdditionalFee(_ context.Context, subtotal decimal.Decimal) (decimal.Decimal, error) {
	fee := g.cfg.Fee
	if g.cfg.FeePercent.IsPositive() {
		fee = fee.Add(subtotal.Mul(g.cfg.FeePercent).Div(decimal.NewFromInt(100)))
	}
	return fee.Round(2), nil
}

func (g *Gateway) SupportsCapture() bool       { return true }
func (g *Gateway) SupportsRefund() bool        { return false }
func (g *Gateway) SupportsPartialRefund() bool { return false }
func (g *Gateway) SupportsVoid() bool          { return false }

func (g *Gateway) RecurringPaymentType() payment.RecurringType {
	return payment.RecurringManual
}
