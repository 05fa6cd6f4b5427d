// Package stripe implements payment.Gateway on Stripe PaymentIntents.
package stripe

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/currency"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

// SystemName identifies the gateway in orders and configuration.
const SystemName = "Payments.Stripe"

type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type refundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// Config configures the Stripe gateway.
type Config struct {
	APIKey    string
	AccountID string
	// AuthorizeOnly places a hold that must be captured later.
	AuthorizeOnly bool
	Fee           decimal.Decimal
	Backends      *stripe.Backends
}

// Gateway talks to Stripe.
type Gateway struct {
	intents intentAPI
	refunds refundAPI
	account string
	cfg     Config
}

var _ payment.Gateway = (*Gateway)(nil)

// New constructs a Gateway from cfg.
func New(cfg Config) (*Gateway, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(key, cfg.Backends)
	return newGateway(cfg, sc.PaymentIntents, sc.Refunds), nil
}

func newGateway(cfg Config, intents intentAPI, refunds refundAPI) *Gateway {
	return &Gateway{
		intents: intents,
		refunds: refunds,
		account: strings.TrimSpace(cfg.AccountID),
		cfg:     cfg,
	}
}

func (g *Gateway) SystemName() string { return SystemName }

func (g *Gateway) params(ctx context.Context, p *stripe.Params, idempotencyKey string) {
	p.Context = ctx
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
	if g.account != "" {
		p.SetStripeAccount(g.account)
	}
}

// ProcessPayment creates and confirms a PaymentIntent for the order.
func (g *Gateway) ProcessPayment(ctx context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error) {
	amount, err := currency.MinorUnits(req.Amount, req.CurrencyCode)
	if err != nil {
		return nil, errors.Wrap(err, "stripe: amount")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(req.CurrencyCode)),
		Confirm:  stripe.Bool(true),
	}
	g.params(ctx, &params.Params, "order-"+req.OrderGUID)
	if req.Token != "" {
		params.PaymentMethod = stripe.String(req.Token)
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	if g.cfg.AuthorizeOnly {
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	}
	params.AddMetadata("order_guid", req.OrderGUID)
	params.AddMetadata("customer_id", req.CustomerID)

	intent, err := g.intents.New(params)
	if rejected, ok := rejection(err); ok {
		return &payment.ProcessResult{Errors: []string{rejected}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "stripe: create payment intent")
	}

	zctx.From(ctx).Debug("Payment intent created",
		zap.String("payment_intent", intent.ID),
		zap.String("status", string(intent.Status)),
	)

	res := &payment.ProcessResult{AuthorizationTransactionID: intent.ID}
	switch intent.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		res.NewStatus = payment.StatusAuthorized
	case stripe.PaymentIntentStatusSucceeded:
		res.NewStatus = payment.StatusPaid
		res.CaptureTransactionID = intent.ID
	case stripe.PaymentIntentStatusProcessing:
		res.NewStatus = payment.StatusPending
	default:
		res.Errors = append(res.Errors, "payment not completed: "+string(intent.Status))
	}
	return res, nil
}

// ProcessRecurringPayment is not offered by this gateway.
func (g *Gateway) ProcessRecurringPayment(context.Context, payment.ProcessRequest) (*payment.ProcessResult, error) {
	return &payment.ProcessResult{Errors: []string{"recurring payments are not supported"}}, nil
}

// Capture captures an authorized PaymentIntent.
func (g *Gateway) Capture(ctx context.Context, req payment.CaptureRequest) (*payment.CaptureResult, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	g.params(ctx, &params.Params, "capture-"+req.OrderGUID)
	if req.Amount.IsPositive() {
		amount, err := currency.MinorUnits(req.Amount, req.CurrencyCode)
		if err != nil {
			return nil, errors.Wrap(err, "stripe: amount")
		}
		params.AmountToCapture = stripe.Int64(amount)
	}

	intent, err := g.intents.Capture(req.AuthorizationTransactionID, params)
	if rejected, ok := rejection(err); ok {
		return &payment.CaptureResult{Errors: []string{rejected}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "stripe: capture payment intent")
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return &payment.CaptureResult{Errors: []string{"capture not completed: " + string(intent.Status)}}, nil
	}
	return &payment.CaptureResult{NewStatus: payment.StatusPaid, CaptureTransactionID: intent.ID}, nil
}

// Refund refunds all or part of a captured PaymentIntent.
func (g *Gateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	amount, err := currency.MinorUnits(req.Amount, req.CurrencyCode)
	if err != nil {
		return nil, errors.Wrap(err, "stripe: amount")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.CaptureTransactionID),
		Amount:        stripe.Int64(amount),
	}
	g.params(ctx, &params.Params, "")
	params.AddMetadata("order_guid", req.OrderGUID)

	if _, err := g.refunds.New(params); err != nil {
		if rejected, ok := rejection(err); ok {
			return &payment.RefundResult{Errors: []string{rejected}}, nil
		}
		return nil, errors.Wrap(err, "stripe: refund payment intent")
	}

	status := payment.StatusRefunded
	if req.IsPartial {
		status = payment.StatusPartiallyRefunded
	}
	return &payment.RefundResult{NewStatus: status}, nil
}

// Void cancels an uncaptured PaymentIntent.
func (g *Gateway) Void(ctx context.Context, req payment.VoidRequest) (*payment.VoidResult, error) {
	params := &stripe.PaymentIntentCancelParams{}
	g.params(ctx, &params.Params, "void-"+req.OrderGUID)

	intent, err := g.intents.Cancel(req.AuthorizationTransactionID, params)
	if rejected, ok := rejection(err); ok {
		return &payment.VoidResult{Errors: []string{rejected}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "stripe: cancel payment intent")
	}
	if intent.Status != stripe.PaymentIntentStatusCanceled {
		return &payment.VoidResult{Errors: []string{"void not completed: " + string(intent.Status)}}, nil
	}
	return &payment.VoidResult{NewStatus: payment.StatusVoided}, nil
}

// AdditionalFee returns the configured fixed surcharge.
func (g *Gateway) AdditionalFee(context.Context, decimal.Decimal) (decimal.Decimal, error) {
	return g.cfg.Fee, nil
}

func (g *Gateway) SupportsCapture() bool       { return true }
func (g *Gateway) SupportsRefund() bool        { return true }
func (g *Gateway) SupportsPartialRefund() bool { return true }
func (g *Gateway) SupportsVoid() bool          { return true }

func (g *Gateway) RecurringPaymentType() payment.RecurringType {
	return payment.RecurringNotSupported
}

// rejection extracts a customer-facing decline from a Stripe API error.
func rejection(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return "", false
	}
	switch se.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
		if se.Msg != "" {
			return se.Msg, true
		}
		return string(se.Code), true
	}
	return "", false
}
