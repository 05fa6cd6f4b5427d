package payment

import (
	"context"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownMethod is returned for a payment method no gateway serves.
	ErrUnknownMethod = errors.New("unknown payment method")
	// ErrGatewayTimeout is returned when a gateway call exceeds its deadline.
	ErrGatewayTimeout = errors.New("payment gateway timeout")
	// ErrGatewayUnavailable is returned while a gateway is failing fast.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrNoResult is returned when a gateway reports neither a result nor an
	// error.
	ErrNoResult = errors.New("payment gateway returned no result")
)

// RecurringType is how a gateway handles recurring payments.
type RecurringType string

const (
	RecurringNotSupported RecurringType = "not_supported"
	RecurringManual       RecurringType = "manual"
	RecurringAutomatic    RecurringType = "automatic"
)

// ProcessRequest is a payment for a new order.
type ProcessRequest struct {
	OrderGUID    string
	CustomerID   string
	StoreID      string
	Email        string
	Amount       decimal.Decimal
	CurrencyCode string
	// Token is the client-side payment method reference, if any.
	Token string
}

// ProcessResult is the gateway answer to ProcessRequest.
type ProcessResult struct {
	NewStatus                  Status
	AuthorizationTransactionID string
	CaptureTransactionID       string
	SubscriptionTransactionID  string
	Errors                     []string
}

// Success reports whether the gateway accepted the payment.
func (r *ProcessResult) Success() bool { return len(r.Errors) == 0 }

// CaptureRequest captures a prior authorization.
type CaptureRequest struct {
	OrderGUID                  string
	Amount                     decimal.Decimal
	CurrencyCode               string
	AuthorizationTransactionID string
}

// CaptureResult is the gateway answer to CaptureRequest.
type CaptureResult struct {
	NewStatus            Status
	CaptureTransactionID string
	Errors               []string
}

// Success reports whether the capture went through.
func (r *CaptureResult) Success() bool { return len(r.Errors) == 0 }

// RefundRequest refunds all or part of a paid order.
type RefundRequest struct {
	OrderGUID            string
	Amount               decimal.Decimal
	CurrencyCode         string
	CaptureTransactionID string
	IsPartial            bool
}

// RefundResult is the gateway answer to RefundRequest.
type RefundResult struct {
	NewStatus Status
	Errors    []string
}

// Success reports whether the refund went through.
func (r *RefundResult) Success() bool { return len(r.Errors) == 0 }

// VoidRequest cancels an authorization.
type VoidRequest struct {
	OrderGUID                  string
	AuthorizationTransactionID string
}

// VoidResult is the gateway answer to VoidRequest.
type VoidResult struct {
	NewStatus Status
	Errors    []string
}

// Success reports whether the void went through.
func (r *VoidResult) Success() bool { return len(r.Errors) == 0 }

// Gateway is a payment method implementation. A returned error is a
// transport failure; a gateway rejection is reported in the result Errors.
type Gateway interface {
	SystemName() string
	ProcessPayment(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
	ProcessRecurringPayment(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	Void(ctx context.Context, req VoidRequest) (*VoidResult, error)
	// AdditionalFee is the surcharge charged for using this method.
	AdditionalFee(ctx context.Context, subtotal decimal.Decimal) (decimal.Decimal, error)

	SupportsCapture() bool
	SupportsRefund() bool
	SupportsPartialRefund() bool
	SupportsVoid() bool
	RecurringPaymentType() RecurringType
}

// Registry resolves gateways by system name, case-insensitively.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry creates a Registry holding gateways.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds or replaces g.
func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[strings.ToLower(g.SystemName())] = g
}

// Get returns the gateway for method.
func (r *Registry) Get(method string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[strings.ToLower(method)]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMethod, "%q", method)
	}
	return g, nil
}

// Names returns registered system names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for _, g := range r.gateways {
		names = append(names, g.SystemName())
	}
	return names
}
