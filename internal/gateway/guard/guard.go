// Package guard wraps a payment.Gateway with a call timeout and a circuit
// breaker. A timeout counts as a failed payment.
package guard

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/payment"
)

// Config configures Guard.
type Config struct {
	Timeout time.Duration
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many probes pass while half-open.
	HalfOpenRequests uint32
}

// Guard is a payment.Gateway decorator.
type Guard struct {
	next    payment.Gateway
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[any]
}

var _ payment.Gateway = (*Guard)(nil)

// Wrap decorates next.
func Wrap(next payment.Gateway, cfg Config, lg *zap.Logger) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	if lg == nil {
		lg = zap.NewNop()
	}

	threshold := cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        next.SystemName(),
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Payment gateway breaker state changed",
				zap.String("gateway", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Guard{next: next, timeout: cfg.Timeout, cb: cb}
}

// State returns the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

// Healthy reports whether calls are currently let through.
func (g *Guard) Healthy(context.Context) error {
	if g.cb.State() == gobreaker.StateOpen {
		return errors.Wrap(payment.ErrGatewayUnavailable, g.next.SystemName())
	}
	return nil
}

// call runs fn under the timeout and breaker. A nil result without an
// error counts as a gateway failure.
func call[R any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (*R, error)) (*R, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.cb.Execute(func() (any, error) {
		res, err := fn(ctx)
		if err == nil && res == nil {
			err = errors.Wrapf(payment.ErrNoResult, "%s %s", g.next.SystemName(), op)
		}
		return res, err
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, errors.Wrapf(payment.ErrGatewayUnavailable, "%s %s", g.next.SystemName(), op)
	case errors.Is(err, context.DeadlineExceeded):
		zctx.From(ctx).Warn("Payment gateway call timed out",
			zap.String("gateway", g.next.SystemName()),
			zap.String("operation", op),
			zap.Duration("timeout", g.timeout),
		)
		return nil, errors.Wrapf(payment.ErrGatewayTimeout, "%s %s", g.next.SystemName(), op)
	case err != nil:
		return nil, err
	}
	return out.(*R), nil
}

func (g *Guard) SystemName() string { return g.next.SystemName() }

func (g *Guard) ProcessPayment(ctx context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error) {
	return call(ctx, g, "process", func(ctx context.Context) (*payment.ProcessResult, error) {
		return g.next.ProcessPayment(ctx, req)
	})
}

func (g *Guard) ProcessRecurringPayment(ctx context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error) {
	return call(ctx, g, "process_recurring", func(ctx context.Context) (*payment.ProcessResult, error) {
		return g.next.ProcessRecurringPayment(ctx, req)
	})
}

func (g *Guard) Capture(ctx context.Context, req payment.CaptureRequest) (*payment.CaptureResult, error) {
	return call(ctx, g, "capture", func(ctx context.Context) (*payment.CaptureResult, error) {
		return g.next.Capture(ctx, req)
	})
}

func (g *Guard) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	return call(ctx, g, "refund", func(ctx context.Context) (*payment.RefundResult, error) {
		return g.next.Refund(ctx, req)
	})
}

func (g *Guard) Void(ctx context.Context, req payment.VoidRequest) (*payment.VoidResult, error) {
	return call(ctx, g, "void", func(ctx context.Context) (*payment.VoidResult, error) {
		return g.next.Void(ctx, req)
	})
}

func (g *Guard) AdditionalFee(ctx context.Context, subtotal decimal.Decimal) (decimal.Decimal, error) {
	return g.next.AdditionalFee(ctx, subtotal)
}

func (g *Guard) SupportsCapture() bool       { return g.next.SupportsCapture() }
func (g *Guard) SupportsRefund() bool        { return g.next.SupportsRefund() }
func (g *Guard) SupportsPartialRefund() bool { return g.next.SupportsPartialRefund() }
func (g *Guard) SupportsVoid() bool          { return g.next.SupportsVoid() }

func (g *Guard) RecurringPaymentType() payment.RecurringType {
	return g.next.RecurringPaymentType()
}
