package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/rewardpoints"
)

// apiError is the error body: {"code": ..., "message": ..., "errors": [...]}.
type apiError struct {
	status  int
	code    string
	message string
	errors  []string
}

func (e *apiError) encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("code")
	enc.Str(e.code)
	enc.FieldStart("message")
	enc.Str(e.message)
	if len(e.errors) > 0 {
		enc.FieldStart("errors")
		enc.ArrStart()
		for _, msg := range e.errors {
			enc.Str(msg)
		}
		enc.ArrEnd()
	}
	enc.ObjEnd()
}

func badRequest(msg string) *apiError {
	return &apiError{status: http.StatusBadRequest, code: "bad_request", message: msg}
}

// classify maps a domain error to its HTTP form. Unknown errors are 500s.
func classify(err error) *apiError {
	var (
		verr *order.ValidationError
		list order.Errors
		lerr *cart.LineError
	)
	switch {
	case errors.As(err, &verr):
		return &apiError{http.StatusBadRequest, "validation_failed", "request is invalid", order.Messages(err)}
	case errors.As(err, &lerr):
		return &apiError{http.StatusUnprocessableEntity, "invalid_line", lerr.Error(), nil}
	case errors.Is(err, order.ErrCartEmpty):
		return &apiError{http.StatusBadRequest, "cart_empty", err.Error(), nil}
	case errors.Is(err, payment.ErrUnknownMethod):
		return &apiError{http.StatusBadRequest, "unknown_payment_method", err.Error(), nil}

	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, customer.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, discount.ErrCouponNotFound):
		return &apiError{http.StatusNotFound, "not_found", rootMessage(err), nil}

	case errors.Is(err, order.ErrNotEligible),
		errors.Is(err, order.ErrInvalidTransition):
		return &apiError{http.StatusConflict, "not_eligible", err.Error(), nil}
	case errors.Is(err, inventory.ErrConcurrentUpdate),
		errors.Is(err, catalog.ErrStaleVersion):
		return &apiError{http.StatusConflict, "conflict", err.Error(), nil}
	case errors.Is(err, rewardpoints.ErrInsufficientBalance):
		return &apiError{http.StatusConflict, "insufficient_points", err.Error(), nil}

	case errors.Is(err, discount.ErrExpired),
		errors.Is(err, discount.ErrCouponRequired),
		errors.Is(err, discount.ErrUsageLimitReached),
		errors.Is(err, discount.ErrRoleNotAllowed):
		return &apiError{http.StatusUnprocessableEntity, "coupon_rejected", err.Error(), nil}

	case errors.Is(err, payment.ErrGatewayTimeout),
		errors.Is(err, payment.ErrGatewayUnavailable),
		errors.As(err, &list):
		return &apiError{http.StatusPaymentRequired, "payment_failed", "payment gateway rejected the operation", order.Messages(err)}
	}
	return &apiError{http.StatusInternalServerError, "internal", "internal server error", nil}
}

// rootMessage is the message of the innermost error, which for not-found
// sentinels reads better than the wrapped chain.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeAPIError(w, e)
}

func writeAPIError(w http.ResponseWriter, e *apiError) {
	var enc jx.Encoder
	e.encode(&enc)
	writeRaw(w, e.status, enc.Bytes())
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
