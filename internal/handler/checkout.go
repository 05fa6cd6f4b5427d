package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
)

// PlaceOrder checks out the customer's cart.
//
// A committed order is 201 even when post-commit side effects failed; those
// are listed in "warnings". Rejected checkouts are 422, declined payments 402.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req order.PlaceOrderRequest
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_guid":
			req.OrderGUID, err = d.Str()
		case "customer_id":
			req.CustomerID, err = d.Str()
		case "store_id":
			req.StoreID, err = d.Str()
		case "payment_method":
			req.PaymentMethod, err = d.Str()
		case "payment_token":
			req.PaymentToken, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	if req.CustomerID == "" {
		writeAPIError(w, badRequest("customer_id is required"))
		return
	}

	res := h.orders.PlaceOrder(r.Context(), req)
	if res.Order == nil {
		e := &apiError{status: http.StatusInternalServerError, code: "placement_failed", message: "order was not placed", errors: res.Errors}
		switch res.Stage {
		case order.StageValidation:
			e.status, e.code, e.message = http.StatusUnprocessableEntity, "checkout_rejected", "checkout is invalid"
		case order.StagePayment:
			e.status, e.code, e.message = http.StatusPaymentRequired, "payment_failed", "payment was declined"
		}
		writeAPIError(w, e)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, res.Order)
		if len(res.Warnings) > 0 {
			strList(e, "warnings", res.Warnings)
		}
		e.ObjEnd()
	})
}

// CartTotals previews the totals of the customer's cart.
func (h *Handler) CartTotals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	totals, err := h.orders.CartTotals(r.Context(), chi.URLParam(r, "customerID"), q.Get("store_id"), q.Get("payment_method"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("totals")
		encodeQuote(e, totals.Quote)
		if len(totals.LineErrors) > 0 {
			strList(e, "line_errors", totals.LineErrors)
		}
		e.ObjEnd()
	})
}

// ApplyCoupon stores a coupon code on the customer's checkout.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var code string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key == "code" {
			var err error
			code, err = d.Str()
			return err
		}
		return d.Skip()
	})
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	if strings.TrimSpace(code) == "" {
		writeAPIError(w, badRequest("code is required"))
		return
	}

	d, err := h.coupons.Apply(r.Context(), chi.URLParam(r, "customerID"), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("discount")
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(d.ID)
		str(e, "name", d.Name)
		str(e, "code", d.CouponCode)
		str(e, "scope", string(d.Scope))
		e.ObjEnd()
		e.ObjEnd()
	})
}

// AddCartLine puts a product into the customer's cart.
func (h *Handler) AddCartLine(w http.ResponseWriter, r *http.Request) {
	l := cart.Line{CustomerID: chi.URLParam(r, "customerID")}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "store_id":
			l.StoreID, err = d.Str()
		case "product_id":
			l.ProductID, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Int()
		case "selection":
			l.Selection, err = d.Str()
		case "customer_entered_price":
			l.CustomerEnteredPrice, err = decodeDecimal(d)
		case "rental_start":
			l.RentalStart, err = decodeTime(d)
		case "rental_end":
			l.RentalEnd, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	var verrs []string
	if l.ProductID == "" {
		verrs = append(verrs, "product_id is required")
	}
	if l.Quantity <= 0 {
		verrs = append(verrs, "quantity must be positive")
	}
	if l.CustomerEnteredPrice.LessThan(decimal.Zero) {
		verrs = append(verrs, "customer_entered_price must not be negative")
	}
	if len(verrs) > 0 {
		writeAPIError(w, &apiError{status: http.StatusBadRequest, code: "validation_failed", message: "request is invalid", errors: verrs})
		return
	}

	ctx := r.Context()
	if _, err := h.products.GetByID(ctx, l.ProductID); err != nil {
		writeError(w, r, err)
		return
	}
	l.ID = h.newID()
	l.CreatedAt = h.now().UTC()
	if err := h.carts.AddLine(ctx, &l); err != nil {
		writeError(w, r, errors.Wrap(err, "add cart line"))
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		str(e, "id", l.ID)
		e.ObjEnd()
	})
}
