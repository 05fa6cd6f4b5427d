package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/order"
)

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, id string, warnings []string) {
	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, o)
		if len(warnings) > 0 {
			strList(e, "warnings", warnings)
		}
		e.ObjEnd()
	})
}

// GetOrder returns an order with its items.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	h.respondOrder(w, r, chi.URLParam(r, "orderID"), nil)
}

// operation adapts a payment operation. A gateway failure leaves the order
// untouched and is reported as 402.
func (h *Handler) operation(fn func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "orderID")
		if err := fn(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		h.respondOrder(w, r, id, nil)
	}
}

// PartialRefund adapts a partial refund operation; the body is
// {"amount": "12.50"}.
func (h *Handler) PartialRefund(fn func(ctx context.Context, id string, amount decimal.Decimal) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			amount decimal.Decimal
			seen   bool
		)
		err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
			if key != "amount" {
				return d.Skip()
			}
			var err error
			amount, err = decodeDecimal(d)
			seen = true
			return err
		})
		switch {
		case err != nil:
			writeAPIError(w, badRequest(err.Error()))
			return
		case !seen || !amount.IsPositive():
			writeAPIError(w, badRequest("amount must be positive"))
			return
		}

		id := chi.URLParam(r, "orderID")
		if err := fn(r.Context(), id, amount); err != nil {
			writeError(w, r, err)
			return
		}
		h.respondOrder(w, r, id, nil)
	}
}

// committed splits the result of a state change whose side effects may fail
// after the change itself was stored.
func committed(err error) (warnings []string, failed error) {
	var list order.Errors
	if errors.As(err, &list) {
		return list, nil
	}
	return nil, err
}

// CancelOrder cancels an order. Failed compensations come back as warnings.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	warnings, err := committed(h.orders.CancelOrder(r.Context(), id))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondOrder(w, r, id, warnings)
}

// DeleteOrder soft-deletes an order.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	warnings, err := committed(h.orders.DeleteOrder(r.Context(), chi.URLParam(r, "orderID")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(warnings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		strList(e, "warnings", warnings)
		e.ObjEnd()
	})
}

// UpdateItems edits line items and re-prices the order. The body is
// {"items": [{"item_id": "...", "quantity": 2, "unit_price_excl_tax": "9.99"}]}.
func (h *Handler) UpdateItems(w http.ResponseWriter, r *http.Request) {
	req := order.UpdateTotalsRequest{OrderID: chi.URLParam(r, "orderID")}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "items" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var it order.ItemUpdate
			err := d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "item_id":
					it.ItemID, err = d.Str()
				case "quantity":
					it.Quantity, err = d.Int()
				case "unit_price_excl_tax":
					it.UnitPriceExclTax, err = decodeDecimal(d)
				default:
					err = d.Skip()
				}
				return err
			})
			req.Items = append(req.Items, it)
			return err
		})
	})
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	if len(req.Items) == 0 {
		writeAPIError(w, badRequest("items are required"))
		return
	}

	o, err := h.orders.UpdateOrderTotals(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, o)
		e.ObjEnd()
	})
}

// ListNotes lists the notes of an order, oldest first.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.orders.ListNotes(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("notes")
		e.ArrStart()
		for i := range notes {
			encodeNote(e, &notes[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// AddNote appends an operator note.
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	var (
		text    string
		display bool
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "text":
			text, err = d.Str()
		case "display_to_customer":
			display, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	if strings.TrimSpace(text) == "" {
		writeAPIError(w, badRequest("text is required"))
		return
	}

	n, err := h.orders.AddNote(r.Context(), chi.URLParam(r, "orderID"), text, display)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("note")
		encodeNote(e, n)
		e.ObjEnd()
	})
}

// ReconcileStock retries the pending stock adjustments of an order.
func (h *Handler) ReconcileStock(w http.ResponseWriter, r *http.Request) {
	remaining, err := h.orders.ReconcileStock(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("remaining")
		e.Int(remaining)
		e.ObjEnd()
	})
}

// ListReconciliations lists the oldest pending stock adjustments.
func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeAPIError(w, badRequest("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	rows, err := h.orders.PendingReconciliations(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("reconciliations")
		e.ArrStart()
		for i := range rows {
			encodeReconciliation(e, &rows[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}
