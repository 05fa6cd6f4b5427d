// Package handler exposes the order engine over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/order"
)

// Orders is the slice of *order.Service the API calls.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) *order.PlaceOrderResult
	CartTotals(ctx context.Context, customerID, storeID, paymentMethod string) (*order.CartTotals, error)

	GetOrder(ctx context.Context, id string) (*order.Order, error)
	CancelOrder(ctx context.Context, id string) error
	DeleteOrder(ctx context.Context, id string) error
	UpdateOrderTotals(ctx context.Context, req order.UpdateTotalsRequest) (*order.Order, error)

	Capture(ctx context.Context, id string) error
	MarkAsPaid(ctx context.Context, id string) error
	MarkAsAuthorized(ctx context.Context, id string) error
	Refund(ctx context.Context, id string) error
	RefundOffline(ctx context.Context, id string) error
	PartiallyRefund(ctx context.Context, id string, amount decimal.Decimal) error
	PartiallyRefundOffline(ctx context.Context, id string, amount decimal.Decimal) error
	Void(ctx context.Context, id string) error
	VoidOffline(ctx context.Context, id string) error

	ListNotes(ctx context.Context, orderID string) ([]order.Note, error)
	AddNote(ctx context.Context, orderID, text string, displayToCustomer bool) (*order.Note, error)

	ReconcileStock(ctx context.Context, orderID string) (int, error)
	PendingReconciliations(ctx context.Context, limit int) ([]order.StockReconciliation, error)
}

// Coupons applies coupon codes to a checkout.
type Coupons interface {
	Apply(ctx context.Context, customerID, code string) (*discount.Discount, error)
}

// CartLines adds lines to a customer's cart.
type CartLines interface {
	AddLine(ctx context.Context, l *cart.Line) error
}

// Products resolves products for new cart lines.
type Products interface {
	GetByID(ctx context.Context, id string) (*catalog.Product, error)
}

// Deps holds the collaborators of Handler.
type Deps struct {
	Orders   Orders
	Coupons  Coupons
	Carts    CartLines
	Products Products
	APIKeys  auth.Repository
	// Pepper is the HMAC key API keys are hashed with.
	Pepper string
}

// Handler serves the order API.
type Handler struct {
	orders   Orders
	coupons  Coupons
	carts    CartLines
	products Products
	auth     *Authenticator

	now   func() time.Time
	newID func() string
}

// New creates a Handler.
func New(d Deps) *Handler {
	return &Handler{
		orders:   d.Orders,
		coupons:  d.Coupons,
		carts:    d.Carts,
		products: d.Products,
		auth:     NewAuthenticator(d.APIKeys, d.Pepper),
		now:      time.Now,
		newID:    func() string { return ulid.Make().String() },
	}
}

// Mount registers the API routes on r. Every route requires an API key.
//
//	POST   /v1/checkout/orders                  place order from cart
//	GET    /v1/checkout/customers/{id}/totals   cart totals preview
//	POST   /v1/checkout/customers/{id}/coupons  apply coupon code
//	POST   /v1/checkout/customers/{id}/cart     add cart line
//	GET    /v1/orders/{id}                      order with items
//	POST   /v1/orders/{id}/{action}             payment and status operations
//	PUT    /v1/orders/{id}/items                edit items and re-price
//	DELETE /v1/orders/{id}                      soft delete
//	GET    /v1/orders/{id}/notes                list notes
//	POST   /v1/orders/{id}/notes                add note
//	POST   /v1/orders/{id}/reconcile            retry pending stock adjustments
//	GET    /v1/reconciliations                  oldest pending stock adjustments
func (h *Handler) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.auth.Require(auth.ScopeCheckout))
			r.Post("/checkout/orders", h.PlaceOrder)
			r.Get("/checkout/customers/{customerID}/totals", h.CartTotals)
			r.Post("/checkout/customers/{customerID}/coupons", h.ApplyCoupon)
			r.Post("/checkout/customers/{customerID}/cart", h.AddCartLine)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.auth.Require(auth.ScopeOrdersRead))
			r.Get("/orders/{orderID}", h.GetOrder)
			r.Get("/orders/{orderID}/notes", h.ListNotes)
			r.Get("/reconciliations", h.ListReconciliations)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.auth.Require(auth.ScopeOrdersWrite))
			r.Delete("/orders/{orderID}", h.DeleteOrder)
			r.Put("/orders/{orderID}/items", h.UpdateItems)
			r.Post("/orders/{orderID}/notes", h.AddNote)
			r.Post("/orders/{orderID}/reconcile", h.ReconcileStock)
			r.Post("/orders/{orderID}/cancel", h.CancelOrder)
			r.Post("/orders/{orderID}/capture", h.operation(h.orders.Capture))
			r.Post("/orders/{orderID}/mark-paid", h.operation(h.orders.MarkAsPaid))
			r.Post("/orders/{orderID}/mark-authorized", h.operation(h.orders.MarkAsAuthorized))
			r.Post("/orders/{orderID}/refund", h.operation(h.orders.Refund))
			r.Post("/orders/{orderID}/refund-offline", h.operation(h.orders.RefundOffline))
			r.Post("/orders/{orderID}/partial-refund", h.PartialRefund(h.orders.PartiallyRefund))
			r.Post("/orders/{orderID}/partial-refund-offline", h.PartialRefund(h.orders.PartiallyRefundOffline))
			r.Post("/orders/{orderID}/void", h.operation(h.orders.Void))
			r.Post("/orders/{orderID}/void-offline", h.operation(h.orders.VoidOffline))
		})
	})
}

// Router returns a chi router with the API mounted, for tests and simple
// setups.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}
