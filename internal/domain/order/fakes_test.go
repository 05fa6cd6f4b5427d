package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/currency"
	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/rewardpoints"
	"github.com/xenking/kart-orders/internal/domain/tax"
)

// --- Storage fakes ---

type memOrders struct {
	mu        sync.Mutex
	byID      map[string]*Order
	createErr error
	updateErr error
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	return &cp
}

func (m *memOrders) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.byID[o.ID] = cloneOrder(o)
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *memOrders) Update(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.byID[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	cp := *o
	cp.Items = stored.Items
	m.byID[o.ID] = &cp
	return nil
}

func (m *memOrders) UpdateItems(_ context.Context, items []LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		o, ok := m.byID[it.OrderID]
		if !ok {
			return ErrOrderNotFound
		}
		for i := range o.Items {
			if o.Items[i].ID == it.ID {
				o.Items[i] = it
			}
		}
	}
	return nil
}

func (m *memOrders) get(t *testing.T, id string) *Order {
	t.Helper()
	o, err := m.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

type memNotes struct {
	notes []Note
}

func (m *memNotes) AddNote(_ context.Context, n *Note) error {
	m.notes = append(m.notes, *n)
	return nil
}

func (m *memNotes) ListNotes(_ context.Context, orderID string) ([]Note, error) {
	var out []Note
	for _, n := range m.notes {
		if n.OrderID == orderID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNotes) texts() []string {
	out := make([]string, 0, len(m.notes))
	for _, n := range m.notes {
		out = append(out, n.Text)
	}
	return out
}

type memGiftCards struct {
	cards []GiftCard
}

func (m *memGiftCards) CreateGiftCards(_ context.Context, cards []GiftCard) error {
	m.cards = append(m.cards, cards...)
	return nil
}

func (m *memGiftCards) SetGiftCardsActive(_ context.Context, orderID string, active bool) error {
	for i := range m.cards {
		if m.cards[i].OrderID == orderID {
			m.cards[i].IsActivated = active
		}
	}
	return nil
}

type memReconciliations struct {
	rows []StockReconciliation
}

func (m *memReconciliations) AddReconciliation(_ context.Context, r *StockReconciliation) error {
	m.rows = append(m.rows, *r)
	return nil
}

func (m *memReconciliations) ListPendingReconciliations(_ context.Context, orderID string) ([]StockReconciliation, error) {
	var out []StockReconciliation
	for _, r := range m.rows {
		if r.OrderID == orderID && r.ResolvedAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memReconciliations) ListAllPendingReconciliations(_ context.Context, limit int) ([]StockReconciliation, error) {
	var out []StockReconciliation
	for _, r := range m.rows {
		if r.ResolvedAt == nil && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memReconciliations) ResolveReconciliation(_ context.Context, id string, at time.Time) error {
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].ResolvedAt = &at
		}
	}
	return nil
}

type noTx struct{}

func (noTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// --- Catalog and customer fakes ---

type memCustomers struct {
	byID  map[string]*customer.Customer
	saved map[string]customer.CheckoutState
}

func (m *memCustomers) GetByID(_ context.Context, id string) (*customer.Customer, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCustomers) SaveCheckoutState(_ context.Context, customerID string, state customer.CheckoutState) error {
	m.saved[customerID] = state
	if c, ok := m.byID[customerID]; ok {
		c.Checkout = state
	}
	return nil
}

type memCountries map[string]customer.Country

func (m memCountries) GetByCode(_ context.Context, code string) (*customer.Country, error) {
	c, ok := m[code]
	if !ok {
		return nil, customer.ErrCountryNotFound
	}
	return &c, nil
}

type memCarts struct {
	lines   []cart.Line
	deleted []string
}

func (m *memCarts) ListByCustomer(_ context.Context, customerID, storeID string) ([]cart.Line, error) {
	var out []cart.Line
	for _, l := range m.lines {
		if l.CustomerID == customerID && l.StoreID == storeID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memCarts) DeleteLines(_ context.Context, ids []string) error {
	m.deleted = append(m.deleted, ids...)
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.lines[:0]
	for _, l := range m.lines {
		if !drop[l.ID] {
			kept = append(kept, l)
		}
	}
	m.lines = kept
	return nil
}

type memProducts map[string]catalog.Product

func (m memProducts) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := m[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (m memProducts) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := m[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m memProducts) UpdateInventory(context.Context, *catalog.Product) error { return nil }

func (m memProducts) UpdateCombinationStock(context.Context, string, *catalog.AttributeCombination) error {
	return nil
}

type mockDiscountRepo struct {
	byScope map[discount.Scope][]discount.Discount
}

func (m *mockDiscountRepo) ListByScope(_ context.Context, scope discount.Scope) ([]discount.Discount, error) {
	return m.byScope[scope], nil
}

func (m *mockDiscountRepo) FindByCouponCode(context.Context, string) (*discount.Discount, error) {
	return nil, discount.ErrCouponNotFound
}

func (m *mockDiscountRepo) ListCouponCodes(context.Context) ([]string, error) {
	return nil, nil
}

type allowAll struct{}

func (allowAll) Validate(context.Context, *discount.Discount, *customer.Customer) (bool, error) {
	return true, nil
}

type memUsage struct {
	usages []discount.Usage
}

func (m *memUsage) CountUsage(context.Context, int64) (int, error) { return len(m.usages), nil }

func (m *memUsage) CountCustomerUsage(context.Context, int64, string) (int, error) {
	return len(m.usages), nil
}

func (m *memUsage) RecordUsage(_ context.Context, usages []discount.Usage) error {
	m.usages = append(m.usages, usages...)
	return nil
}

type memPoints struct {
	entries []rewardpoints.Entry
}

func (m *memPoints) Insert(_ context.Context, e *rewardpoints.Entry) error {
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memPoints) GetByID(_ context.Context, id string) (*rewardpoints.Entry, error) {
	for _, e := range m.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, rewardpoints.ErrEntryNotFound
}

func (m *memPoints) Balance(_ context.Context, customerID, _ string, _ time.Time) (int, error) {
	total := 0
	for _, e := range m.entries {
		if e.CustomerID == customerID {
			total += e.Points
		}
	}
	return total, nil
}

// --- Engine fakes ---

type fakeStock struct {
	applied []inventory.Adjustment
	fail    map[string]error
}

func (f *fakeStock) Adjust(_ context.Context, adj inventory.Adjustment) error {
	if err := f.fail[adj.ProductID]; err != nil {
		return err
	}
	f.applied = append(f.applied, adj)
	return nil
}

func (f *fakeStock) net(productID string) int {
	n := 0
	for _, a := range f.applied {
		if a.ProductID == productID {
			n += a.Delta
		}
	}
	return n
}

type stubGateway struct {
	status     payment.Status
	processErr error
	rejections []string
	panics     bool
	empty      bool

	captureErrors []string
	refundErr     error
	voidErrors    []string

	capture, refund, partialRefund, void bool

	processed []payment.ProcessRequest
	captured  int
	refunds   []decimal.Decimal
	voided    int
}

func (g *stubGateway) SystemName() string { return "Payments.Stub" }

func (g *stubGateway) ProcessPayment(_ context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error) {
	if g.panics {
		panic("gateway exploded")
	}
	g.processed = append(g.processed, req)
	if g.empty {
		return nil, nil
	}
	if g.processErr != nil {
		return nil, g.processErr
	}
	res := &payment.ProcessResult{NewStatus: g.status, Errors: g.rejections}
	if g.status == payment.StatusAuthorized || g.status == payment.StatusPaid {
		res.AuthorizationTransactionID = "auth-1"
	}
	if g.status == payment.StatusPaid {
		res.CaptureTransactionID = "cap-1"
	}
	return res, nil
}

func (g *stubGateway) ProcessRecurringPayment(ctx context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error) {
	return g.ProcessPayment(ctx, req)
}

func (g *stubGateway) Capture(context.Context, payment.CaptureRequest) (*payment.CaptureResult, error) {
	if len(g.captureErrors) > 0 {
		return &payment.CaptureResult{Errors: g.captureErrors}, nil
	}
	g.captured++
	return &payment.CaptureResult{NewStatus: payment.StatusPaid, CaptureTransactionID: "cap-2"}, nil
}

func (g *stubGateway) Refund(_ context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, req.Amount)
	return &payment.RefundResult{}, nil
}

func (g *stubGateway) Void(context.Context, payment.VoidRequest) (*payment.VoidResult, error) {
	if len(g.voidErrors) > 0 {
		return &payment.VoidResult{Errors: g.voidErrors}, nil
	}
	g.voided++
	return &payment.VoidResult{NewStatus: payment.StatusVoided}, nil
}

func (g *stubGateway) AdditionalFee(context.Context, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (g *stubGateway) SupportsCapture() bool { return g.capture }

func (g *stubGateway) SupportsRefund() bool { return g.refund }

func (g *stubGateway) SupportsPartialRefund() bool { return g.partialRefund }

func (g *stubGateway) SupportsVoid() bool { return g.void }

func (g *stubGateway) RecurringPaymentType() payment.RecurringType {
	return payment.RecurringNotSupported
}

type recEvents struct {
	events []Event
}

func (r *recEvents) Publish(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recEvents) kinds() []EventKind {
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type recNotifier struct {
	kinds []EventKind
}

func (r *recNotifier) NotifyOrder(_ context.Context, kind EventKind, _ *Order) error {
	r.kinds = append(r.kinds, kind)
	return nil
}

// --- Harness ---

type harness struct {
	svc       *Service
	orders    *memOrders
	notes     *memNotes
	cards     *memGiftCards
	recs      *memReconciliations
	customers *memCustomers
	carts     *memCarts
	products  memProducts
	discounts *mockDiscountRepo
	usage     *memUsage
	points    *memPoints
	stock     *fakeStock
	gw        *stubGateway
	events    *recEvents
	notifier  *recNotifier
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func tenPercentOff() discount.Discount {
	return discount.Discount{
		ID:            1,
		Name:          "Ten off",
		Scope:         discount.ScopeSubtotal,
		UsePercentage: true,
		Percentage:    dec("10"),
		Limitation:    discount.Unlimited,
	}
}

func testCustomer() *customer.Customer {
	addr := &customer.Address{
		FirstName:   "Jane",
		Email:       "jane@example.com",
		CountryCode: "US",
		City:        "Springfield",
	}
	return &customer.Customer{
		ID:              "c1",
		StoreID:         "s1",
		Email:           "jane@example.com",
		Active:          true,
		CurrencyCode:    "USD",
		LanguageCode:    "en",
		BillingAddress:  addr,
		ShippingAddress: addr.Clone(),
	}
}

func testProduct(id, price string) catalog.Product {
	return catalog.Product{
		ID:        id,
		Name:      "Product " + id,
		SKU:       "SKU-" + id,
		Price:     dec(price),
		Published: true,
		Inventory: catalog.Inventory{Mode: catalog.InventoryStock, StockQuantity: 100},
	}
}

// newHarness builds a Service over a cart of two 10.00 units with a 10%
// subtotal discount and 10% tax: subtotal 20, discount 2, tax 1.80,
// total 19.80.
func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, func(*harness) discount.Eligibility { return allowAll{} })
}

// newHarnessWith is newHarness with discount eligibility built by rules.
func newHarnessWith(t *testing.T, rules func(h *harness) discount.Eligibility) *harness {
	t.Helper()

	h := &harness{
		orders:    &memOrders{byID: make(map[string]*Order)},
		notes:     &memNotes{},
		cards:     &memGiftCards{},
		recs:      &memReconciliations{},
		customers: &memCustomers{byID: map[string]*customer.Customer{"c1": testCustomer()}, saved: make(map[string]customer.CheckoutState)},
		carts: &memCarts{lines: []cart.Line{
			{ID: "l1", CustomerID: "c1", StoreID: "s1", ProductID: "p1", Quantity: 2},
		}},
		products:  memProducts{"p1": testProduct("p1", "10.00")},
		discounts: &mockDiscountRepo{byScope: map[discount.Scope][]discount.Discount{discount.ScopeSubtotal: {tenPercentOff()}}},
		usage:     &memUsage{},
		points:    &memPoints{},
		stock:     &fakeStock{fail: make(map[string]error)},
		gw:        &stubGateway{status: payment.StatusPaid, capture: true, refund: true, partialRefund: true, void: true},
		events:    &recEvents{},
		notifier:  &recNotifier{},
	}

	pointSettings := rewardpoints.Settings{
		Enabled:        true,
		ExchangeRate:   dec("0.01"),
		PurchaseAmount: dec("1"),
		PurchasePoints: 1,
	}
	conv, err := currency.NewConverter(currency.Settings{PrimaryCode: "USD"})
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Orders:          h.orders,
		Notes:           h.notes,
		GiftCards:       h.cards,
		Reconciliations: h.recs,
		UnitOfWork:      noTx{},
		Customers:       h.customers,
		Countries:       memCountries{"US": {Code: "US", Name: "United States", AllowsBilling: true, AllowsShipping: true}},
		Carts:           h.carts,
		Products:        h.products,
		DiscountUsage:   h.usage,
		Pricing: pricing.NewAggregator(
			tax.NewFixedRateCalculator(tax.Settings{DefaultRate: dec("10"), ShippingIsTaxable: true}),
			h.discounts,
			discount.NewSelector(rules(h)),
			pointSettings,
			pricing.Settings{RoundPricesDuringCalculation: true},
		),
		RewardPoints: rewardpoints.NewLedger(h.points, pointSettings),
		Inventory:    h.stock,
		Gateways:     payment.NewRegistry(h.gw),
		Currency:     conv,
		Numbers:      NewNumberGenerator("ORD-{ID}", nil),
		Events:       h.events,
		Notifier:     h.notifier,
		Settings: Settings{
			ActivateGiftCardsOnComplete: true,
			DeactivateGiftCardsOnCancel: true,
		},
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) place(t *testing.T) *Order {
	t.Helper()
	res := h.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID:    "c1",
		StoreID:       "s1",
		PaymentMethod: "payments.stub",
	})
	require.Empty(t, res.Errors)
	require.NotNil(t, res.Order)
	return res.Order
}

func (h *harness) balance(t *testing.T) int {
	t.Helper()
	b, err := h.points.Balance(context.Background(), "c1", "s1", time.Now())
	require.NoError(t, err)
	return b
}
