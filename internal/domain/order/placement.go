package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/currency"
	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/tax"
)

// PlaceOrderRequest checks out the customer's current cart.
type PlaceOrderRequest struct {
	// OrderGUID makes retries idempotent. Generated when empty.
	OrderGUID     string
	CustomerID    string
	StoreID       string
	PaymentMethod string
	PaymentToken  string
}

// PlaceOrderResult is the outcome of PlaceOrder. Order is set once the order
// is durably committed, even when Warnings report post-commit faults.
type PlaceOrderResult struct {
	Order    *Order
	Stage    Stage
	Errors   []string
	Warnings []string
}

// Success reports whether an order was placed without errors.
func (r *PlaceOrderResult) Success() bool {
	return r.Order != nil && len(r.Errors) == 0
}

type placedLine struct {
	line  cart.Line
	price *pricing.LinePrice
}

// placement is a validated and priced checkout, ready for payment.
type placement struct {
	guid     string
	storeID  string
	method   string
	token    string
	customer *customer.Customer
	checkout *pricing.Checkout
	quote    *pricing.Quote
	lines    []placedLine
	snapshot currency.Snapshot
	gateway  payment.Gateway
	shipping bool
}

// PlaceOrder validates the cart, charges the customer, persists the order
// and runs its initial transition. It never panics and never returns a raw
// error: failures are listed in the result.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (res *PlaceOrderResult) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer span.End()
	lg := zctx.From(ctx).With(zap.String("customer_id", req.CustomerID))

	res = &PlaceOrderResult{}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		lg.Error("Order placement panicked", zap.Any("panic", r), zap.Stack("stack"))
		span.SetStatus(codes.Error, "panic")
		if res.Order != nil {
			res.Warnings = append(res.Warnings, "internal error after the order was placed")
			return
		}
		res.Stage = StageInternal
		res.Errors = append(res.Errors, "internal error while placing order")
		s.countFailure(ctx, StageInternal)
	}()

	if req.OrderGUID != "" {
		existing, err := s.Orders.GetByID(ctx, req.OrderGUID)
		switch {
		case err == nil && existing.CustomerID != req.CustomerID:
			return s.fail(ctx, res, StageValidation, &ValidationError{Errors: Errors{"order id already used"}})
		case err == nil:
			res.Order = existing
			return res
		case !errors.Is(err, ErrOrderNotFound):
			return s.fail(ctx, res, StageInternal, errors.Wrap(err, "check existing order"))
		}
	}

	p, err := s.prepare(ctx, req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return s.fail(ctx, res, StageValidation, err)
		}
		return s.fail(ctx, res, StageInternal, err)
	}

	pay, err := s.pay(ctx, p)
	if err != nil {
		return s.fail(ctx, res, StagePayment, err)
	}

	o, err := s.commit(ctx, p, pay)
	if err != nil {
		lg.Error("Order persistence failed after payment", zap.String("order_id", p.guid), zap.Error(err))
		s.compensatePayment(ctx, p, pay)
		return s.fail(ctx, res, StagePersistence, err)
	}
	res.Order = o

	s.afterCommit(ctx, o, res)

	s.metrics.placed.Add(ctx, 1)
	s.metrics.total.Record(ctx, o.Total.InexactFloat64())
	span.SetAttributes(attribute.String("order.id", o.ID))
	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("number", o.CustomOrderNumber),
		zap.Stringer("total", o.Total),
		zap.String("payment_status", string(o.PaymentStatus)),
	)
	return res
}

func (s *Service) fail(ctx context.Context, res *PlaceOrderResult, stage Stage, err error) *PlaceOrderResult {
	lg := zctx.From(ctx)
	if stage == StageValidation {
		lg.Info("Checkout rejected", zap.Error(err))
	} else {
		lg.Warn("Order placement failed", zap.String("stage", string(stage)), zap.Error(err))
	}
	trace.SpanFromContext(ctx).SetStatus(codes.Error, string(stage))
	s.countFailure(ctx, stage)

	res.Stage = stage
	res.Errors = append(res.Errors, Messages(err)...)
	return res
}

// prepare runs every validation and prices the cart. Nothing is written.
func (s *Service) prepare(ctx context.Context, req PlaceOrderRequest) (*placement, error) {
	c, err := s.Customers.GetByID(ctx, req.CustomerID)
	if errors.Is(err, customer.ErrNotFound) {
		return nil, &ValidationError{Errors: Errors{"customer not found"}}
	}
	if err != nil {
		return nil, errors.Wrap(err, "get customer")
	}

	storeID := req.StoreID
	if storeID == "" {
		storeID = c.StoreID
	}

	var verrs Errors
	if c.Deleted || !c.Active {
		verrs.Add("customer account is not active")
	}
	if c.IsGuest && !s.Settings.AnonymousCheckoutAllowed {
		verrs.Add("anonymous checkout is not allowed")
	}
	if err := s.validateAddress(ctx, c.BillingAddress, false, &verrs); err != nil {
		return nil, err
	}

	lines, err := s.Carts.ListByCustomer(ctx, c.ID, storeID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	if len(lines) == 0 {
		verrs.Add(ErrCartEmpty.Error())
		return nil, &ValidationError{Errors: verrs}
	}
	if err := s.attachProducts(ctx, lines); err != nil {
		return nil, err
	}
	for i := range lines {
		for _, lerr := range cart.Validate(&lines[i]) {
			verrs.Add(lerr.Error())
		}
	}
	stockErrs, err := s.stockErrors(ctx, lines)
	if err != nil {
		return nil, err
	}
	for _, serr := range stockErrs {
		verrs.Add(serr.Error())
	}

	shipping := cart.RequiresShipping(lines)
	if shipping {
		if c.Checkout.Shipping == nil {
			verrs.Add("shipping method is not selected")
		}
		if err := s.validateAddress(ctx, c.ShippingAddress, true, &verrs); err != nil {
			return nil, err
		}
	}
	if len(verrs) > 0 {
		return nil, &ValidationError{Errors: verrs}
	}

	co := &pricing.Checkout{
		Customer:           c,
		Lines:              lines,
		CheckoutAttributes: c.Checkout.Attributes,
		UseRewardPoints:    c.Checkout.UseRewardPoints,
	}
	if shipping {
		co.Shipping = c.Checkout.Shipping
	}
	if co.UseRewardPoints {
		if co.RewardPointsBalance, err = s.RewardPoints.Balance(ctx, c.ID, storeID); err != nil {
			return nil, err
		}
	}

	var gw payment.Gateway
	if req.PaymentMethod != "" {
		if gw, err = s.withPaymentFee(ctx, co, req.PaymentMethod); err != nil {
			return nil, err
		}
	}

	q, err := s.Pricing.Quote(ctx, co)
	if err != nil {
		return nil, errors.Wrap(err, "price cart")
	}
	if floor := s.Settings.MinimumSubtotal; floor.IsPositive() && q.SubtotalExcl.WithoutDiscount.LessThan(floor) {
		verrs.Add(fmt.Sprintf("minimum order subtotal is %s", floor.StringFixed(2)))
	}
	beforePoints := q.Total.Total.Add(q.Total.RedeemedAmount)
	if floor := s.Settings.MinimumTotal; floor.IsPositive() && beforePoints.LessThan(floor) {
		verrs.Add(fmt.Sprintf("minimum order total is %s", floor.StringFixed(2)))
	}
	if q.Total.Total.IsPositive() && gw == nil {
		verrs.Add("payment method is not selected")
	}
	if len(verrs) > 0 {
		return nil, &ValidationError{Errors: verrs}
	}

	placed := make([]placedLine, 0, len(lines))
	for i := range lines {
		lp, err := s.Pricing.PriceLine(ctx, &lines[i], c)
		if err != nil {
			return nil, errors.Wrapf(err, "price line %s", lines[i].ID)
		}
		placed = append(placed, placedLine{line: lines[i], price: lp})
	}

	guid := req.OrderGUID
	if guid == "" {
		guid = uuid.New().String()
	}

	return &placement{
		guid:     guid,
		storeID:  storeID,
		method:   req.PaymentMethod,
		token:    req.PaymentToken,
		customer: c,
		checkout: co,
		quote:    q,
		lines:    placed,
		snapshot: s.Currency.Snapshot(c.CurrencyCode),
		gateway:  gw,
		shipping: shipping,
	}, nil
}

func (s *Service) validateAddress(ctx context.Context, addr *customer.Address, forShipping bool, verrs *Errors) error {
	kind := "billing"
	if forShipping {
		kind = "shipping"
	}
	if addr == nil {
		verrs.Add(kind + " address is not provided")
		return nil
	}
	if !forShipping && !customer.ValidEmail(addr.Email) {
		verrs.Add("email is not valid")
	}

	country, err := s.Countries.GetByCode(ctx, addr.CountryCode)
	if errors.Is(err, customer.ErrCountryNotFound) {
		verrs.Add(fmt.Sprintf("%s country %q is not supported", kind, addr.CountryCode))
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "get country")
	}
	if !forShipping && !country.AllowsBilling {
		verrs.Add(fmt.Sprintf("billing is not allowed to %s", country.Name))
	}
	if forShipping && !country.AllowsShipping {
		verrs.Add(fmt.Sprintf("shipping is not allowed to %s", country.Name))
	}
	return nil
}

// attachProducts loads current catalog state onto lines. A missing product
// leaves Product nil for validation to report.
func (s *Service) attachProducts(ctx context.Context, lines []cart.Line) error {
	ids := make([]string, 0, len(lines))
	for i := range lines {
		ids = append(ids, lines[i].ProductID)
	}
	products, err := s.Products.GetByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "get products")
	}
	byID := make(map[string]*catalog.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	for i := range lines {
		lines[i].Product = byID[lines[i].ProductID]
	}
	return nil
}

// stockErrors checks what the whole cart takes from stock, bundle
// components included.
func (s *Service) stockErrors(ctx context.Context, lines []cart.Line) ([]error, error) {
	var components map[string]*catalog.Product
	if ids := cart.ComponentIDs(lines); len(ids) > 0 {
		products, err := s.Products.GetByIDs(ctx, ids)
		if err != nil {
			return nil, errors.Wrap(err, "get associated products")
		}
		components = make(map[string]*catalog.Product, len(products))
		for i := range products {
			components[products[i].ID] = &products[i]
		}
	}
	return cart.ValidateStock(lines, components), nil
}

// pay charges a non-zero total. A zero total is paid without a gateway.
func (s *Service) pay(ctx context.Context, p *placement) (*payment.ProcessResult, error) {
	total := p.quote.Total.Total
	if !total.IsPositive() {
		return &payment.ProcessResult{NewStatus: payment.StatusPaid}, nil
	}

	ctx, span := s.tracer.Start(ctx, "order.ProcessPayment",
		trace.WithAttributes(attribute.String("payment.method", p.gateway.SystemName())),
	)
	defer span.End()

	req := payment.ProcessRequest{
		OrderGUID:    p.guid,
		CustomerID:   p.customer.ID,
		StoreID:      p.storeID,
		Email:        p.customer.BillingAddress.Email,
		Amount:       total,
		CurrencyCode: s.Currency.Primary(),
		Token:        p.token,
	}

	var (
		res *payment.ProcessResult
		err error
	)
	if cart.IsRecurring(p.checkout.Lines) {
		res, err = p.gateway.ProcessRecurringPayment(ctx, req)
	} else {
		res, err = p.gateway.ProcessPayment(ctx, req)
	}
	if err != nil {
		s.countGatewayFailure(ctx, "process")
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, payment.ErrGatewayTimeout) {
			return nil, Errors{"payment gateway did not respond in time"}
		}
		return nil, errors.Wrap(err, "process payment")
	}
	if res == nil {
		s.countGatewayFailure(ctx, "process")
		span.SetStatus(codes.Error, "no result")
		return nil, errors.Wrap(payment.ErrNoResult, "process payment")
	}
	if !res.Success() {
		s.countGatewayFailure(ctx, "process")
		span.SetStatus(codes.Error, "rejected")
		return nil, Errors(res.Errors)
	}
	if !res.NewStatus.Valid() {
		res.NewStatus = payment.StatusPending
	}
	return res, nil
}

// compensatePayment releases a payment whose order could not be stored.
func (s *Service) compensatePayment(ctx context.Context, p *placement, pay *payment.ProcessResult) {
	if p.gateway == nil {
		return
	}
	lg := zctx.From(ctx).With(zap.String("order_id", p.guid))

	switch {
	case pay.NewStatus == payment.StatusAuthorized && p.gateway.SupportsVoid():
		res, err := p.gateway.Void(ctx, payment.VoidRequest{
			OrderGUID:                  p.guid,
			AuthorizationTransactionID: pay.AuthorizationTransactionID,
		})
		if err != nil || res == nil || !res.Success() {
			lg.Error("Failed to void payment of unsaved order", zap.Error(err))
			return
		}
		lg.Warn("Voided payment of unsaved order")
	case pay.NewStatus == payment.StatusPaid && p.gateway.SupportsRefund():
		res, err := p.gateway.Refund(ctx, payment.RefundRequest{
			OrderGUID:            p.guid,
			Amount:               p.quote.Total.Total,
			CurrencyCode:         s.Currency.Primary(),
			CaptureTransactionID: pay.CaptureTransactionID,
		})
		if err != nil || res == nil || !res.Success() {
			lg.Error("Failed to refund payment of unsaved order", zap.Error(err))
			return
		}
		lg.Warn("Refunded payment of unsaved order")
	default:
		lg.Error("Payment of unsaved order needs manual release",
			zap.String("payment_status", string(pay.NewStatus)),
			zap.String("authorization_id", pay.AuthorizationTransactionID),
		)
	}
}

// commit writes the order and consumes the checkout in one transaction.
func (s *Service) commit(ctx context.Context, p *placement, pay *payment.ProcessResult) (*Order, error) {
	now := s.now().UTC()
	o := s.buildOrder(p, pay, now)

	number, err := s.Numbers.Generate(ctx, o.ID, now)
	if err != nil {
		zctx.From(ctx).Warn("Custom order number unavailable, using order id",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		number = o.ID
	}
	o.CustomOrderNumber = number

	cards := s.giftCards(o, now)
	lineIDs := make([]string, 0, len(p.lines))
	for _, pl := range p.lines {
		lineIDs = append(lineIDs, pl.line.ID)
	}
	usages := make([]discount.Usage, 0, len(p.quote.AppliedDiscounts))
	for _, a := range p.quote.AppliedDiscounts {
		usages = append(usages, discount.Usage{
			DiscountID: a.ID,
			OrderID:    o.ID,
			CustomerID: o.CustomerID,
			CreatedAt:  now,
		})
	}

	err = s.UnitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		if points := p.quote.Total.RedeemedPoints; points > 0 {
			e, err := s.RewardPoints.Redeem(ctx, o.CustomerID, o.StoreID, o.ID, points, p.quote.Total.RedeemedAmount)
			if err != nil {
				return errors.Wrap(err, "redeem reward points")
			}
			o.RedeemedPointsEntryID = e.ID
		}
		if err := s.Orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if len(cards) > 0 {
			if err := s.GiftCards.CreateGiftCards(ctx, cards); err != nil {
				return errors.Wrap(err, "create gift cards")
			}
		}
		if err := s.Carts.DeleteLines(ctx, lineIDs); err != nil {
			return errors.Wrap(err, "delete cart lines")
		}
		if len(usages) > 0 {
			if err := s.DiscountUsage.RecordUsage(ctx, usages); err != nil {
				return errors.Wrap(err, "record discount usage")
			}
		}
		if err := s.Customers.SaveCheckoutState(ctx, o.CustomerID, customer.CheckoutState{}); err != nil {
			return errors.Wrap(err, "reset checkout state")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) buildOrder(p *placement, pay *payment.ProcessResult, now time.Time) *Order {
	q := p.quote
	c := p.customer

	o := &Order{
		ID:                   p.guid,
		StoreID:              p.storeID,
		CustomerID:           c.ID,
		CustomerCurrencyCode: p.snapshot.Code,
		CurrencyRate:         p.snapshot.Rate,
		CustomerLanguageCode: c.LanguageCode,
		BillingAddress:       c.BillingAddress.Clone(),
		Status:               StatusPending,
		PaymentStatus:        pay.NewStatus,
		PaymentMethod:        p.method,

		AuthorizationTransactionID: pay.AuthorizationTransactionID,
		CaptureTransactionID:       pay.CaptureTransactionID,
		SubscriptionTransactionID:  pay.SubscriptionTransactionID,

		SubtotalInclTax:         q.SubtotalIncl.WithoutDiscount,
		SubtotalExclTax:         q.SubtotalExcl.WithoutDiscount,
		SubtotalDiscountInclTax: q.SubtotalIncl.DiscountAmount,
		SubtotalDiscountExclTax: q.SubtotalExcl.DiscountAmount,
		ShippingInclTax:         q.ShippingIncl.Amount,
		ShippingExclTax:         q.ShippingExcl.Amount,
		ShippingTaxRate:         q.ShippingExcl.TaxRate,
		PaymentFeeInclTax:       q.FeeIncl,
		PaymentFeeExclTax:       q.FeeExcl,
		PaymentFeeTaxRate:       q.FeeRate,
		Tax:                     q.Tax.Total,
		TaxRates:                tax.Format(q.Tax.Rates.Rates()),
		OrderDiscount:           q.Total.DiscountAmount,
		Total:                   q.Total.Total,
		RefundedAmount:          decimal.Zero,

		AppliedDiscountIDs:      appliedIDs(q.AppliedDiscounts),

		RedeemedRewardPoints:       q.Total.RedeemedPoints,
		RedeemedRewardPointsAmount: q.Total.RedeemedAmount,

		CheckoutAttributes: describeAttributes(p.checkout.CheckoutAttributes),
		CreatedAt:          now,
	}
	if p.shipping {
		o.ShippingAddress = c.ShippingAddress.Clone()
		if p.checkout.Shipping != nil {
			o.ShippingMethod = p.checkout.Shipping.Name
		}
	}

	weightsExcl := make([]decimal.Decimal, len(p.lines))
	weightsIncl := make([]decimal.Decimal, len(p.lines))
	for i, pl := range p.lines {
		weightsExcl[i] = pl.price.Excl
		weightsIncl[i] = pl.price.Incl
	}
	discExcl := allocate(q.SubtotalExcl.DiscountAmount, weightsExcl)
	discIncl := allocate(q.SubtotalIncl.DiscountAmount, weightsIncl)

	o.Items = make([]LineItem, 0, len(p.lines))
	for i, pl := range p.lines {
		prod := pl.line.Product
		sel, _ := catalog.ParseSelection(pl.line.Selection)
		o.Items = append(o.Items, LineItem{
			ID:                   s.newID(),
			OrderID:              o.ID,
			ProductID:            prod.ID,
			ProductName:          prod.Name,
			SKU:                  lineSKU(prod, sel),
			Quantity:             pl.line.Quantity,
			UnitPriceInclTax:     pl.price.UnitIncl,
			UnitPriceExclTax:     pl.price.UnitExcl,
			PriceInclTax:         pl.price.Incl,
			PriceExclTax:         pl.price.Excl,
			DiscountInclTax:      discIncl[i],
			DiscountExclTax:      discExcl[i],
			TaxRate:              pl.price.Rate,
			Selection:            sel.Encode(),
			AttributeDescription: prod.Describe(sel),
			OriginalProductCost:  pl.price.UnitCost,
			IsGiftCard:           prod.IsGiftCard,
			IsShipEnabled:        prod.IsShipEnabled,
			RentalStart:          pl.line.RentalStart,
			RentalEnd:            pl.line.RentalEnd,
		})
	}
	return o
}

func (s *Service) giftCards(o *Order, now time.Time) []GiftCard {
	var cards []GiftCard
	for _, item := range o.Items {
		if !item.IsGiftCard {
			continue
		}
		for i := 0; i < item.Quantity; i++ {
			cards = append(cards, GiftCard{
				ID:         s.newID(),
				OrderID:    o.ID,
				LineItemID: item.ID,
				Code:       strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:16]),
				Amount:     item.UnitPriceExclTax,
				CreatedAt:  now,
			})
		}
	}
	return cards
}

// afterCommit runs everything that follows a durable order. Faults here are
// warnings: the order stands and stock is left for reconciliation.
func (s *Service) afterCommit(ctx context.Context, o *Order, res *PlaceOrderResult) {
	s.note(ctx, o, "Order placed")

	for i := range o.Items {
		item := &o.Items[i]
		adj := inventory.Adjustment{
			ProductID: item.ProductID,
			Delta:     -item.Quantity,
			Selection: item.Selection,
			Message:   fmt.Sprintf("Order #%s placed", o.CustomOrderNumber),
		}
		if err := s.Inventory.Adjust(ctx, adj); err != nil {
			res.Warnings = append(res.Warnings, s.stockFault(ctx, o, item, adj, err))
		}
	}

	s.emit(ctx, EventPlaced, o, decimal.Zero)
	if o.PaymentStatus == payment.StatusPaid {
		s.emit(ctx, EventPaid, o, decimal.Zero)
	}
	if err := s.CheckOrderStatus(ctx, o); err != nil {
		zctx.From(ctx).Error("Post-commit placement failure",
			zap.String("order_id", o.ID),
			zap.String("step", "status"),
			zap.Error(err),
		)
		res.Warnings = append(res.Warnings, Messages(err)...)
	}
}

// stockFault records a failed adjustment for ReconcileStock and returns the
// warning text.
func (s *Service) stockFault(ctx context.Context, o *Order, item *LineItem, adj inventory.Adjustment, cause error) string {
	zctx.From(ctx).Error("Post-commit placement failure",
		zap.String("order_id", o.ID),
		zap.String("step", "inventory"),
		zap.String("product_id", item.ProductID),
		zap.Int("delta", adj.Delta),
		zap.Error(cause),
	)
	msg := fmt.Sprintf("stock adjustment of %d for product %s failed: %v", adj.Delta, item.ProductID, cause)

	r := &StockReconciliation{
		ID:         s.newID(),
		OrderID:    o.ID,
		LineItemID: item.ID,
		ProductID:  item.ProductID,
		Selection:  item.Selection,
		Delta:      adj.Delta,
		Error:      cause.Error(),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.Reconciliations.AddReconciliation(ctx, r); err != nil {
		zctx.From(ctx).Error("Failed to record stock reconciliation",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
	s.note(ctx, o, "%s; pending stock reconciliation", msg)
	return msg
}

// allocate splits total across weights in proportion, rounding to cents and
// giving the remainder to the last share.
func allocate(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	sum := decimal.Zero
	for i, w := range weights {
		out[i] = decimal.Zero
		sum = sum.Add(w)
	}
	if !total.IsPositive() || !sum.IsPositive() {
		return out
	}
	remaining := total
	for i, w := range weights {
		if i == len(weights)-1 {
			out[i] = remaining
			break
		}
		share := total.Mul(w).Div(sum).Round(2)
		if share.GreaterThan(remaining) {
			share = remaining
		}
		out[i] = share
		remaining = remaining.Sub(share)
	}
	return out
}

func appliedIDs(applied []discount.Applied) []int64 {
	ids := make([]int64, 0, len(applied))
	for _, a := range applied {
		ids = append(ids, a.ID)
	}
	return ids
}

func lineSKU(p *catalog.Product, sel catalog.Selection) string {
	if c := p.FindCombination(sel); c != nil && c.SKU != "" {
		return c.SKU
	}
	return p.SKU
}

func describeAttributes(attrs []catalog.CheckoutAttribute) string {
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		parts = append(parts, a.Name+": "+a.Value)
	}
	return strings.Join(parts, ", ")
}
