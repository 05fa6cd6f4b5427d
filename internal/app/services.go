package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/currency"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/rewardpoints"
	"github.com/xenking/kart-orders/internal/domain/tax"
	"github.com/xenking/kart-orders/internal/gateway/guard"
	"github.com/xenking/kart-orders/internal/gateway/manual"
	"github.com/xenking/kart-orders/internal/gateway/stripe"
	"github.com/xenking/kart-orders/internal/handler"
	"github.com/xenking/kart-orders/internal/jobs"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

var (
	_ handler.Orders  = (*order.Service)(nil)
	_ handler.Coupons = (*discount.CouponService)(nil)
	_ jobs.Reconciler = (*order.Service)(nil)
)

// stores groups the PostgreSQL repositories.
type stores struct {
	db        *postgres.DB
	orders    *postgres.OrderRepository
	orderLog  *postgres.OrderLogRepository
	products  *postgres.ProductRepository
	customers *postgres.CustomerRepository
	carts     *postgres.CartRepository
	discounts *postgres.DiscountRepository
	points    *postgres.RewardPointsRepository
	apiKeys   *postgres.APIKeyRepository
}

func newStores(db *postgres.DB) *stores {
	return &stores{
		db:        db,
		orders:    postgres.NewOrderRepository(db),
		orderLog:  postgres.NewOrderLogRepository(db),
		products:  postgres.NewProductRepository(db),
		customers: postgres.NewCustomerRepository(db),
		carts:     postgres.NewCartRepository(db),
		discounts: postgres.NewDiscountRepository(db),
		points:    postgres.NewRewardPointsRepository(db),
		apiKeys:   postgres.NewAPIKeyRepository(db),
	}
}

// engine is the configured pricing and order machinery.
type engine struct {
	Orders  *order.Service
	Coupons *discount.CouponService
}

// sideEffects are the outbound adapters the engine reports to.
type sideEffects struct {
	events   order.EventPublisher
	notifier interface {
		order.Notifier
		inventory.Notifier
	}
	sequence order.Sequence
}

func buildEngine(
	ctx context.Context,
	lg *zap.Logger,
	m *app.Telemetry,
	cfg *Config,
	st *stores,
	fx sideEffects,
) (*engine, error) {
	var d decimals

	points := rewardpoints.Settings{
		Enabled:            cfg.RewardPoints.Enabled,
		ExchangeRate:       d.parse("reward_points.exchange_rate", cfg.RewardPoints.ExchangeRate),
		MinimumPointsToUse: cfg.RewardPoints.MinimumToUse,
		PurchaseAmount:     d.parse("reward_points.purchase_amount", cfg.RewardPoints.PurchaseAmount),
		PurchasePoints:     cfg.RewardPoints.PurchasePoints,
		ActivationDelay:    cfg.RewardPoints.ActivationDelay,
	}
	taxes := tax.Settings{
		PricesIncludeTax:      cfg.Tax.PricesIncludeTax,
		DefaultRate:           d.parse("tax.default_rate", cfg.Tax.DefaultRate),
		CategoryRates:         d.parseMap("tax.category_rates", cfg.Tax.CategoryRates),
		ShippingIsTaxable:     cfg.Tax.ShippingIsTaxable,
		ShippingTaxCategory:   cfg.Tax.ShippingCategory,
		PaymentFeeIsTaxable:   cfg.Tax.PaymentFeeIsTaxable,
		PaymentFeeTaxCategory: cfg.Tax.PaymentFeeCategory,
	}
	currencies := currency.Settings{
		PrimaryCode: cfg.Currency.Primary,
		Rates:       d.parseMap("currency.rates", cfg.Currency.Rates),
	}
	settings := order.Settings{
		MinimumSubtotal:             d.parse("orders.minimum_subtotal", cfg.Orders.MinimumSubtotal),
		MinimumTotal:                d.parse("orders.minimum_total", cfg.Orders.MinimumTotal),
		AnonymousCheckoutAllowed:    cfg.Orders.AnonymousCheckoutAllowed,
		ActivateGiftCardsOnComplete: cfg.Orders.ActivateGiftCardsOnComplete,
		DeactivateGiftCardsOnCancel: cfg.Orders.DeactivateGiftCardsOnCancel,
	}
	gateways, err := buildGateways(lg, cfg.Payment, &d)
	if err != nil {
		return nil, err
	}
	if d.err != nil {
		return nil, d.err
	}

	converter, err := currency.NewConverter(currencies)
	if err != nil {
		return nil, errors.Wrap(err, "currency converter")
	}

	rules := discount.NewRulesValidator(st.discounts)
	aggregator := pricing.NewAggregator(
		tax.NewFixedRateCalculator(taxes),
		st.discounts,
		discount.NewSelector(rules),
		points,
		pricing.Settings{RoundPricesDuringCalculation: cfg.Orders.RoundPricesDuringCalc},
	)
	adjuster := inventory.NewAdjuster(st.products, st.products, fx.notifier, st.db, inventory.Settings{
		AutoRepublish:  cfg.Inventory.AutoRepublish,
		MaxRetries:     cfg.Inventory.MaxRetries,
		MaxBundleDepth: cfg.Inventory.MaxBundleDepth,
	})

	svc, err := order.NewService(order.Deps{
		Orders:          st.orders,
		Notes:           st.orderLog,
		GiftCards:       st.orderLog,
		Reconciliations: st.orderLog,
		UnitOfWork:      st.db,

		Customers:     st.customers,
		Countries:     st.customers,
		Carts:         st.carts,
		Products:      st.products,
		DiscountUsage: st.discounts,

		Pricing:      aggregator,
		RewardPoints: rewardpoints.NewLedger(st.points, points),
		Inventory:    adjuster,
		Gateways:     gateways,
		Currency:     converter,
		Numbers:      order.NewNumberGenerator(cfg.Orders.NumberMask, fx.sequence),

		Events:   fx.events,
		Notifier: fx.notifier,

		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),

		Settings: settings,
	})
	if err != nil {
		return nil, errors.Wrap(err, "order service")
	}

	index, err := discount.LoadCouponIndex(ctx, st.discounts, cfg.Coupons.FalsePositiveRate)
	if err != nil {
		return nil, errors.Wrap(err, "load coupon index")
	}

	return &engine{
		Orders:  svc,
		Coupons: discount.NewCouponService(st.discounts, st.customers, index, rules),
	}, nil
}

// buildGateways registers the manual method and, when a key is configured,
// Stripe. Every gateway sits behind a timeout and circuit breaker.
func buildGateways(lg *zap.Logger, cfg PaymentConfig, d *decimals) (*payment.Registry, error) {
	g := guard.Config{
		Timeout:             cfg.Timeout,
		ConsecutiveFailures: cfg.ConsecutiveFailures,
		OpenTimeout:         cfg.OpenTimeout,
	}

	registry := payment.NewRegistry(guard.Wrap(manual.New(manual.Config{
		Mode:       manual.Mode(cfg.Manual.Mode),
		Fee:        d.parse("payment.manual.fee", cfg.Manual.Fee),
		FeePercent: d.parse("payment.manual.fee_percent", cfg.Manual.FeePercent),
	}), g, lg))

	if cfg.Stripe.APIKey == "" {
		lg.Info("Stripe disabled: no api key")
		return registry, nil
	}
	sg, err := stripe.New(stripe.Config{
		APIKey:        cfg.Stripe.APIKey,
		AccountID:     cfg.Stripe.AccountID,
		AuthorizeOnly: cfg.Stripe.AuthorizeOnly,
		Fee:           d.parse("payment.stripe.fee", cfg.Stripe.Fee),
	})
	if err != nil {
		return nil, errors.Wrap(err, "stripe gateway")
	}
	registry.Register(guard.Wrap(sg, g, lg))
	return registry, nil
}
