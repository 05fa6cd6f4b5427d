package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, or YAML config files.
// Money and rates are strings so they parse exactly into decimals.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig

	Orders       OrdersConfig
	RewardPoints RewardPointsConfig
	Tax          TaxConfig
	Currency     CurrencyConfig
	Inventory    InventoryConfig
	Payment      PaymentConfig
	Kafka        KafkaConfig
	Redis        RedisConfig
	SendGrid     SendGridConfig
	Scheduler    SchedulerConfig
	Coupons      CouponsConfig
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// OrdersConfig is the placement policy.
type OrdersConfig struct {
	MinimumSubtotal             string `default:"0" usage:"Minimum order subtotal excl. tax"`
	MinimumTotal                string `default:"0" usage:"Minimum order total"`
	AnonymousCheckoutAllowed    bool   `default:"false" usage:"Allow guest customers to place orders"`
	NumberMask                  string `default:"{YYYY}-{SEQ}" usage:"Custom order number mask: {YYYY} {YY} {MM} {DD} {ID} {SEQ}"`
	ActivateGiftCardsOnComplete bool   `default:"true" usage:"Activate purchased gift cards when the order completes"`
	DeactivateGiftCardsOnCancel bool   `default:"true" usage:"Deactivate gift cards when the order is cancelled"`
	RoundPricesDuringCalc       bool   `default:"true" usage:"Round intermediate amounts to cents"`
}

// RewardPointsConfig configures the points program.
type RewardPointsConfig struct {
	Enabled         bool          `default:"false" usage:"Enable reward points"`
	ExchangeRate    string        `default:"0.01" usage:"Money value of one point"`
	MinimumToUse    int           `default:"0" usage:"Minimum balance before points can be redeemed"`
	PurchaseAmount  string        `default:"10" usage:"Spend that earns PurchasePoints"`
	PurchasePoints  int           `default:"1" usage:"Points earned per PurchaseAmount"`
	ActivationDelay time.Duration `default:"0s" usage:"Delay before awarded points become spendable"`
}

// TaxConfig configures the fixed-rate tax calculator.
type TaxConfig struct {
	PricesIncludeTax    bool              `default:"false" usage:"Catalog prices include tax"`
	DefaultRate         string            `default:"0" usage:"Tax rate in percent for uncategorized items"`
	CategoryRates       map[string]string `usage:"Tax rate in percent per tax category"`
	ShippingIsTaxable   bool              `default:"true" usage:"Charge tax on shipping"`
	ShippingCategory    string            `usage:"Tax category of shipping"`
	PaymentFeeIsTaxable bool              `default:"false" usage:"Charge tax on payment surcharges"`
	PaymentFeeCategory  string            `usage:"Tax category of payment surcharges"`
}

// CurrencyConfig lists the primary store currency and exchange rates to it.
type CurrencyConfig struct {
	Primary string            `default:"USD" usage:"Primary store currency (ISO 4217)"`
	Rates   map[string]string `usage:"Exchange rate per customer currency"`
}

// InventoryConfig tunes stock adjustment.
type InventoryConfig struct {
	AutoRepublish  bool `default:"true" usage:"Republish products once stock recovers"`
	MaxRetries     int  `default:"3" usage:"Optimistic retries per stock adjustment"`
	MaxBundleDepth int  `default:"3" usage:"Maximum nesting of bundled products"`
}

// PaymentConfig configures the gateways and their guard.
type PaymentConfig struct {
	Timeout             time.Duration `default:"30s" usage:"Gateway call timeout; a timeout fails the payment"`
	ConsecutiveFailures uint32        `default:"5" usage:"Failures that open a gateway circuit breaker"`
	OpenTimeout         time.Duration `default:"30s" usage:"How long an open breaker rejects calls"`
	Manual              ManualConfig
	Stripe              StripeConfig
}

// ManualConfig configures the manual (offline) method.
type ManualConfig struct {
	Mode       string `default:"pending" usage:"pending, authorize or authorize_capture"`
	Fee        string `default:"0" usage:"Flat surcharge"`
	FeePercent string `default:"0" usage:"Surcharge in percent of the subtotal"`
}

// StripeConfig enables the Stripe method when APIKey is set.
type StripeConfig struct {
	APIKey        string `usage:"Stripe secret key; empty disables Stripe"`
	AccountID     string `usage:"Connected account id"`
	AuthorizeOnly bool   `default:"true" usage:"Authorize at checkout and capture later"`
	Fee           string `default:"0" usage:"Flat surcharge"`
}

// KafkaConfig configures the domain event topic.
type KafkaConfig struct {
	Brokers      []string      `default:"localhost:9092" usage:"Kafka brokers"`
	Topic        string        `default:"orders.events" usage:"Order events topic"`
	WriteTimeout time.Duration `default:"5s" usage:"Per-event write timeout"`
}

// RedisConfig configures the order number counter.
type RedisConfig struct {
	Addr     string `usage:"Redis address; empty disables {SEQ} order numbers"`
	Password string `usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database"`
}

// SendGridConfig configures transactional email.
type SendGridConfig struct {
	APIKey     string            `usage:"SendGrid API key; empty disables email"`
	FromEmail  string            `default:"orders@example.com" usage:"Sender address"`
	FromName   string            `default:"Orders" usage:"Sender name"`
	AdminEmail string            `usage:"Store owner address for stock alerts"`
	Templates  map[string]string `usage:"Dynamic template id per event kind or stock template key"`
}

// SchedulerConfig configures background jobs. Specs use six cron fields
// (with seconds); an empty spec disables the job.
type SchedulerConfig struct {
	ReconcileSpec  string        `default:"0 */15 * * * *" usage:"Stock reconciliation report schedule"`
	ReconcileRetry bool          `default:"false" usage:"Retry pending stock adjustments from the job"`
	ReconcileLimit int           `default:"500" usage:"Pending rows inspected per run"`
	JobTimeout     time.Duration `default:"5m" usage:"Timeout of one job run"`
}

// CouponsConfig sizes the coupon code bloom filter.
type CouponsConfig struct {
	FalsePositiveRate float64 `default:"0.001" usage:"Coupon bloom filter false positive rate" flag:"coupon-fpr"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/kart-orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
	}
	if cfg.APIKeyPepper == "" {
		return nil, errors.New("api key pepper is required: set ORDERS_API_KEY_PEPPER")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ORDERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
}

// decimals parses named decimal settings, stopping at the first bad one.
type decimals struct {
	err error
}

func (d *decimals) parse(name, s string) decimal.Decimal {
	if d.err != nil {
		return decimal.Zero
	}
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.err = errors.Wrapf(err, "config %s", name)
	}
	return v
}

func (d *decimals) parseMap(name string, m map[string]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, s := range m {
		out[k] = d.parse(name+"."+k, s)
	}
	return out
}
