// Command seed-db loads catalog, customer and discount fixtures plus the
// operator API keys into the database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

// seedFile is the fixture layout. Keys match the domain field names.
type seedFile struct {
	Countries []customer.Country  `json:"countries"`
	Customers []customer.Customer `json:"customers"`
	Products  []catalog.Product   `json:"products"`
	Discounts []discount.Discount `json:"discounts"`
}

type seedKey struct {
	name   string
	raw    string
	scopes []string
}

func main() {
	var (
		databaseURL string
		seedPath    string
		checkoutKey string
		adminKey    string
		pepper      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/seed.json", "path to the fixture JSON file")
	flag.StringVar(&checkoutKey, "checkout-key", "", "storefront API key (or ORDERS_SEED_CHECKOUT_KEY env)")
	flag.StringVar(&adminKey, "admin-key", "", "operator API key (or ORDERS_SEED_ADMIN_KEY env)")
	flag.StringVar(&pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or ORDERS_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	databaseURL = orEnv(databaseURL, "DATABASE_URL")
	checkoutKey = orEnv(checkoutKey, "ORDERS_SEED_CHECKOUT_KEY")
	adminKey = orEnv(adminKey, "ORDERS_SEED_ADMIN_KEY")
	pepper = orEnv(pepper, "ORDERS_API_KEY_PEPPER")
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if pepper == "" {
		lg.Fatal("API key pepper is required: set --api-key-pepper or ORDERS_API_KEY_PEPPER")
	}

	var keys []seedKey
	if checkoutKey != "" {
		keys = append(keys, seedKey{name: "storefront", raw: checkoutKey, scopes: []string{auth.ScopeCheckout}})
	}
	if adminKey != "" {
		keys = append(keys, seedKey{name: "operator", raw: adminKey, scopes: []string{auth.ScopeOrdersRead, auth.ScopeOrdersWrite}})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedPath, pepper, keys); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func orEnv(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func readSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read seed file")
	}
	var s seedFile
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "parse seed file")
	}
	return &s, nil
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath, pepper string, keys []seedKey) error {
	s, err := readSeed(seedPath)
	if err != nil {
		return err
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	db := postgres.NewDB(pool)
	customers := postgres.NewCustomerRepository(db)
	products := postgres.NewProductRepository(db)
	discounts := postgres.NewDiscountRepository(db)
	apiKeys := postgres.NewAPIKeyRepository(db)

	return db.RunInTx(ctx, func(ctx context.Context) error {
		for i := range s.Countries {
			if err := customers.UpsertCountry(ctx, &s.Countries[i]); err != nil {
				return err
			}
		}
		for i := range s.Customers {
			if err := customers.Upsert(ctx, &s.Customers[i]); err != nil {
				return err
			}
		}
		for i := range s.Products {
			if err := products.Upsert(ctx, &s.Products[i]); err != nil {
				return err
			}
		}
		for i := range s.Discounts {
			if err := discounts.Save(ctx, &s.Discounts[i]); err != nil {
				return err
			}
		}
		lg.Info("Fixtures upserted",
			zap.Int("countries", len(s.Countries)),
			zap.Int("customers", len(s.Customers)),
			zap.Int("products", len(s.Products)),
			zap.Int("discounts", len(s.Discounts)),
		)

		for _, k := range keys {
			info := &auth.APIKeyInfo{
				ID:      uuid.NewString(),
				KeyHash: auth.HashKey(k.raw, pepper),
				Name:    k.name,
				Scopes:  k.scopes,
			}
			if err := apiKeys.Save(ctx, info); err != nil {
				return err
			}
			lg.Info("Upserted API key", zap.String("name", k.name), zap.Strings("scopes", k.scopes))
		}
		return nil
	})
}
