package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-orders/internal/domain/customer"
)

const (
	customerColumns = `id, store_id, email, is_guest, is_tax_exempt, active, deleted, roles,
		currency_code, language_code, billing_address, shipping_address, checkout`

	getCustomerSQL = `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	upsertCustomerSQL = `INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			store_id = EXCLUDED.store_id, email = EXCLUDED.email, is_guest = EXCLUDED.is_guest,
			is_tax_exempt = EXCLUDED.is_tax_exempt, active = EXCLUDED.active, deleted = EXCLUDED.deleted,
			roles = EXCLUDED.roles, currency_code = EXCLUDED.currency_code,
			language_code = EXCLUDED.language_code, billing_address = EXCLUDED.billing_address,
			shipping_address = EXCLUDED.shipping_address, checkout = EXCLUDED.checkout`

	saveCheckoutSQL = `UPDATE customers SET checkout = $2 WHERE id = $1`

	getCountrySQL = `SELECT code, name, allows_billing, allows_shipping FROM countries WHERE code = upper($1)`

	upsertCountrySQL = `INSERT INTO countries (code, name, allows_billing, allows_shipping)
		VALUES (upper($1), $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name,
			allows_billing = EXCLUDED.allows_billing, allows_shipping = EXCLUDED.allows_shipping`
)

var (
	_ customer.Repository        = (*CustomerRepository)(nil)
	_ customer.CountryRepository = (*CustomerRepository)(nil)
)

// CustomerRepository stores customers and countries. Addresses and the
// checkout state are JSONB documents.
type CustomerRepository struct {
	db *DB
}

// NewCustomerRepository returns a CustomerRepository that uses db.
func NewCustomerRepository(db *DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*customer.Customer, error) {
	var c customer.Customer
	err := r.db.conn(ctx).QueryRow(ctx, getCustomerSQL, id).Scan(
		&c.ID, &c.StoreID, &c.Email, &c.IsGuest, &c.IsTaxExempt, &c.Active, &c.Deleted, &c.Roles,
		&c.CurrencyCode, &c.LanguageCode, &c.BillingAddress, &c.ShippingAddress, &c.Checkout,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get customer %q", id)
	}
	return &c, nil
}

func (r *CustomerRepository) SaveCheckoutState(ctx context.Context, customerID string, state customer.CheckoutState) error {
	tag, err := r.db.conn(ctx).Exec(ctx, saveCheckoutSQL, customerID, state)
	if err != nil {
		return errors.Wrapf(err, "save checkout state of customer %q", customerID)
	}
	if tag.RowsAffected() == 0 {
		return customer.ErrNotFound
	}
	return nil
}

// Upsert inserts or replaces c.
func (r *CustomerRepository) Upsert(ctx context.Context, c *customer.Customer) error {
	roles := c.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := r.db.conn(ctx).Exec(ctx, upsertCustomerSQL,
		c.ID, c.StoreID, c.Email, c.IsGuest, c.IsTaxExempt, c.Active, c.Deleted, roles,
		c.CurrencyCode, c.LanguageCode, c.BillingAddress, c.ShippingAddress, c.Checkout,
	)
	return errors.Wrapf(err, "upsert customer %q", c.ID)
}

func (r *CustomerRepository) GetByCode(ctx context.Context, code string) (*customer.Country, error) {
	var c customer.Country
	err := r.db.conn(ctx).QueryRow(ctx, getCountrySQL, code).Scan(
		&c.Code, &c.Name, &c.AllowsBilling, &c.AllowsShipping,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrCountryNotFound
		}
		return nil, errors.Wrapf(err, "get country %q", code)
	}
	return &c, nil
}

// UpsertCountry inserts or replaces c.
func (r *CustomerRepository) UpsertCountry(ctx context.Context, c *customer.Country) error {
	_, err := r.db.conn(ctx).Exec(ctx, upsertCountrySQL, c.Code, c.Name, c.AllowsBilling, c.AllowsShipping)
	return errors.Wrapf(err, "upsert country %q", c.Code)
}
