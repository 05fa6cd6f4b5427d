package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const orderColumns = `id, custom_order_number, store_id, customer_id,
	customer_currency_code, currency_rate, customer_language_code,
	billing_address, shipping_address, shipping_method,
	status, payment_status, payment_method,
	authorization_transaction_id, capture_transaction_id, subscription_transaction_id,
	subtotal_incl_tax, subtotal_excl_tax, subtotal_discount_incl_tax, subtotal_discount_excl_tax,
	shipping_incl_tax, shipping_excl_tax, shipping_tax_rate,
	payment_fee_incl_tax, payment_fee_excl_tax, payment_fee_tax_rate,
	tax, tax_rates, order_discount, total, refunded_amount,
	redeemed_reward_points, redeemed_reward_points_amount,
	redeemed_points_entry_id, awarded_points_entry_id, reduced_points_entry_id, returned_points_entry_id,
	checkout_attributes, paid_at, deleted, created_at, applied_discount_ids`

const itemColumns = `id, order_id, product_id, product_name, sku, quantity,
	unit_price_incl_tax, unit_price_excl_tax, price_incl_tax, price_excl_tax,
	discount_incl_tax, discount_excl_tax, tax_rate,
	selection, attribute_description, original_product_cost,
	is_gift_card, is_ship_enabled, rental_start, rental_end`

var (
	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `) VALUES (` +
		placeholders(1, columnCount(orderColumns)) + `)`

	// id is rewritten with itself, which keeps one argument order for
	// insert and update.
	updateOrderSQL = `UPDATE orders SET (` + orderColumns + `) = (` +
		placeholders(1, columnCount(orderColumns)) + `) WHERE id = $1`

	insertItemSQL = `INSERT INTO order_items (` + itemColumns + `, position) VALUES (` +
		placeholders(1, columnCount(itemColumns)+1) + `)`
)

const (
	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listItemsSQL = `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = $1 ORDER BY position`

	updateItemSQL = `UPDATE order_items SET quantity = $2,
		unit_price_incl_tax = $3, unit_price_excl_tax = $4,
		price_incl_tax = $5, price_excl_tax = $6,
		discount_incl_tax = $7, discount_excl_tax = $8
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository that uses db.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order header and its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)
		if _, err := q.Exec(ctx, insertOrderSQL, orderArgs(o)...); err != nil {
			return errors.Wrapf(err, "insert order %q", o.ID)
		}

		batch := &pgx.Batch{}
		for i := range o.Items {
			args := append(itemArgs(&o.Items[i]), i)
			batch.Queue(insertItemSQL, args...)
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "insert items of order %q", o.ID)
		}
		return nil
	})
}

// GetByID returns the order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	q := r.db.conn(ctx)
	rows, err := q.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	rows, err = q.Query(ctx, listItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list items of order %q", id)
	}
	o.Items, err = pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, errors.Wrapf(err, "list items of order %q", id)
	}
	return &o, nil
}

// Update writes the order header.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	tag, err := r.db.conn(ctx).Exec(ctx, updateOrderSQL, orderArgs(o)...)
	if err != nil {
		return errors.Wrapf(err, "update order %q", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// UpdateItems writes the quantity and money columns of items.
func (r *OrderRepository) UpdateItems(ctx context.Context, items []order.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(updateItemSQL, it.ID, it.Quantity,
			it.UnitPriceInclTax, it.UnitPriceExclTax,
			it.PriceInclTax, it.PriceExclTax,
			it.DiscountInclTax, it.DiscountExclTax)
	}
	if err := r.db.conn(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "update order items")
	}
	return nil
}

func orderArgs(o *order.Order) []any {
	return []any{
		o.ID, o.CustomOrderNumber, o.StoreID, o.CustomerID,
		o.CustomerCurrencyCode, o.CurrencyRate, o.CustomerLanguageCode,
		o.BillingAddress, o.ShippingAddress, o.ShippingMethod,
		o.Status, o.PaymentStatus, o.PaymentMethod,
		o.AuthorizationTransactionID, o.CaptureTransactionID, o.SubscriptionTransactionID,
		o.SubtotalInclTax, o.SubtotalExclTax, o.SubtotalDiscountInclTax, o.SubtotalDiscountExclTax,
		o.ShippingInclTax, o.ShippingExclTax, o.ShippingTaxRate,
		o.PaymentFeeInclTax, o.PaymentFeeExclTax, o.PaymentFeeTaxRate,
		o.Tax, o.TaxRates, o.OrderDiscount, o.Total, o.RefundedAmount,
		o.RedeemedRewardPoints, o.RedeemedRewardPointsAmount,
		nullString(o.RedeemedPointsEntryID), nullString(o.AwardedPointsEntryID),
		nullString(o.ReducedPointsEntryID), nullString(o.ReturnedPointsEntryID),
		o.CheckoutAttributes, o.PaidAt, o.Deleted, o.CreatedAt, nonNilIDs(o.AppliedDiscountIDs),
	}
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	var redeemed, awarded, reduced, returned *string
	err := row.Scan(
		&o.ID, &o.CustomOrderNumber, &o.StoreID, &o.CustomerID,
		&o.CustomerCurrencyCode, &o.CurrencyRate, &o.CustomerLanguageCode,
		&o.BillingAddress, &o.ShippingAddress, &o.ShippingMethod,
		&o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.AuthorizationTransactionID, &o.CaptureTransactionID, &o.SubscriptionTransactionID,
		&o.SubtotalInclTax, &o.SubtotalExclTax, &o.SubtotalDiscountInclTax, &o.SubtotalDiscountExclTax,
		&o.ShippingInclTax, &o.ShippingExclTax, &o.ShippingTaxRate,
		&o.PaymentFeeInclTax, &o.PaymentFeeExclTax, &o.PaymentFeeTaxRate,
		&o.Tax, &o.TaxRates, &o.OrderDiscount, &o.Total, &o.RefundedAmount,
		&o.RedeemedRewardPoints, &o.RedeemedRewardPointsAmount,
		&redeemed, &awarded, &reduced, &returned,
		&o.CheckoutAttributes, &o.PaidAt, &o.Deleted, &o.CreatedAt, &o.AppliedDiscountIDs,
	)
	if err != nil {
		return order.Order{}, errors.Wrap(err, "scan order")
	}
	o.RedeemedPointsEntryID = fromNull(redeemed)
	o.AwardedPointsEntryID = fromNull(awarded)
	o.ReducedPointsEntryID = fromNull(reduced)
	o.ReturnedPointsEntryID = fromNull(returned)
	return o, nil
}

func itemArgs(it *order.LineItem) []any {
	return []any{
		it.ID, it.OrderID, it.ProductID, it.ProductName, it.SKU, it.Quantity,
		it.UnitPriceInclTax, it.UnitPriceExclTax, it.PriceInclTax, it.PriceExclTax,
		it.DiscountInclTax, it.DiscountExclTax, it.TaxRate,
		it.Selection, it.AttributeDescription, it.OriginalProductCost,
		it.IsGiftCard, it.IsShipEnabled, it.RentalStart, it.RentalEnd,
	}
}

func scanItem(row pgx.CollectableRow) (order.LineItem, error) {
	var it order.LineItem
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.SKU, &it.Quantity,
		&it.UnitPriceInclTax, &it.UnitPriceExclTax, &it.PriceInclTax, &it.PriceExclTax,
		&it.DiscountInclTax, &it.DiscountExclTax, &it.TaxRate,
		&it.Selection, &it.AttributeDescription, &it.OriginalProductCost,
		&it.IsGiftCard, &it.IsShipEnabled, &it.RentalStart, &it.RentalEnd,
	)
	return it, err
}

// nonNilIDs keeps the NOT NULL array column at '{}' for orders without
// discounts.
func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
