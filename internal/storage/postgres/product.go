package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/inventory"
)

const (
	productColumns = `id, name, sku, price, cost, tax_category, is_tax_exempt,
		customer_enters_price, min_customer_entered_price, max_customer_entered_price,
		is_gift_card, is_recurring, is_ship_enabled, is_rental, rental_period_days,
		published, disable_buy_button, deleted, order_min_quantity, order_max_quantity,
		inventory_mode, stock_quantity, min_stock_quantity, low_stock_activity,
		notify_admin_below, allow_backorder, allow_back_in_stock_subscribers,
		attributes, tier_prices, version, updated_at`

	combinationColumns = `id, product_id, selection, sku, stock_quantity, allow_out_of_stock,
		notify_admin_below, overridden_price, version`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	listCombinationsSQL = `SELECT ` + combinationColumns + ` FROM product_combinations
		WHERE product_id = ANY($1) ORDER BY product_id, id`

	updateInventorySQL = `UPDATE products
		SET stock_quantity = $2, published = $3, disable_buy_button = $4,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $5
		RETURNING updated_at`

	updateCombinationStockSQL = `UPDATE product_combinations
		SET stock_quantity = $3, version = version + 1
		WHERE product_id = $1 AND id = $2 AND version = $4`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, 0, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, sku = EXCLUDED.sku, price = EXCLUDED.price, cost = EXCLUDED.cost,
			tax_category = EXCLUDED.tax_category, is_tax_exempt = EXCLUDED.is_tax_exempt,
			customer_enters_price = EXCLUDED.customer_enters_price,
			min_customer_entered_price = EXCLUDED.min_customer_entered_price,
			max_customer_entered_price = EXCLUDED.max_customer_entered_price,
			is_gift_card = EXCLUDED.is_gift_card, is_recurring = EXCLUDED.is_recurring,
			is_ship_enabled = EXCLUDED.is_ship_enabled, is_rental = EXCLUDED.is_rental,
			rental_period_days = EXCLUDED.rental_period_days, published = EXCLUDED.published,
			disable_buy_button = EXCLUDED.disable_buy_button, deleted = EXCLUDED.deleted,
			order_min_quantity = EXCLUDED.order_min_quantity, order_max_quantity = EXCLUDED.order_max_quantity,
			inventory_mode = EXCLUDED.inventory_mode, stock_quantity = EXCLUDED.stock_quantity,
			min_stock_quantity = EXCLUDED.min_stock_quantity, low_stock_activity = EXCLUDED.low_stock_activity,
			notify_admin_below = EXCLUDED.notify_admin_below, allow_backorder = EXCLUDED.allow_backorder,
			allow_back_in_stock_subscribers = EXCLUDED.allow_back_in_stock_subscribers,
			attributes = EXCLUDED.attributes, tier_prices = EXCLUDED.tier_prices,
			version = products.version + 1, updated_at = now()`

	upsertCombinationSQL = `INSERT INTO product_combinations
		(product_id, selection, sku, stock_quantity, allow_out_of_stock, notify_admin_below, overridden_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (product_id, selection) DO UPDATE SET
			sku = EXCLUDED.sku, stock_quantity = EXCLUDED.stock_quantity,
			allow_out_of_stock = EXCLUDED.allow_out_of_stock, notify_admin_below = EXCLUDED.notify_admin_below,
			overridden_price = EXCLUDED.overridden_price, version = product_combinations.version + 1`

	insertStockHistorySQL = `INSERT INTO stock_history
		(id, product_id, combination_id, adjustment, stock_quantity, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

var (
	_ catalog.Repository          = (*ProductRepository)(nil)
	_ inventory.HistoryRepository = (*ProductRepository)(nil)
)

// ProductRepository implements catalog.Repository and the stock history
// log backed by PostgreSQL. Attributes and tier prices live in JSONB.
type ProductRepository struct {
	db *DB
}

// NewProductRepository returns a ProductRepository that uses db.
func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByID returns a single product with its combinations.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	products := []catalog.Product{p}
	if err := r.attachCombinations(ctx, products); err != nil {
		return nil, err
	}
	return &products[0], nil
}

// GetByIDs returns products matching any of ids. Unknown ids are skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	if err := r.attachCombinations(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *ProductRepository) attachCombinations(ctx context.Context, products []catalog.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, len(products))
	index := make(map[string]int, len(products))
	for i := range products {
		ids[i] = products[i].ID
		index[products[i].ID] = i
	}

	rows, err := r.db.conn(ctx).Query(ctx, listCombinationsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "list combinations")
	}
	owned, err := pgx.CollectRows(rows, scanCombination)
	if err != nil {
		return errors.Wrap(err, "list combinations")
	}
	for _, oc := range owned {
		if i, ok := index[oc.productID]; ok {
			products[i].Combinations = append(products[i].Combinations, oc.AttributeCombination)
		}
	}
	return nil
}

type ownedCombination struct {
	productID string
	catalog.AttributeCombination
}

func scanCombination(row pgx.CollectableRow) (ownedCombination, error) {
	var c ownedCombination
	err := row.Scan(&c.ID, &c.productID, &c.Selection, &c.SKU, &c.StockQuantity,
		&c.AllowOutOfStockOrders, &c.NotifyAdminForQuantityBelow, &c.OverriddenPrice, &c.Version)
	return c, err
}

// UpdateInventory writes stock and visibility if p.Version is current.
func (r *ProductRepository) UpdateInventory(ctx context.Context, p *catalog.Product) error {
	err := r.db.conn(ctx).QueryRow(ctx, updateInventorySQL,
		p.ID, p.Inventory.StockQuantity, p.Published, p.DisableBuyButton, p.Version,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ErrStaleVersion
		}
		return errors.Wrapf(err, "update inventory of product %q", p.ID)
	}
	p.Version++
	return nil
}

// UpdateCombinationStock writes a combination's stock if c.Version is current.
func (r *ProductRepository) UpdateCombinationStock(ctx context.Context, productID string, c *catalog.AttributeCombination) error {
	tag, err := r.db.conn(ctx).Exec(ctx, updateCombinationStockSQL, productID, c.ID, c.StockQuantity, c.Version)
	if err != nil {
		return errors.Wrapf(err, "update stock of combination %d", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrStaleVersion
	}
	c.Version++
	return nil
}

// Upsert inserts or replaces p and its combinations.
func (r *ProductRepository) Upsert(ctx context.Context, p *catalog.Product) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)
		_, err := q.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.SKU, p.Price, p.Cost, p.TaxCategory, p.IsTaxExempt,
			p.CustomerEntersPrice, p.MinimumCustomerEnteredPrice, p.MaximumCustomerEnteredPrice,
			p.IsGiftCard, p.IsRecurring, p.IsShipEnabled, p.IsRental, p.RentalPeriodDays,
			p.Published, p.DisableBuyButton, p.Deleted, p.OrderMinimumQuantity, p.OrderMaximumQuantity,
			p.Inventory.Mode, p.Inventory.StockQuantity, p.Inventory.MinStockQuantity, p.Inventory.LowStockActivity,
			p.Inventory.NotifyAdminForQuantityBelow, p.Inventory.AllowBackorder, p.Inventory.AllowBackInStockSubscribers,
			jsonList(p.Attributes), jsonList(p.TierPrices),
		)
		if err != nil {
			return errors.Wrapf(err, "upsert product %q", p.ID)
		}

		batch := &pgx.Batch{}
		for _, c := range p.Combinations {
			batch.Queue(upsertCombinationSQL, p.ID, c.Selection, c.SKU, c.StockQuantity,
				c.AllowOutOfStockOrders, c.NotifyAdminForQuantityBelow, c.OverriddenPrice)
		}
		return errors.Wrapf(q.SendBatch(ctx, batch).Close(), "upsert combinations of product %q", p.ID)
	})
}

// jsonList keeps empty lists as "[]" instead of JSON null.
func jsonList[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// Append writes one stock history row.
func (r *ProductRepository) Append(ctx context.Context, e *inventory.HistoryEntry) error {
	var combinationID *int64
	if e.CombinationID != 0 {
		combinationID = &e.CombinationID
	}
	_, err := r.db.conn(ctx).Exec(ctx, insertStockHistorySQL,
		e.ID, e.ProductID, combinationID, e.Adjustment, e.StockQuantity, e.Message, e.CreatedAt)
	return errors.Wrapf(err, "append stock history for product %q", e.ProductID)
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.SKU, &p.Price, &p.Cost, &p.TaxCategory, &p.IsTaxExempt,
		&p.CustomerEntersPrice, &p.MinimumCustomerEnteredPrice, &p.MaximumCustomerEnteredPrice,
		&p.IsGiftCard, &p.IsRecurring, &p.IsShipEnabled, &p.IsRental, &p.RentalPeriodDays,
		&p.Published, &p.DisableBuyButton, &p.Deleted, &p.OrderMinimumQuantity, &p.OrderMaximumQuantity,
		&p.Inventory.Mode, &p.Inventory.StockQuantity, &p.Inventory.MinStockQuantity, &p.Inventory.LowStockActivity,
		&p.Inventory.NotifyAdminForQuantityBelow, &p.Inventory.AllowBackorder, &p.Inventory.AllowBackInStockSubscribers,
		&p.Attributes, &p.TierPrices, &p.Version, &p.UpdatedAt,
	)
	if err != nil {
		return catalog.Product{}, errors.Wrap(err, "scan product")
	}
	return p, nil
}
