package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-orders/internal/domain/cart"
)

const (
	listCartLinesSQL = `SELECT id, customer_id, store_id, product_id, quantity, selection,
		customer_entered_price, rental_start, rental_end, created_at
		FROM cart_lines WHERE customer_id = $1 AND store_id = $2 ORDER BY created_at, id`

	deleteCartLinesSQL = `DELETE FROM cart_lines WHERE id = ANY($1)`

	insertCartLineSQL = `INSERT INTO cart_lines (id, customer_id, store_id, product_id, quantity, selection,
		customer_entered_price, rental_start, rental_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository stores checkout cart lines.
type CartRepository struct {
	db *DB
}

// NewCartRepository returns a CartRepository that uses db.
func NewCartRepository(db *DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) ListByCustomer(ctx context.Context, customerID, storeID string) ([]cart.Line, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listCartLinesSQL, customerID, storeID)
	if err != nil {
		return nil, errors.Wrapf(err, "list cart of customer %q", customerID)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ID, &l.CustomerID, &l.StoreID, &l.ProductID, &l.Quantity, &l.Selection,
			&l.CustomerEnteredPrice, &l.RentalStart, &l.RentalEnd, &l.CreatedAt)
		return l, err
	})
}

func (r *CartRepository) DeleteLines(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.conn(ctx).Exec(ctx, deleteCartLinesSQL, ids)
	return errors.Wrap(err, "delete cart lines")
}

// AddLine appends l to its customer's cart.
func (r *CartRepository) AddLine(ctx context.Context, l *cart.Line) error {
	_, err := r.db.conn(ctx).Exec(ctx, insertCartLineSQL,
		l.ID, l.CustomerID, l.StoreID, l.ProductID, l.Quantity, l.Selection,
		l.CustomerEnteredPrice, l.RentalStart, l.RentalEnd, l.CreatedAt)
	return errors.Wrapf(err, "add cart line for customer %q", l.CustomerID)
}
