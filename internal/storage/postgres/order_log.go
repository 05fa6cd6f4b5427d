package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	insertNoteSQL = `INSERT INTO order_notes (id, order_id, text, display_to_customer, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	listNotesSQL = `SELECT id, order_id, text, display_to_customer, created_at
		FROM order_notes WHERE order_id = $1 ORDER BY created_at, id`

	setGiftCardsActiveSQL = `UPDATE gift_cards SET is_activated = $2 WHERE order_id = $1`

	insertReconciliationSQL = `INSERT INTO stock_reconciliations
		(id, order_id, line_item_id, product_id, selection, delta, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	reconciliationColumns = `id, order_id, line_item_id, product_id, selection, delta, error, created_at, resolved_at`

	listPendingByOrderSQL = `SELECT ` + reconciliationColumns + ` FROM stock_reconciliations
		WHERE order_id = $1 AND resolved_at IS NULL ORDER BY created_at, id`

	listPendingSQL = `SELECT ` + reconciliationColumns + ` FROM stock_reconciliations
		WHERE resolved_at IS NULL ORDER BY created_at, id LIMIT $1`

	resolveReconciliationSQL = `UPDATE stock_reconciliations SET resolved_at = $2
		WHERE id = $1 AND resolved_at IS NULL`
)

var (
	_ order.NoteRepository           = (*OrderLogRepository)(nil)
	_ order.GiftCardRepository       = (*OrderLogRepository)(nil)
	_ order.ReconciliationRepository = (*OrderLogRepository)(nil)
)

// OrderLogRepository stores the rows that hang off an order: notes, gift
// cards and pending stock reconciliations.
type OrderLogRepository struct {
	db *DB
}

// NewOrderLogRepository returns an OrderLogRepository that uses db.
func NewOrderLogRepository(db *DB) *OrderLogRepository {
	return &OrderLogRepository{db: db}
}

func (r *OrderLogRepository) AddNote(ctx context.Context, n *order.Note) error {
	_, err := r.db.conn(ctx).Exec(ctx, insertNoteSQL, n.ID, n.OrderID, n.Text, n.DisplayToCustomer, n.CreatedAt)
	return errors.Wrapf(err, "add note to order %q", n.OrderID)
}

func (r *OrderLogRepository) ListNotes(ctx context.Context, orderID string) ([]order.Note, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listNotesSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list notes of order %q", orderID)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Note, error) {
		var n order.Note
		err := row.Scan(&n.ID, &n.OrderID, &n.Text, &n.DisplayToCustomer, &n.CreatedAt)
		return n, err
	})
}

// CreateGiftCards copies cards in with one COPY round trip.
func (r *OrderLogRepository) CreateGiftCards(ctx context.Context, cards []order.GiftCard) error {
	if len(cards) == 0 {
		return nil
	}
	_, err := r.db.conn(ctx).CopyFrom(ctx,
		pgx.Identifier{"gift_cards"},
		[]string{"id", "order_id", "line_item_id", "code", "amount", "is_activated", "created_at"},
		pgx.CopyFromSlice(len(cards), func(i int) ([]any, error) {
			c := cards[i]
			return []any{c.ID, c.OrderID, c.LineItemID, c.Code, c.Amount, c.IsActivated, c.CreatedAt}, nil
		}),
	)
	return errors.Wrap(err, "create gift cards")
}

func (r *OrderLogRepository) SetGiftCardsActive(ctx context.Context, orderID string, active bool) error {
	_, err := r.db.conn(ctx).Exec(ctx, setGiftCardsActiveSQL, orderID, active)
	return errors.Wrapf(err, "set gift cards of order %q active=%t", orderID, active)
}

func (r *OrderLogRepository) AddReconciliation(ctx context.Context, rec *order.StockReconciliation) error {
	_, err := r.db.conn(ctx).Exec(ctx, insertReconciliationSQL,
		rec.ID, rec.OrderID, rec.LineItemID, rec.ProductID, rec.Selection, rec.Delta, rec.Error, rec.CreatedAt)
	return errors.Wrapf(err, "add stock reconciliation for order %q", rec.OrderID)
}

func (r *OrderLogRepository) ListPendingReconciliations(ctx context.Context, orderID string) ([]order.StockReconciliation, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listPendingByOrderSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list pending reconciliations of order %q", orderID)
	}
	return pgx.CollectRows(rows, scanReconciliation)
}

func (r *OrderLogRepository) ListAllPendingReconciliations(ctx context.Context, limit int) ([]order.StockReconciliation, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listPendingSQL, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list pending reconciliations")
	}
	return pgx.CollectRows(rows, scanReconciliation)
}

func (r *OrderLogRepository) ResolveReconciliation(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.conn(ctx).Exec(ctx, resolveReconciliationSQL, id, at)
	return errors.Wrapf(err, "resolve reconciliation %q", id)
}

func scanReconciliation(row pgx.CollectableRow) (order.StockReconciliation, error) {
	var rec order.StockReconciliation
	err := row.Scan(&rec.ID, &rec.OrderID, &rec.LineItemID, &rec.ProductID, &rec.Selection,
		&rec.Delta, &rec.Error, &rec.CreatedAt, &rec.ResolvedAt)
	return rec, err
}
