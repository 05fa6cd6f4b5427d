package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-orders/internal/domain/rewardpoints"
)

const (
	// Serializes ledger writers per customer for the rest of the transaction.
	lockCustomerPointsSQL = `SELECT pg_advisory_xact_lock(hashtext('reward_points:' || $1 || ':' || $2))`

	pointsBalanceSQL = `SELECT coalesce(sum(points), 0) FROM reward_points
		WHERE customer_id = $1 AND store_id = $2 AND (activates_at IS NULL OR activates_at <= $3)`

	insertPointsSQL = `INSERT INTO reward_points
		(id, customer_id, store_id, points, used_amount, order_id, kind, message, activates_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	getPointsEntrySQL = `SELECT id, customer_id, store_id, points, used_amount, coalesce(order_id, ''),
		kind, message, activates_at, created_at
		FROM reward_points WHERE id = $1`
)

var _ rewardpoints.Repository = (*RewardPointsRepository)(nil)

// RewardPointsRepository is the append-only points ledger.
type RewardPointsRepository struct {
	db *DB
}

// NewRewardPointsRepository returns a RewardPointsRepository that uses db.
func NewRewardPointsRepository(db *DB) *RewardPointsRepository {
	return &RewardPointsRepository{db: db}
}

// Insert appends e under a per-customer advisory lock. A redemption larger
// than the active balance fails with rewardpoints.ErrInsufficientBalance.
func (r *RewardPointsRepository) Insert(ctx context.Context, e *rewardpoints.Entry) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)
		if _, err := q.Exec(ctx, lockCustomerPointsSQL, e.CustomerID, e.StoreID); err != nil {
			return errors.Wrap(err, "lock reward points")
		}

		if e.Kind == rewardpoints.KindRedeem {
			var balance int
			if err := q.QueryRow(ctx, pointsBalanceSQL, e.CustomerID, e.StoreID, e.CreatedAt).Scan(&balance); err != nil {
				return errors.Wrap(err, "reward points balance")
			}
			if balance+e.Points < 0 {
				return rewardpoints.ErrInsufficientBalance
			}
		}

		_, err := q.Exec(ctx, insertPointsSQL,
			e.ID, e.CustomerID, e.StoreID, e.Points, e.UsedAmount, nullString(e.OrderID),
			e.Kind, e.Message, e.ActivatesAt, e.CreatedAt)
		return errors.Wrapf(err, "insert reward points entry %q", e.ID)
	})
}

func (r *RewardPointsRepository) GetByID(ctx context.Context, id string) (*rewardpoints.Entry, error) {
	var e rewardpoints.Entry
	err := r.db.conn(ctx).QueryRow(ctx, getPointsEntrySQL, id).Scan(
		&e.ID, &e.CustomerID, &e.StoreID, &e.Points, &e.UsedAmount, &e.OrderID,
		&e.Kind, &e.Message, &e.ActivatesAt, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rewardpoints.ErrEntryNotFound
		}
		return nil, errors.Wrapf(err, "get reward points entry %q", id)
	}
	return &e, nil
}

func (r *RewardPointsRepository) Balance(ctx context.Context, customerID, storeID string, at time.Time) (int, error) {
	var balance int
	err := r.db.conn(ctx).QueryRow(ctx, pointsBalanceSQL, customerID, storeID, at).Scan(&balance)
	return balance, errors.Wrapf(err, "reward points balance of %q", customerID)
}
