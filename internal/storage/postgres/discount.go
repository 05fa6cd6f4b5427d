package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-orders/internal/domain/discount"
)

const (
	discountColumns = `id, name, scope, use_percentage, percentage, amount, max_amount, combinable,
		requires_coupon_code, coalesce(coupon_code, ''), starts_at, ends_at,
		limitation, limitation_times, required_roles`

	listDiscountsByScopeSQL = `SELECT ` + discountColumns + ` FROM discounts WHERE scope = $1 ORDER BY id`

	findByCouponCodeSQL = `SELECT ` + discountColumns + ` FROM discounts WHERE coupon_code = upper(trim($1))`

	listCouponCodesSQL = `SELECT coupon_code FROM discounts WHERE coupon_code IS NOT NULL`

	upsertCouponDiscountSQL = `INSERT INTO discounts (name, scope, use_percentage, percentage, amount,
		max_amount, combinable, requires_coupon_code, coupon_code, starts_at, ends_at,
		limitation, limitation_times, required_roles)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (coupon_code) DO UPDATE SET
			name = EXCLUDED.name, scope = EXCLUDED.scope, use_percentage = EXCLUDED.use_percentage,
			percentage = EXCLUDED.percentage, amount = EXCLUDED.amount, max_amount = EXCLUDED.max_amount,
			combinable = EXCLUDED.combinable, requires_coupon_code = EXCLUDED.requires_coupon_code,
			starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at, limitation = EXCLUDED.limitation,
			limitation_times = EXCLUDED.limitation_times, required_roles = EXCLUDED.required_roles
		RETURNING id`

	insertDiscountSQL = `INSERT INTO discounts (name, scope, use_percentage, percentage, amount,
		max_amount, combinable, requires_coupon_code, coupon_code, starts_at, ends_at,
		limitation, limitation_times, required_roles)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	countUsageSQL = `SELECT count(*) FROM discount_usage WHERE discount_id = $1`

	countCustomerUsageSQL = `SELECT count(*) FROM discount_usage WHERE discount_id = $1 AND customer_id = $2`
)

var (
	_ discount.Repository      = (*DiscountRepository)(nil)
	_ discount.UsageRepository = (*DiscountRepository)(nil)
)

// DiscountRepository stores discounts, their coupon codes and usage history.
type DiscountRepository struct {
	db *DB
}

// NewDiscountRepository returns a DiscountRepository that uses db.
func NewDiscountRepository(db *DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

func (r *DiscountRepository) ListByScope(ctx context.Context, scope discount.Scope) ([]discount.Discount, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listDiscountsByScopeSQL, scope)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s discounts", scope)
	}
	return pgx.CollectRows(rows, scanDiscount)
}

func (r *DiscountRepository) FindByCouponCode(ctx context.Context, code string) (*discount.Discount, error) {
	rows, err := r.db.conn(ctx).Query(ctx, findByCouponCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrCouponNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &d, nil
}

func (r *DiscountRepository) ListCouponCodes(ctx context.Context) ([]string, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listCouponCodesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list coupon codes")
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Save inserts d, or updates the discount holding the same coupon code,
// and sets d.ID.
func (r *DiscountRepository) Save(ctx context.Context, d *discount.Discount) error {
	query := insertDiscountSQL
	code := nullString(discount.NormalizeCode(d.CouponCode))
	if code != nil {
		query = upsertCouponDiscountSQL
	}
	roles := d.RequiredRoles
	if roles == nil {
		roles = []string{}
	}
	limitation := d.Limitation
	if limitation == "" {
		limitation = discount.Unlimited
	}
	err := r.db.conn(ctx).QueryRow(ctx, query,
		d.Name, d.Scope, d.UsePercentage, d.Percentage, d.Amount,
		d.MaxAmount, d.Combinable, d.RequiresCouponCode, code, d.StartsAt, d.EndsAt,
		limitation, d.LimitationTimes, roles,
	).Scan(&d.ID)
	return errors.Wrapf(err, "save discount %q", d.Name)
}

// SaveCoupons upserts many coupon discounts in one batch.
func (r *DiscountRepository) SaveCoupons(ctx context.Context, ds []discount.Discount) error {
	batch := &pgx.Batch{}
	for i := range ds {
		d := &ds[i]
		roles := d.RequiredRoles
		if roles == nil {
			roles = []string{}
		}
		batch.Queue(upsertCouponDiscountSQL,
			d.Name, d.Scope, d.UsePercentage, d.Percentage, d.Amount,
			d.MaxAmount, d.Combinable, true, discount.NormalizeCode(d.CouponCode), d.StartsAt, d.EndsAt,
			d.Limitation, d.LimitationTimes, roles,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&d.ID)
		})
	}
	return errors.Wrap(r.db.conn(ctx).SendBatch(ctx, batch).Close(), "save coupons")
}

func (r *DiscountRepository) CountUsage(ctx context.Context, discountID int64) (int, error) {
	var n int
	err := r.db.conn(ctx).QueryRow(ctx, countUsageSQL, discountID).Scan(&n)
	return n, errors.Wrapf(err, "count usage of discount %d", discountID)
}

func (r *DiscountRepository) CountCustomerUsage(ctx context.Context, discountID int64, customerID string) (int, error) {
	var n int
	err := r.db.conn(ctx).QueryRow(ctx, countCustomerUsageSQL, discountID, customerID).Scan(&n)
	return n, errors.Wrapf(err, "count usage of discount %d by %q", discountID, customerID)
}

// RecordUsage copies usages in with one COPY round trip.
func (r *DiscountRepository) RecordUsage(ctx context.Context, usages []discount.Usage) error {
	if len(usages) == 0 {
		return nil
	}
	_, err := r.db.conn(ctx).CopyFrom(ctx,
		pgx.Identifier{"discount_usage"},
		[]string{"discount_id", "order_id", "customer_id", "created_at"},
		pgx.CopyFromSlice(len(usages), func(i int) ([]any, error) {
			u := usages[i]
			at := u.CreatedAt
			if at.IsZero() {
				at = time.Now()
			}
			return []any{u.DiscountID, u.OrderID, u.CustomerID, at}, nil
		}),
	)
	return errors.Wrap(err, "record discount usage")
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var d discount.Discount
	err := row.Scan(
		&d.ID, &d.Name, &d.Scope, &d.UsePercentage, &d.Percentage, &d.Amount, &d.MaxAmount, &d.Combinable,
		&d.RequiresCouponCode, &d.CouponCode, &d.StartsAt, &d.EndsAt,
		&d.Limitation, &d.LimitationTimes, &d.RequiredRoles,
	)
	return d, err
}
