package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberline/checkout-api/internal/domain/coupon"
)

const (
	findActiveCouponSQL = `SELECT code, owner_id, discount_percent, active, expires_at, created_at
		FROM coupons
		WHERE UPPER(code) = UPPER($1) AND owner_id = $2 AND active = TRUE`

	deactivateCouponSQL = `UPDATE coupons SET active = FALSE
		WHERE UPPER(code) = UPPER($1) AND owner_id = $2`

	deleteOwnerCouponsSQL = `DELETE FROM coupons WHERE owner_id = $1`

	insertCouponSQL = `INSERT INTO coupons (code, owner_id, discount_percent, active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

var _ coupon.Store = (*CouponStore)(nil)

// CouponStore implements coupon.Store backed by PostgreSQL.
type CouponStore struct {
	pool *pgxpool.Pool
}

// NewCouponStore returns a CouponStore that uses the given pool.
func NewCouponStore(pool *pgxpool.Pool) *CouponStore {
	return &CouponStore{pool: pool}
}

// FindActive looks up an active coupon by code (case-insensitive), scoped to
// its owner. Expiry is not checked here; the pricing engine owns that rule.
// Returns coupon.ErrNotFound when no matching active coupon exists.
func (s *CouponStore) FindActive(ctx context.Context, code, ownerID string) (*coupon.Coupon, error) {
	rows, err := s.pool.Query(ctx, findActiveCouponSQL, code, ownerID)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// Deactivate marks the coupon inactive. Deactivating a missing or already
// inactive coupon is a no-op, so redelivered confirmations are harmless.
func (s *CouponStore) Deactivate(ctx context.Context, code, ownerID string) error {
	if _, err := s.pool.Exec(ctx, deactivateCouponSQL, code, ownerID); err != nil {
		return errors.Wrapf(err, "deactivate coupon %q", code)
	}
	return nil
}

// ReplaceForOwner deletes every coupon the owner holds and inserts c, in one
// transaction. Combined with the partial unique index on (owner_id) WHERE
// active, two concurrent replacements cannot both leave a coupon active; the
// loser surfaces coupon.ErrCodeCollision and the caller retries.
func (s *CouponStore) ReplaceForOwner(ctx context.Context, c *coupon.Coupon) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin replace")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, deleteOwnerCouponsSQL, c.OwnerID); err != nil {
		return errors.Wrapf(err, "delete coupons for owner %s", c.OwnerID)
	}

	_, err = tx.Exec(ctx, insertCouponSQL,
		c.Code, c.OwnerID, c.DiscountPercent, c.Active, c.ExpiresAt, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCodeCollision
		}
		return errors.Wrapf(err, "insert coupon %q", c.Code)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit replace")
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.Code, &c.OwnerID, &c.DiscountPercent, &c.Active, &c.ExpiresAt, &c.CreatedAt)
	return c, err
}
