package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/hhledger/internal/apperrors"
	"github.com/nkiryanov/hhledger/internal/models"
)

const couponsOwnerPoolUnique = "coupons_owner_pool_unique"

type CouponRepo struct {
	DB DBTX
}

const poolColumns = `id, name, code_prefix, discount_type, discount_value, min_order_amount,
	total_quantity, issued_count, valid_days, starts_at, ends_at, active, created_at`

const createPool = `-- name: CreatePool
INSERT INTO coupon_pools (id, name, code_prefix, discount_type, discount_value, min_order_amount,
	total_quantity, issued_count, valid_days, starts_at, ends_at, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11)
RETURNING ` + poolColumns + `
`

func (r *CouponRepo) CreatePool(ctx context.Context, p models.Pool) (models.Pool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, createPool,
		p.ID, p.Name, p.CodePrefix, p.Discount.Type, p.Discount.Value, p.Discount.MinOrderAmount,
		p.TotalQuantity, p.ValidDays, p.StartsAt, p.EndsAt, p.Active,
	)
	pool, err := pgx.CollectOneRow(rows, rowToPool)

	if err != nil {
		if code, _ := pgErrorCode(err); code == pgerrcode.CheckViolation {
			return pool, apperrors.ErrInvalidAmount
		}
		return pool, dbError("db error", err)
	}

	return pool, nil
}

const getPool = `-- name: GetPool
SELECT ` + poolColumns + ` FROM coupon_pools
WHERE id = $1
`

func (r *CouponRepo) GetPool(ctx context.Context, poolID uuid.UUID) (models.Pool, error) {
	rows, _ := r.DB.Query(ctx, getPool, poolID)
	pool, err := pgx.CollectOneRow(rows, rowToPool)

	switch {
	case err == nil:
		return pool, nil
	case errors.Is(err, pgx.ErrNoRows):
		return pool, apperrors.ErrPoolNotFound
	default:
		return pool, dbError("db error", err)
	}
}

const hasCoupon = `-- name: HasCoupon
SELECT EXISTS (SELECT 1 FROM coupons WHERE owner_id = $1 AND pool_id = $2)
`

func (r *CouponRepo) HasCoupon(ctx context.Context, ownerID uuid.UUID, poolID uuid.UUID) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, hasCoupon, ownerID, poolID).Scan(&exists)
	if err != nil {
		return false, dbError("db error", err)
	}

	return exists, nil
}

// Same re-evaluation rule as for balances: racing issuers queue on the pool row
// and each one sees the count left by the previous commit.
const incrementIssued = `-- name: IncrementIssued
UPDATE coupon_pools
SET issued_count = issued_count + 1
WHERE id = $1 AND issued_count < total_quantity
RETURNING issued_count
`

func (r *CouponRepo) IncrementIssued(ctx context.Context, poolID uuid.UUID) (int, bool, error) {
	var issued int
	err := r.DB.QueryRow(ctx, incrementIssued, poolID).Scan(&issued)

	switch {
	case err == nil:
		return issued, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, dbError("db error", err)
	}
}

const couponColumns = `id, code, owner_id, pool_id, discount_type, discount_value, min_order_amount, status, issued_at, expires_at`

const createCoupon = `-- name: CreateCoupon
INSERT INTO coupons (` + couponColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + couponColumns + `
`

func (r *CouponRepo) CreateCoupon(ctx context.Context, c models.Coupon) (models.Coupon, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.CouponAvailable
	}

	rows, _ := r.DB.Query(ctx, createCoupon,
		c.ID, c.Code, c.OwnerID, c.PoolID, c.Discount.Type, c.Discount.Value, c.Discount.MinOrderAmount,
		c.Status, c.IssuedAt, c.ExpiresAt,
	)
	coupon, err := pgx.CollectOneRow(rows, rowToCoupon)

	if err != nil {
		code, constraint := pgErrorCode(err)
		switch {
		case code == pgerrcode.UniqueViolation && constraint == couponsOwnerPoolUnique:
			return coupon, apperrors.ErrDuplicateIssuance
		case code == pgerrcode.ForeignKeyViolation && constraint == "coupons_pool_id_fkey":
			return coupon, apperrors.ErrPoolNotFound
		case code == pgerrcode.ForeignKeyViolation:
			return coupon, apperrors.ErrOwnerNotFound
		default:
			return coupon, dbError("db error", err)
		}
	}

	return coupon, nil
}

const listCoupons = `-- name: ListCoupons
SELECT ` + couponColumns + ` FROM coupons
WHERE owner_id = $1
ORDER BY issued_at DESC, id
`

func (r *CouponRepo) ListCoupons(ctx context.Context, ownerID uuid.UUID) ([]models.Coupon, error) {
	rows, _ := r.DB.Query(ctx, listCoupons, ownerID)
	coupons, err := pgx.CollectRows(rows, rowToCoupon)
	if err != nil {
		return nil, dbError("db error", err)
	}

	return coupons, nil
}

func rowToPool(row pgx.CollectableRow) (models.Pool, error) {
	var p models.Pool
	err := row.Scan(
		&p.ID, &p.Name, &p.CodePrefix, &p.Discount.Type, &p.Discount.Value, &p.Discount.MinOrderAmount,
		&p.TotalQuantity, &p.IssuedCount, &p.ValidDays, &p.StartsAt, &p.EndsAt, &p.Active, &p.CreatedAt,
	)
	return p, err
}

func rowToCoupon(row pgx.CollectableRow) (models.Coupon, error) {
	var c models.Coupon
	err := row.Scan(
		&c.ID, &c.Code, &c.OwnerID, &c.PoolID, &c.Discount.Type, &c.Discount.Value, &c.Discount.MinOrderAmount,
		&c.Status, &c.IssuedAt, &c.ExpiresAt,
	)
	return c, err
}
