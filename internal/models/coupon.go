package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage  DiscountType = "PERCENTAGE"
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
)

type CouponStatus string

const (
	CouponAvailable CouponStatus = "AVAILABLE"
	CouponUsed      CouponStatus = "USED"
	CouponExpired   CouponStatus = "EXPIRED"
)

// Discount terms are copied from a pool to every coupon issued from it
type Discount struct {
	Type           DiscountType
	Value          decimal.Decimal
	MinOrderAmount int64
}

// Pool is a first-come-first-served coupon event with a bounded quantity
type Pool struct {
	ID            uuid.UUID
	Name          string
	CodePrefix    string
	Discount      Discount
	TotalQuantity int
	IssuedCount   int
	ValidDays     int
	StartsAt      time.Time
	EndsAt        time.Time
	Active        bool
	CreatedAt     time.Time
}

// IsActiveAt reports whether coupons may be issued from the pool at now.
// The window is [StartsAt, EndsAt).
func (p Pool) IsActiveAt(now time.Time) bool {
	return p.Active && !now.Before(p.StartsAt) && now.Before(p.EndsAt)
}

func (p Pool) Remaining() int {
	return p.TotalQuantity - p.IssuedCount
}

type Coupon struct {
	ID        uuid.UUID
	Code      string
	OwnerID   uuid.UUID
	PoolID    uuid.UUID
	Discount  Discount
	Status    CouponStatus
	IssuedAt  time.Time
	ExpiresAt time.Time
}
