package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/hhledger/internal/models"
)

// Storage gives access to every repository over one connection or one database transaction
type Storage interface {
	Owner() OwnerRepo
	Balance() BalanceRepo
	Coupon() CouponRepo

	// Run fn as one atomic unit: commit if fn returns nil, rollback otherwise.
	// Called on a Storage that is already inside a transaction it opens a savepoint,
	// so the returned Storage may be passed around as an explicit "inside a transaction" handle.
	InTx(ctx context.Context, fn func(Storage) error) error
}

// Owner directory
type OwnerRepo interface {
	CreateOwner(ctx context.Context, name string, status string) (models.Owner, error)

	// Must return apperrors.ErrOwnerNotFound if owner does not exist
	GetOwner(ctx context.Context, ownerID uuid.UUID) (models.Owner, error)
}

// BalanceUpdate is a balance row right after an atomic mutation
type BalanceUpdate struct {
	Before  int64
	Balance models.Balance
}

type ChargeParams struct {
	OwnerID    uuid.UUID
	Amount     int64
	Day        time.Time // calendar day the charge counts against
	Now        time.Time
	DailyLimit int64
	MaxBalance int64
}

type ListTransactionsOpts struct {
	Kinds  []models.TransactionKind // empty means any
	Limit  int
	Offset int
}

// Ledger store: balances and the append-only transaction log
type BalanceRepo interface {
	// Create zero balance if absent
	// Must be safe to call concurrently for the same owner
	// Must return apperrors.ErrOwnerNotFound if owner does not exist
	EnsureBalance(ctx context.Context, ownerID uuid.UUID, now time.Time) error

	// Must return apperrors.ErrBalanceNotFound if balance does not exist
	GetBalance(ctx context.Context, ownerID uuid.UUID) (models.Balance, error)

	// Atomically add amount to balance and to the amount charged during p.Day.
	// Applied only if both caps hold against the latest committed row; ok=false if declined or balance is absent.
	Charge(ctx context.Context, p ChargeParams) (upd BalanceUpdate, ok bool, err error)

	// Atomically subtract amount if the balance covers it; ok=false if declined or balance is absent
	Debit(ctx context.Context, ownerID uuid.UUID, amount int64, now time.Time) (upd BalanceUpdate, ok bool, err error)

	// Atomically add amount; must return apperrors.ErrBalanceNotFound if balance does not exist
	Credit(ctx context.Context, ownerID uuid.UUID, amount int64, now time.Time) (BalanceUpdate, error)

	// Append ledger entry; the store assigns ID
	// Must return apperrors.ErrOwnerNotFound if owner does not exist
	CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error)

	// Transactions of the owner newest first
	ListTransactions(ctx context.Context, ownerID uuid.UUID, opts ListTransactionsOpts) ([]models.Transaction, error)

	// Zero daily charged amounts counted against days before 'day'; returns affected rows
	ResetDailyCharged(ctx context.Context, day time.Time) (int64, error)
}

// Allocation store: coupon pools and issued coupons
type CouponRepo interface {
	CreatePool(ctx context.Context, p models.Pool) (models.Pool, error)

	// Must return apperrors.ErrPoolNotFound if pool does not exist
	GetPool(ctx context.Context, poolID uuid.UUID) (models.Pool, error)

	// Fast path check only, uniqueness is enforced by CreateCoupon
	HasCoupon(ctx context.Context, ownerID uuid.UUID, poolID uuid.UUID) (bool, error)

	// Atomically increment issued count if it stays within total quantity; ok=false if declined
	IncrementIssued(ctx context.Context, poolID uuid.UUID) (issued int, ok bool, err error)

	// Must return apperrors.ErrDuplicateIssuance if the owner already has a coupon of the pool
	// Must return apperrors.ErrOwnerNotFound if owner does not exist
	CreateCoupon(ctx context.Context, c models.Coupon) (models.Coupon, error)

	// Coupons of the owner newest first
	ListCoupons(ctx context.Context, ownerID uuid.UUID) ([]models.Coupon, error)
}
