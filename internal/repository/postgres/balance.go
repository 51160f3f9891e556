package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/hhledger/internal/apperrors"
	"github.com/nkiryanov/hhledger/internal/models"
	"github.com/nkiryanov/hhledger/internal/repository"
)

type BalanceRepo struct {
	DB DBTX
}

const balanceColumns = `owner_id, current, daily_charged, charged_on, version, created_at, updated_at`

// Zero balance; charged_on is irrelevant while daily_charged is zero
const ensureBalance = `-- name: EnsureBalance
INSERT INTO balances (owner_id, current, daily_charged, charged_on, version, created_at, updated_at)
VALUES ($1, 0, 0, DATE '1970-01-01', 0, $2, $2)
ON CONFLICT (owner_id) DO NOTHING
`

func (r *BalanceRepo) EnsureBalance(ctx context.Context, ownerID uuid.UUID, now time.Time) error {
	_, err := r.DB.Exec(ctx, ensureBalance, ownerID, now)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgerrcode.ForeignKeyViolation {
			return apperrors.ErrOwnerNotFound
		}
		return dbError("db error", err)
	}

	return nil
}

const getBalance = `-- name: GetBalance
SELECT ` + balanceColumns + ` FROM balances
WHERE owner_id = $1
`

func (r *BalanceRepo) GetBalance(ctx context.Context, ownerID uuid.UUID) (models.Balance, error) {
	rows, _ := r.DB.Query(ctx, getBalance, ownerID)
	balance, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, pgx.ErrNoRows):
		return balance, apperrors.ErrBalanceNotFound
	default:
		return balance, dbError("db error", err)
	}
}

// The WHERE clause is re-evaluated against the latest committed row after a concurrent writer releases the row lock,
// so both caps hold however many charges race for the same owner.
// A charged_on other than $3 means nothing was charged on the day yet.
const chargeBalance = `-- name: ChargeBalance
UPDATE balances
SET current = current + $2,
	daily_charged = (CASE WHEN charged_on = $3 THEN daily_charged ELSE 0 END) + $2,
	charged_on = $3,
	version = version + 1,
	updated_at = $4
WHERE owner_id = $1
	AND (CASE WHEN charged_on = $3 THEN daily_charged ELSE 0 END) + $2 <= $5
	AND current + $2 <= $6
RETURNING current - $2, ` + balanceColumns + `
`

func (r *BalanceRepo) Charge(ctx context.Context, p repository.ChargeParams) (repository.BalanceUpdate, bool, error) {
	rows, _ := r.DB.Query(ctx, chargeBalance, p.OwnerID, p.Amount, p.Day, p.Now, p.DailyLimit, p.MaxBalance)
	return collectUpdate(rows)
}

const debitBalance = `-- name: DebitBalance
UPDATE balances
SET current = current - $2,
	version = version + 1,
	updated_at = $3
WHERE owner_id = $1 AND current >= $2
RETURNING current + $2, ` + balanceColumns + `
`

func (r *BalanceRepo) Debit(ctx context.Context, ownerID uuid.UUID, amount int64, now time.Time) (repository.BalanceUpdate, bool, error) {
	rows, _ := r.DB.Query(ctx, debitBalance, ownerID, amount, now)
	return collectUpdate(rows)
}

const creditBalance = `-- name: CreditBalance
UPDATE balances
SET current = current + $2,
	version = version + 1,
	updated_at = $3
WHERE owner_id = $1
RETURNING current - $2, ` + balanceColumns + `
`

func (r *BalanceRepo) Credit(ctx context.Context, ownerID uuid.UUID, amount int64, now time.Time) (repository.BalanceUpdate, error) {
	rows, _ := r.DB.Query(ctx, creditBalance, ownerID, amount, now)
	upd, ok, err := collectUpdate(rows)

	switch {
	case err != nil:
		return upd, err
	case !ok:
		return upd, apperrors.ErrBalanceNotFound
	default:
		return upd, nil
	}
}

func collectUpdate(rows pgx.Rows) (repository.BalanceUpdate, bool, error) {
	upd, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (repository.BalanceUpdate, error) {
		var u repository.BalanceUpdate
		b := &u.Balance
		err := row.Scan(&u.Before, &b.OwnerID, &b.Current, &b.DailyCharged, &b.ChargedOn, &b.Version, &b.CreatedAt, &b.UpdatedAt)
		return u, err
	})

	switch {
	case err == nil:
		return upd, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return upd, false, nil
	default:
		if code, _ := pgErrorCode(err); code == pgerrcode.NumericValueOutOfRange {
			return upd, false, fmt.Errorf("%w: %w", apperrors.ErrInvalidAmount, err)
		}
		return upd, false, dbError("db error", err)
	}
}

const createTransaction = `-- name: CreateTransaction
INSERT INTO balance_transactions (owner_id, kind, amount, balance_before, balance_after, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, owner_id, kind, amount, balance_before, balance_after, description, created_at
`

func (r *BalanceRepo) CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, createTransaction, t.OwnerID, t.Kind, t.Amount, t.BalanceBefore, t.BalanceAfter, t.Description, t.CreatedAt)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)

	if err != nil {
		if code, _ := pgErrorCode(err); code == pgerrcode.ForeignKeyViolation {
			return created, apperrors.ErrOwnerNotFound
		}
		return created, dbError("db error", err)
	}

	return created, nil
}

// NULL limit means no limit
const listTransactions = `-- name: ListTransactions
SELECT id, owner_id, kind, amount, balance_before, balance_after, description, created_at
FROM balance_transactions
WHERE owner_id = $1 AND (cardinality($2::text[]) = 0 OR kind = ANY($2::text[]))
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4
`

func (r *BalanceRepo) ListTransactions(ctx context.Context, ownerID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	kinds := make([]string, 0, len(opts.Kinds))
	for _, k := range opts.Kinds {
		kinds = append(kinds, string(k))
	}

	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}

	rows, _ := r.DB.Query(ctx, listTransactions, ownerID, kinds, limit, max(opts.Offset, 0))
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, dbError("db error", err)
	}

	return transactions, nil
}

const resetDailyCharged = `-- name: ResetDailyCharged
UPDATE balances
SET daily_charged = 0
WHERE charged_on < $1 AND daily_charged <> 0
`

func (r *BalanceRepo) ResetDailyCharged(ctx context.Context, day time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, resetDailyCharged, day)
	if err != nil {
		return 0, dbError("db error", err)
	}

	return tag.RowsAffected(), nil
}

func rowToBalance(row pgx.CollectableRow) (models.Balance, error) {
	var b models.Balance
	err := row.Scan(&b.OwnerID, &b.Current, &b.DailyCharged, &b.ChargedOn, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.OwnerID, &t.Kind, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.Description, &t.CreatedAt)
	return t, err
}
