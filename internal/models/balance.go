package models

import (
	"time"

	"github.com/google/uuid"
)

type TransactionKind string

const (
	TransactionCharge TransactionKind = "CHARGE"
	TransactionUse    TransactionKind = "USE"
	TransactionRefund TransactionKind = "REFUND"
)

// Signed returns amount with the sign the kind applies to the balance
func (k TransactionKind) Signed(amount int64) int64 {
	if k == TransactionUse {
		return -amount
	}
	return amount
}

// Balance of an owner in the smallest currency unit
type Balance struct {
	OwnerID      uuid.UUID
	Current      int64
	DailyCharged int64     // charged during ChargedOn
	ChargedOn    time.Time // calendar day as midnight UTC
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DailyChargedOn returns amount charged during day; a stale day counts as nothing charged
func (b Balance) DailyChargedOn(day time.Time) int64 {
	if b.ChargedOn.Equal(day) {
		return b.DailyCharged
	}
	return 0
}

// Transaction is an immutable ledger entry
type Transaction struct {
	ID            int64
	OwnerID       uuid.UUID
	Kind          TransactionKind
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Description   string
	CreatedAt     time.Time
}

// BalanceChange is the result of a committed balance mutation
type BalanceChange struct {
	OwnerID       uuid.UUID
	TransactionID int64
	Kind          TransactionKind
	Amount        int64
	Before        int64
	After         int64
	DailyCharged  int64
	CreatedAt     time.Time
}
