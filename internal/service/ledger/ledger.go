package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/hhledger/internal/apperrors"
	"github.com/nkiryanov/hhledger/internal/clock"
	"github.com/nkiryanov/hhledger/internal/logger"
	"github.com/nkiryanov/hhledger/internal/metrics"
	"github.com/nkiryanov/hhledger/internal/models"
	"github.com/nkiryanov/hhledger/internal/repository"
)

const (
	DefaultDailyChargeLimit int64 = 1_000_000
	DefaultMaxBalance       int64 = 10_000_000
	DefaultMinChargeAmount  int64 = 1

	DescriptionCharge = "balance charge"
	DescriptionUse    = "order payment"
	DescriptionRefund = "order cancellation refund"
)

type Config struct {
	DailyChargeLimit int64
	MaxBalance       int64
	MinChargeAmount  int64

	// Calendar days for the daily charge limit are counted in this location
	Location *time.Location
}

type Service struct {
	cfg     Config
	storage repository.Storage
	clock   clock.Clock
	logger  logger.Logger
}

func NewService(cfg Config, storage repository.Storage, clk clock.Clock, l logger.Logger) *Service {
	if cfg.DailyChargeLimit == 0 {
		cfg.DailyChargeLimit = DefaultDailyChargeLimit
	}
	if cfg.MaxBalance == 0 {
		cfg.MaxBalance = DefaultMaxBalance
	}
	if cfg.MinChargeAmount <= 0 {
		cfg.MinChargeAmount = DefaultMinChargeAmount
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if clk == nil {
		clk = clock.Real
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		cfg:     cfg,
		storage: storage,
		clock:   clk,
		logger:  l.WithGroup("ledger"),
	}
}

type options struct {
	description string
	scope       repository.Storage
}

type Option func(*options)

func WithDescription(description string) Option {
	return func(o *options) {
		if description != "" {
			o.description = description
		}
	}
}

// InScope enlists the operation into an atomic unit the caller has already opened.
// The operation runs under a savepoint: its failure leaves the caller's unit usable,
// its success becomes visible only when the caller commits.
func InScope(scope repository.Storage) Option {
	return func(o *options) {
		o.scope = scope
	}
}

func (s *Service) atomically(ctx context.Context, scope repository.Storage, fn func(repository.Storage) error) error {
	if scope != nil {
		return scope.InTx(ctx, fn)
	}
	return s.storage.InTx(ctx, fn)
}

func (s *Service) today() time.Time {
	return clock.Day(s.clock.Now(), s.cfg.Location)
}

// Charge adds amount to the owner's balance if neither the daily charge limit nor the max balance is exceeded
func (s *Service) Charge(ctx context.Context, ownerID uuid.UUID, amount int64) (change models.BalanceChange, err error) {
	defer s.observe(models.TransactionCharge, amount, time.Now(), &err)

	if err := validate(ownerID, amount); err != nil {
		return change, err
	}
	if amount < s.cfg.MinChargeAmount {
		return change, fmt.Errorf("%w: charge must be at least %d", apperrors.ErrInvalidAmount, s.cfg.MinChargeAmount)
	}

	now := s.clock.Now()
	day := clock.Day(now, s.cfg.Location)

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		if err := activeOwner(ctx, st, ownerID); err != nil {
			return err
		}

		if err := st.Balance().EnsureBalance(ctx, ownerID, now); err != nil {
			return err
		}

		upd, ok, err := st.Balance().Charge(ctx, repository.ChargeParams{
			OwnerID:    ownerID,
			Amount:     amount,
			Day:        day,
			Now:        now,
			DailyLimit: s.cfg.DailyChargeLimit,
			MaxBalance: s.cfg.MaxBalance,
		})
		if err != nil {
			return err
		}
		if !ok {
			return s.chargeDeclined(ctx, st, ownerID, amount, day)
		}

		change, err = record(ctx, st, upd, models.TransactionCharge, amount, DescriptionCharge, now)
		return err
	})
	if err != nil {
		return change, s.fail("charge", ownerID, amount, err)
	}

	s.logger.Info("balance charged", "owner", ownerID, "amount", amount, "before", change.Before, "after", change.After, "daily_charged", change.DailyCharged)
	return change, nil
}

// Explain why the conditional update declined; the row is read after the update, so it is the latest committed state
func (s *Service) chargeDeclined(ctx context.Context, st repository.Storage, ownerID uuid.UUID, amount int64, day time.Time) error {
	balance, err := st.Balance().GetBalance(ctx, ownerID)
	if err != nil {
		return err
	}

	daily := balance.DailyChargedOn(day)
	switch {
	case daily+amount > s.cfg.DailyChargeLimit:
		return &apperrors.LimitError{
			Err:       apperrors.ErrDailyLimitExceeded,
			Limit:     s.cfg.DailyChargeLimit,
			Current:   daily,
			Attempted: amount,
		}
	case balance.Current+amount > s.cfg.MaxBalance:
		return &apperrors.LimitError{
			Err:       apperrors.ErrMaxBalanceExceeded,
			Limit:     s.cfg.MaxBalance,
			Current:   balance.Current,
			Attempted: amount,
		}
	default:
		return apperrors.ErrConcurrentModification
	}
}

// Use debits amount if the balance covers it
func (s *Service) Use(ctx context.Context, ownerID uuid.UUID, amount int64, opts ...Option) (change models.BalanceChange, err error) {
	defer s.observe(models.TransactionUse, amount, time.Now(), &err)

	o := options{description: DescriptionUse}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validate(ownerID, amount); err != nil {
		return change, err
	}

	now := s.clock.Now()

	err = s.atomically(ctx, o.scope, func(st repository.Storage) error {
		upd, ok, err := st.Balance().Debit(ctx, ownerID, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			balance, err := st.Balance().GetBalance(ctx, ownerID)
			if err != nil {
				return err
			}
			if balance.Current < amount {
				return &apperrors.InsufficientBalanceError{Current: balance.Current, Required: amount}
			}
			return apperrors.ErrConcurrentModification
		}

		change, err = record(ctx, st, upd, models.TransactionUse, amount, o.description, now)
		return err
	})
	if err != nil {
		return change, s.fail("use", ownerID, amount, err)
	}

	s.logger.Info("balance used", "owner", ownerID, "amount", amount, "before", change.Before, "after", change.After)
	return change, nil
}

// Refund credits amount back; caps are not checked and a missing balance starts from zero
func (s *Service) Refund(ctx context.Context, ownerID uuid.UUID, amount int64, opts ...Option) (change models.BalanceChange, err error) {
	defer s.observe(models.TransactionRefund, amount, time.Now(), &err)

	o := options{description: DescriptionRefund}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validate(ownerID, amount); err != nil {
		return change, err
	}

	now := s.clock.Now()

	err = s.atomically(ctx, o.scope, func(st repository.Storage) error {
		if err := st.Balance().EnsureBalance(ctx, ownerID, now); err != nil {
			return err
		}

		upd, err := st.Balance().Credit(ctx, ownerID, amount, now)
		if err != nil {
			return err
		}

		change, err = record(ctx, st, upd, models.TransactionRefund, amount, o.description, now)
		return err
	})
	if err != nil {
		return change, s.fail("refund", ownerID, amount, err)
	}

	s.logger.Info("balance refunded", "owner", ownerID, "amount", amount, "before", change.Before, "after", change.After)
	return change, nil
}

// GetBalance returns the owner's balance creating a zero one if absent.
// DailyCharged is the amount charged today.
func (s *Service) GetBalance(ctx context.Context, ownerID uuid.UUID) (models.Balance, error) {
	var balance models.Balance
	if ownerID == uuid.Nil {
		return balance, fmt.Errorf("%w: owner id is empty", apperrors.ErrInvalidID)
	}

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		if err := activeOwner(ctx, st, ownerID); err != nil {
			return err
		}

		if err := st.Balance().EnsureBalance(ctx, ownerID, s.clock.Now()); err != nil {
			return err
		}

		var err error
		balance, err = st.Balance().GetBalance(ctx, ownerID)
		return err
	})
	if err != nil {
		return balance, fmt.Errorf("get balance: %w", err)
	}

	balance.DailyCharged = balance.DailyChargedOn(s.today())
	return balance, nil
}

// ListTransactions returns the owner's ledger entries newest first
func (s *Service) ListTransactions(ctx context.Context, ownerID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner id is empty", apperrors.ErrInvalidID)
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", apperrors.ErrInvalidAmount)
	}

	return s.storage.Balance().ListTransactions(ctx, ownerID, opts)
}

func validate(ownerID uuid.UUID, amount int64) error {
	if ownerID == uuid.Nil {
		return fmt.Errorf("%w: owner id is empty", apperrors.ErrInvalidID)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", apperrors.ErrInvalidAmount, amount)
	}
	return nil
}

func activeOwner(ctx context.Context, st repository.Storage, ownerID uuid.UUID) error {
	owner, err := st.Owner().GetOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	if !owner.IsActive() {
		return apperrors.ErrOwnerInactive
	}
	return nil
}

// Append the ledger entry for a balance update made in the same atomic unit
func record(ctx context.Context, st repository.Storage, upd repository.BalanceUpdate, kind models.TransactionKind, amount int64, description string, now time.Time) (models.BalanceChange, error) {
	t, err := st.Balance().CreateTransaction(ctx, models.Transaction{
		OwnerID:       upd.Balance.OwnerID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: upd.Before,
		BalanceAfter:  upd.Balance.Current,
		Description:   description,
		CreatedAt:     now,
	})
	if err != nil {
		return models.BalanceChange{}, err
	}

	return models.BalanceChange{
		OwnerID:       t.OwnerID,
		TransactionID: t.ID,
		Kind:          t.Kind,
		Amount:        t.Amount,
		Before:        t.BalanceBefore,
		After:         t.BalanceAfter,
		DailyCharged:  upd.Balance.DailyCharged,
		CreatedAt:     t.CreatedAt,
	}, nil
}

func (s *Service) fail(op string, ownerID uuid.UUID, amount int64, err error) error {
	var detailed interface{ Details() map[string]int64 }

	switch kind := apperrors.KindOf(err); kind {
	case apperrors.KindInternal, apperrors.KindUnavailable:
		s.logger.Warn(op+" failed", "owner", ownerID, "amount", amount, "error", err)
	default:
		args := []any{"owner", ownerID, "amount", amount, "code", apperrors.Code(err)}
		if errors.As(err, &detailed) {
			for k, v := range detailed.Details() {
				args = append(args, k, v)
			}
		}
		s.logger.Info(op+" rejected", args...)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) observe(kind models.TransactionKind, amount int64, started time.Time, errp *error) {
	outcome := metrics.OutcomeOK
	if *errp != nil {
		outcome = apperrors.Code(*errp)
	}
	metrics.ObserveLedger(string(kind), outcome, amount, started)
}
