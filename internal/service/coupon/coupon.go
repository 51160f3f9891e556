package coupon

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/hhledger/internal/apperrors"
	"github.com/nkiryanov/hhledger/internal/clock"
	"github.com/nkiryanov/hhledger/internal/logger"
	"github.com/nkiryanov/hhledger/internal/metrics"
	"github.com/nkiryanov/hhledger/internal/models"
	"github.com/nkiryanov/hhledger/internal/repository"
)

var hundred = decimal.NewFromInt(100)

// SoldOutGate remembers exhausted pools outside the store.
// It may only answer "exhausted" for a pool the store has declined before.
type SoldOutGate interface {
	IsExhausted(ctx context.Context, poolID uuid.UUID) (bool, error)
	MarkExhausted(ctx context.Context, poolID uuid.UUID) error
}

type Service struct {
	storage repository.Storage
	clock   clock.Clock
	gate    SoldOutGate
	logger  logger.Logger
}

// NewService creates coupon service; gate is optional
func NewService(storage repository.Storage, clk clock.Clock, gate SoldOutGate, l logger.Logger) *Service {
	if clk == nil {
		clk = clock.Real
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		storage: storage,
		clock:   clk,
		gate:    gate,
		logger:  l.WithGroup("coupon"),
	}
}

// Issue allocates one coupon of the pool to the recipient.
// At most one coupon per recipient and pool, never more than the pool's total quantity.
func (s *Service) Issue(ctx context.Context, recipientID uuid.UUID, poolID uuid.UUID) (coupon models.Coupon, err error) {
	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = apperrors.Code(err)
		}
		metrics.CouponIssuance.WithLabelValues(outcome).Inc()
	}()

	if recipientID == uuid.Nil || poolID == uuid.Nil {
		return coupon, fmt.Errorf("%w: recipient and pool ids are required", apperrors.ErrInvalidID)
	}

	now := s.clock.Now()

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		pool, err := st.Coupon().GetPool(ctx, poolID)
		if err != nil {
			return err
		}
		if !pool.IsActiveAt(now) {
			return apperrors.ErrPoolNotActive
		}

		has, err := st.Coupon().HasCoupon(ctx, recipientID, poolID)
		if err != nil {
			return err
		}
		if has {
			return apperrors.ErrDuplicateIssuance
		}

		if s.soldOut(ctx, poolID) {
			return exhausted(ctx, st, recipientID, poolID)
		}

		issued, ok, err := st.Coupon().IncrementIssued(ctx, poolID)
		if err != nil {
			return err
		}
		if !ok {
			err := exhausted(ctx, st, recipientID, poolID)
			if errors.Is(err, apperrors.ErrPoolExhausted) {
				s.markSoldOut(ctx, poolID)
			}
			return err
		}

		// A concurrent request of the same recipient may pass HasCoupon too;
		// the unique constraint decides and the increment above is rolled back with this unit.
		coupon, err = st.Coupon().CreateCoupon(ctx, models.Coupon{
			ID:        uuid.New(),
			Code:      newCode(pool.CodePrefix),
			OwnerID:   recipientID,
			PoolID:    poolID,
			Discount:  pool.Discount,
			Status:    models.CouponAvailable,
			IssuedAt:  now,
			ExpiresAt: now.AddDate(0, 0, pool.ValidDays),
		})
		if err != nil {
			return err
		}

		s.logger.Info("coupon issued", "pool", poolID, "recipient", recipientID, "code", coupon.Code, "issued", issued, "total", pool.TotalQuantity)
		return nil
	})
	if err != nil {
		if k := apperrors.KindOf(err); k == apperrors.KindInternal || k == apperrors.KindUnavailable {
			s.logger.Warn("coupon issue failed", "pool", poolID, "recipient", recipientID, "error", err)
		} else {
			s.logger.Debug("coupon issue rejected", "pool", poolID, "recipient", recipientID, "code", apperrors.Code(err))
		}
		return coupon, fmt.Errorf("issue coupon: %w", err)
	}

	return coupon, nil
}

// A request of the same recipient may have taken the last unit after our first check.
// The statement below sees its committed coupon, and a holder gets a duplicate rather than sold out.
func exhausted(ctx context.Context, st repository.Storage, recipientID uuid.UUID, poolID uuid.UUID) error {
	has, err := st.Coupon().HasCoupon(ctx, recipientID, poolID)
	if err != nil {
		return err
	}
	if has {
		return apperrors.ErrDuplicateIssuance
	}
	return apperrors.ErrPoolExhausted
}

// Gate failures are not fatal: the store decides anyway
func (s *Service) soldOut(ctx context.Context, poolID uuid.UUID) bool {
	if s.gate == nil {
		return false
	}

	exhausted, err := s.gate.IsExhausted(ctx, poolID)
	if err != nil {
		s.logger.Warn("sold-out gate unavailable", "pool", poolID, "error", err)
		return false
	}
	return exhausted
}

func (s *Service) markSoldOut(ctx context.Context, poolID uuid.UUID) {
	if s.gate == nil {
		return
	}

	if err := s.gate.MarkExhausted(ctx, poolID); err != nil {
		s.logger.Warn("sold-out gate unavailable", "pool", poolID, "error", err)
	}
}

type CreatePoolParams struct {
	Name          string
	CodePrefix    string
	Discount      models.Discount
	TotalQuantity int
	ValidDays     int
	StartsAt      time.Time
	EndsAt        time.Time
}

// CreatePool registers a new active pool
func (s *Service) CreatePool(ctx context.Context, p CreatePoolParams) (models.Pool, error) {
	switch {
	case p.TotalQuantity <= 0:
		return models.Pool{}, fmt.Errorf("%w: total quantity must be positive", apperrors.ErrInvalidAmount)
	case p.ValidDays <= 0:
		return models.Pool{}, fmt.Errorf("%w: valid days must be positive", apperrors.ErrInvalidAmount)
	case !p.Discount.Value.IsPositive():
		return models.Pool{}, fmt.Errorf("%w: discount must be positive", apperrors.ErrInvalidAmount)
	case p.Discount.Type == models.DiscountPercentage && p.Discount.Value.GreaterThan(hundred):
		return models.Pool{}, fmt.Errorf("%w: percentage discount must not exceed 100", apperrors.ErrInvalidAmount)
	case !p.StartsAt.Before(p.EndsAt):
		return models.Pool{}, fmt.Errorf("%w: pool must start before it ends", apperrors.ErrInvalidAmount)
	}

	pool, err := s.storage.Coupon().CreatePool(ctx, models.Pool{
		ID:            uuid.New(),
		Name:          p.Name,
		CodePrefix:    strings.ToUpper(p.CodePrefix),
		Discount:      p.Discount,
		TotalQuantity: p.TotalQuantity,
		ValidDays:     p.ValidDays,
		StartsAt:      p.StartsAt,
		EndsAt:        p.EndsAt,
		Active:        true,
	})
	if err != nil {
		return pool, fmt.Errorf("create pool: %w", err)
	}

	s.logger.Info("coupon pool created", "pool", pool.ID, "name", pool.Name, "total", pool.TotalQuantity)
	return pool, nil
}

func (s *Service) GetPool(ctx context.Context, poolID uuid.UUID) (models.Pool, error) {
	if poolID == uuid.Nil {
		return models.Pool{}, fmt.Errorf("%w: pool id is empty", apperrors.ErrInvalidID)
	}
	return s.storage.Coupon().GetPool(ctx, poolID)
}

// ListCoupons returns the recipient's coupons newest first
func (s *Service) ListCoupons(ctx context.Context, recipientID uuid.UUID) ([]models.Coupon, error) {
	if recipientID == uuid.Nil {
		return nil, fmt.Errorf("%w: recipient id is empty", apperrors.ErrInvalidID)
	}
	return s.storage.Coupon().ListCoupons(ctx, recipientID)
}

// newCode returns "<PREFIX>-<10 upper hex>"; an empty prefix gives "CPN"
func newCode(prefix string) string {
	if prefix == "" {
		prefix = "CPN"
	}
	id := uuid.New()
	return prefix + "-" + strings.ToUpper(hex.EncodeToString(id[:5]))
}
