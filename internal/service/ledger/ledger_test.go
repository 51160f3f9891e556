package ledger

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/hhledger/internal/apperrors"
	"github.com/nkiryanov/hhledger/internal/clock"
	"github.com/nkiryanov/hhledger/internal/logger"
	"github.com/nkiryanov/hhledger/internal/models"
	"github.com/nkiryanov/hhledger/internal/repository"
	"github.com/nkiryanov/hhledger/internal/repository/postgres"
	"github.com/nkiryanov/hhledger/internal/testutil"
)

func TestLedger(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// 10:00 in Seoul
	start := time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC)

	cfg := Config{
		DailyChargeLimit: 1_000_000,
		MaxBalance:       10_000_000,
		MinChargeAmount:  100,
		Location:         seoul,
	}

	// Every test gets its own service over a rolled back transaction and a fresh active owner
	inTx := func(t *testing.T, fn func(s *Service, storage repository.Storage, clk *clock.Manual, owner models.Owner)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			clk := clock.NewManual(start)

			owner, err := storage.Owner().CreateOwner(t.Context(), "kim", models.OwnerStatusActive)
			require.NoError(t, err)

			fn(NewService(cfg, storage, clk, logger.NewNoOpLogger()), storage, clk, owner)
		})
	}

	t.Run("Charge", func(t *testing.T) {
		t.Run("charge ok", func(t *testing.T) {
			inTx(t, func(s *Service, storage repository.Storage, _ *clock.Manual, owner models.Owner) {
				change, err := s.Charge(t.Context(), owner.ID, 50_000)
				require.NoError(t, err)

				require.Equal(t, owner.ID, change.OwnerID)
				require.Equal(t, models.TransactionCharge, change.Kind)
				require.Zero(t, change.Before)
				require.EqualValues(t, 50_000, change.After)
				require.EqualValues(t, 50_000, change.DailyCharged)
				require.NotZero(t, change.TransactionID)
				require.True(t, change.CreatedAt.Equal(start))

				transactions, err := storage.Balance().ListTransactions(t.Context(), owner.ID, repository.ListTransactionsOpts{})
				require.NoError(t, err)
				require.Len(t, transactions, 1)
				require.Equal(t, DescriptionCharge, transactions[0].Description)
			})
		})

		t.Run("validation before store access", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Charge(t.Context(), owner.ID, 0)
				require.ErrorIs(t, err, apperrors.ErrInvalidAmount)

				_, err = s.Charge(t.Context(), owner.ID, -5)
				require.ErrorIs(t, err, apperrors.ErrInvalidAmount)

				_, err = s.Charge(t.Context(), owner.ID, 99)
				require.ErrorIs(t, err, apperrors.ErrInvalidAmount, "amount below minimum charge unit")

				_, err = s.Charge(t.Context(), uuid.Nil, 1_000)
				require.ErrorIs(t, err, apperrors.ErrInvalidID)
			})
		})

		t.Run("unknown owner", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, _ models.Owner) {
				_, err := s.Charge(t.Context(), uuid.New(), 1_000)
				require.ErrorIs(t, err, apperrors.ErrOwnerNotFound)
			})
		})

		t.Run("inactive owner", func(t *testing.T) {
			inTx(t, func(s *Service, storage repository.Storage, _ *clock.Manual, _ models.Owner) {
				inactive, err := storage.Owner().CreateOwner(t.Context(), "lee", models.OwnerStatusInactive)
				require.NoError(t, err)

				_, err = s.Charge(t.Context(), inactive.ID, 1_000)
				require.ErrorIs(t, err, apperrors.ErrOwnerInactive)
			})
		})

		t.Run("daily limit exceeded", func(t *testing.T) {
			inTx(t, func(s *Service, storage repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Charge(t.Context(), owner.ID, 980_000)
				require.NoError(t, err)

				_, err = s.Charge(t.Context(), owner.ID, 50_000)
				require.ErrorIs(t, err, apperrors.ErrDailyLimitExceeded)

				var limitErr *apperrors.LimitError
				require.ErrorAs(t, err, &limitErr)
				require.Equal(t, map[string]int64{"limit": 1_000_000, "current": 980_000, "attemptedAmount": 50_000}, limitErr.Details())

				balance, err := s.GetBalance(t.Context(), owner.ID)
				require.NoError(t, err)
				require.EqualValues(t, 980_000, balance.Current, "rejected charge must leave balance unchanged")
				require.EqualValues(t, 980_000, balance.DailyCharged, "rejected charge must leave daily charged unchanged")

				transactions, err := storage.Balance().ListTransactions(t.Context(), owner.ID, repository.ListTransactionsOpts{})
				require.NoError(t, err)
				require.Len(t, transactions, 1, "rejected charge must not be logged")
			})
		})

		t.Run("daily limit is per calendar day in configured location", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, clk *clock.Manual, owner models.Owner) {
				_, err := s.Charge(t.Context(), owner.ID, 1_000_000)
				require.NoError(t, err)

				// 23:59 in Seoul, still the same day
				clk.Set(time.Date(2025, 6, 2, 14, 59, 0, 0, time.UTC))
				_, err = s.Charge(t.Context(), owner.ID, 100)
				require.ErrorIs(t, err, apperrors.ErrDailyLimitExceeded)

				// 00:00 in Seoul, next day
				clk.Set(time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC))
				balance, err := s.GetBalance(t.Context(), owner.ID)
				require.NoError(t, err)
				require.Zero(t, balance.DailyCharged, "nothing is charged yet on the new day")

				change, err := s.Charge(t.Context(), owner.ID, 400_000)
				require.NoError(t, err)
				require.EqualValues(t, 400_000, change.DailyCharged)
				require.EqualValues(t, 1_400_000, change.After)
			})
		})

		t.Run("max balance exceeded", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, owner models.Owner) {
				// refunds ignore caps, a quick way to a large balance
				_, err := s.Refund(t.Context(), owner.ID, 9_950_000)
				require.NoError(t, err)

				_, err = s.Charge(t.Context(), owner.ID, 100_000)
				require.ErrorIs(t, err, apperrors.ErrMaxBalanceExceeded)

				var limitErr *apperrors.LimitError
				require.ErrorAs(t, err, &limitErr)
				require.EqualValues(t, 10_000_000, limitErr.Limit)
				require.EqualValues(t, 9_950_000, limitErr.Current)
				require.EqualValues(t, 100_000, limitErr.Attempted)

				change, err := s.Charge(t.Context(), owner.ID, 50_000)
				require.NoError(t, err, "exactly max balance is allowed")
				require.EqualValues(t, 10_000_000, change.After)
			})
		})

		t.Run("daily limit is checked first", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Refund(t.Context(), owner.ID, 9_950_000)
				require.NoError(t, err)

				_, err = s.Charge(t.Context(), owner.ID, 2_000_000)
				require.ErrorIs(t, err, apperrors.ErrDailyLimitExceeded)
			})
		})
	})

	t.Run("Use", func(t *testing.T) {
		t.Run("use ok", func(t *testing.T) {
			inTx(t, func(s *Service, storage repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Charge(t.Context(), owner.ID, 10_000)
				require.NoError(t, err)

				change, err := s.Use(t.Context(), owner.ID, 3_000)
				require.NoError(t, err)
				require.Equal(t, models.TransactionUse, change.Kind)
				require.EqualValues(t, 10_000, change.Before)
				require.EqualValues(t, 7_000, change.After)

				transactions, err := storage.Balance().ListTransactions(t.Context(), owner.ID, repository.ListTransactionsOpts{
					Kinds: []models.TransactionKind{models.TransactionUse},
				})
				require.NoError(t, err)
				require.Len(t, transactions, 1)
				require.Equal(t, DescriptionUse, transactions[0].Description, "default description")
			})
		})

		t.Run("custom description", func(t *testing.T) {
			inTx(t, func(s *Service, storage repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Charge(t.Context(), owner.ID, 10_000)
				require.NoError(t, err)

				change, err := s.Use(t.Context(), owner.ID, 1_000, WithDescription("order #42"))
				require.NoError(t, err)

				transactions, err := storage.Balance().ListTransactions(t.Context(), owner.ID, repository.ListTransactionsOpts{Limit: 1})
				require.NoError(t, err)
				require.Equal(t, change.TransactionID, transactions[0].ID)
				require.Equal(t, "order #42", transactions[0].Description)
			})
		})

		t.Run("insufficient balance", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Charge(t.Context(), owner.ID, 1_000)
				require.NoError(t, err)

				_, err = s.Use(t.Context(), owner.ID, 2_500)
				require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)

				var insufficient *apperrors.InsufficientBalanceError
				require.ErrorAs(t, err, &insufficient)
				require.EqualValues(t, 1_500, insufficient.Shortfall())

				balance, err := s.GetBalance(t.Context(), owner.ID)
				require.NoError(t, err)
				require.EqualValues(t, 1_000, balance.Current, "failed use must leave balance unchanged")
			})
		})

		t.Run("whole balance", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Charge(t.Context(), owner.ID, 1_000)
				require.NoError(t, err)

				change, err := s.Use(t.Context(), owner.ID, 1_000)
				require.NoError(t, err)
				require.Zero(t, change.After)
			})
		})

		t.Run("no balance", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Use(t.Context(), owner.ID, 1_000)
				require.ErrorIs(t, err, apperrors.ErrBalanceNotFound)
			})
		})

		t.Run("invalid amount", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Use(t.Context(), owner.ID, 0)
				require.ErrorIs(t, err, apperrors.ErrInvalidAmount)
			})
		})
	})

	t.Run("Refund", func(t *testing.T) {
		t.Run("refund without balance starts from zero", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, owner models.Owner) {
				change, err := s.Refund(t.Context(), owner.ID, 5_000)
				require.NoError(t, err)
				require.Equal(t, models.TransactionRefund, change.Kind)
				require.Zero(t, change.Before)
				require.EqualValues(t, 5_000, change.After)
			})
		})

		t.Run("refund does not count against daily limit", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Refund(t.Context(), owner.ID, 900_000)
				require.NoError(t, err)

				_, err = s.Charge(t.Context(), owner.ID, 1_000_000)
				require.NoError(t, err)
			})
		})

		t.Run("refund after use restores balance", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Charge(t.Context(), owner.ID, 70_000)
				require.NoError(t, err)

				used, err := s.Use(t.Context(), owner.ID, 25_000)
				require.NoError(t, err)

				refunded, err := s.Refund(t.Context(), owner.ID, 25_000)
				require.NoError(t, err)
				require.Equal(t, used.Before, refunded.After)
			})
		})

		t.Run("unknown owner", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, _ models.Owner) {
				_, err := s.Refund(t.Context(), uuid.New(), 5_000)
				require.ErrorIs(t, err, apperrors.ErrOwnerNotFound)
			})
		})
	})

	t.Run("GetBalance", func(t *testing.T) {
		t.Run("creates zero balance", func(t *testing.T) {
			inTx(t, func(s *Service, storage repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := storage.Balance().GetBalance(t.Context(), owner.ID)
				require.ErrorIs(t, err, apperrors.ErrBalanceNotFound)

				balance, err := s.GetBalance(t.Context(), owner.ID)
				require.NoError(t, err)
				require.Zero(t, balance.Current)
				require.Zero(t, balance.DailyCharged)

				_, err = storage.Balance().GetBalance(t.Context(), owner.ID)
				require.NoError(t, err, "balance row should be stored")
			})
		})

		t.Run("unknown owner", func(t *testing.T) {
			inTx(t, func(s *Service, _ repository.Storage, _ *clock.Manual, _ models.Owner) {
				_, err := s.GetBalance(t.Context(), uuid.New())
				require.ErrorIs(t, err, apperrors.ErrOwnerNotFound)
			})
		})
	})

	t.Run("ledger entries chain", func(t *testing.T) {
		inTx(t, func(s *Service, _ repository.Storage, clk *clock.Manual, owner models.Owner) {
			steps := []struct {
				kind   models.TransactionKind
				amount int64
			}{
				{models.TransactionCharge, 500_000},
				{models.TransactionUse, 120_000},
				{models.TransactionUse, 80_000},
				{models.TransactionRefund, 80_000},
				{models.TransactionCharge, 300_000},
				{models.TransactionUse, 680_000},
				{models.TransactionRefund, 1_000},
			}

			var sum int64
			for _, step := range steps {
				clk.Advance(time.Second)

				var err error
				switch step.kind {
				case models.TransactionCharge:
					_, err = s.Charge(t.Context(), owner.ID, step.amount)
				case models.TransactionUse:
					_, err = s.Use(t.Context(), owner.ID, step.amount)
				case models.TransactionRefund:
					_, err = s.Refund(t.Context(), owner.ID, step.amount)
				}
				require.NoError(t, err, "step %s %d", step.kind, step.amount)
				sum += step.kind.Signed(step.amount)
			}

			transactions, err := s.ListTransactions(t.Context(), owner.ID, repository.ListTransactionsOpts{})
			require.NoError(t, err)
			require.Len(t, transactions, len(steps))

			// newest first, walk in commit order
			var prev int64
			for i := len(transactions) - 1; i >= 0; i-- {
				tr := transactions[i]
				require.Equal(t, prev, tr.BalanceBefore, "entry %d must start where the previous ended", tr.ID)
				require.Equal(t, tr.BalanceBefore+tr.Kind.Signed(tr.Amount), tr.BalanceAfter)
				prev = tr.BalanceAfter
			}

			balance, err := s.GetBalance(t.Context(), owner.ID)
			require.NoError(t, err)
			require.Equal(t, sum, balance.Current)
			require.Equal(t, prev, balance.Current)
		})
	})

	t.Run("caller scope", func(t *testing.T) {
		t.Run("rolled back with the caller", func(t *testing.T) {
			inTx(t, func(s *Service, storage repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Charge(t.Context(), owner.ID, 10_000)
				require.NoError(t, err)

				orderFailed := errors.New("order can't be marked paid")
				err = storage.InTx(t.Context(), func(scope repository.Storage) error {
					_, err := s.Use(t.Context(), owner.ID, 4_000, InScope(scope))
					require.NoError(t, err)
					return orderFailed
				})
				require.ErrorIs(t, err, orderFailed)

				balance, err := s.GetBalance(t.Context(), owner.ID)
				require.NoError(t, err)
				require.EqualValues(t, 10_000, balance.Current, "use must be rolled back with the caller scope")
			})
		})

		t.Run("committed with the caller", func(t *testing.T) {
			inTx(t, func(s *Service, storage repository.Storage, _ *clock.Manual, owner models.Owner) {
				_, err := s.Charge(t.Context(), owner.ID, 10_000)
				require.NoError(t, err)

				err = storage.InTx(t.Context(), func(scope repository.Storage) error {
					if _, err := s.Use(t.Context(), owner.ID, 4_000, InScope(scope)); err != nil {
						return err
					}
					_, err := s.Refund(t.Context(), owner.ID, 1_000, InScope(scope))
					return err
				})
				require.NoError(t, err)

				balance, err := s.GetBalance(t.Context(), owner.ID)
				require.NoError(t, err)
				require.EqualValues(t, 7_000, balance.Current)
			})
		})

		t.Run("failed use keeps caller scope usable", func(t *testing.T) {
			inTx(t, func(s *Service, storage repository.Storage, _ *clock.Manual, owner models.Owner) {
				err := storage.InTx(t.Context(), func(scope repository.Storage) error {
					_, err := s.Use(t.Context(), owner.ID, 4_000, InScope(scope))
					require.ErrorIs(t, err, apperrors.ErrBalanceNotFound)

					_, err = s.Refund(t.Context(), owner.ID, 1_000, InScope(scope))
					return err
				})
				require.NoError(t, err)

				balance, err := s.GetBalance(t.Context(), owner.ID)
				require.NoError(t, err)
				require.EqualValues(t, 1_000, balance.Current)
			})
		})
	})
}

func TestLedger_Concurrent(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Committed data: every test works with its own owner
	storage := postgres.NewStorage(pg.Pool)
	s := NewService(Config{DailyChargeLimit: 1_000_000, MaxBalance: 10_000_000}, storage, nil, nil)

	newOwner := func(t *testing.T) models.Owner {
		owner, err := storage.Owner().CreateOwner(t.Context(), "concurrent", models.OwnerStatusActive)
		require.NoError(t, err)
		return owner
	}

	run := func(n int, fn func() error) (ok int, errs []error) {
		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := fn()

				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else {
					errs = append(errs, err)
				}
			}()
		}
		wg.Wait()
		return ok, errs
	}

	t.Run("charges never exceed daily limit", func(t *testing.T) {
		owner := newOwner(t)

		ok, errs := run(25, func() error {
			_, err := s.Charge(t.Context(), owner.ID, 100_000)
			return err
		})

		require.Equal(t, 10, ok)
		for _, err := range errs {
			require.ErrorIs(t, err, apperrors.ErrDailyLimitExceeded)
		}

		balance, err := s.GetBalance(t.Context(), owner.ID)
		require.NoError(t, err)
		require.EqualValues(t, 1_000_000, balance.Current)
		require.EqualValues(t, 1_000_000, balance.DailyCharged)
	})

	t.Run("uses never overdraw", func(t *testing.T) {
		owner := newOwner(t)
		_, err := s.Charge(t.Context(), owner.ID, 1_000)
		require.NoError(t, err)

		ok, errs := run(30, func() error {
			_, err := s.Use(t.Context(), owner.ID, 100)
			return err
		})

		require.Equal(t, 10, ok)
		for _, err := range errs {
			require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
		}

		balance, err := s.GetBalance(t.Context(), owner.ID)
		require.NoError(t, err)
		require.Zero(t, balance.Current)
	})

	t.Run("mixed operations keep the chain", func(t *testing.T) {
		owner := newOwner(t)
		_, err := s.Charge(t.Context(), owner.ID, 500_000)
		require.NoError(t, err)

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			sum int64 = 500_000
		)
		for i := range 40 {
			wg.Add(1)
			go func() {
				defer wg.Done()

				var (
					change models.BalanceChange
					err    error
				)
				switch i % 3 {
				case 0:
					change, err = s.Charge(t.Context(), owner.ID, 10_000)
				case 1:
					change, err = s.Use(t.Context(), owner.ID, 7_000)
				default:
					change, err = s.Refund(t.Context(), owner.ID, 3_000)
				}
				if err != nil {
					return
				}

				mu.Lock()
				defer mu.Unlock()
				sum += change.Kind.Signed(change.Amount)
			}()
		}
		wg.Wait()

		transactions, err := s.ListTransactions(t.Context(), owner.ID, repository.ListTransactionsOpts{})
		require.NoError(t, err)

		// ids are taken while the balance row lock is held, so they follow the commit order
		slices.SortFunc(transactions, func(a, b models.Transaction) int { return cmp.Compare(a.ID, b.ID) })

		var prev int64
		for _, tr := range transactions {
			require.Equal(t, prev, tr.BalanceBefore, "entry %d must start where the previous ended", tr.ID)
			require.Equal(t, tr.BalanceBefore+tr.Kind.Signed(tr.Amount), tr.BalanceAfter)
			prev = tr.BalanceAfter
		}

		balance, err := s.GetBalance(t.Context(), owner.ID)
		require.NoError(t, err)
		require.Equal(t, sum, balance.Current, "final balance must equal the sum of committed signed amounts")
	})
}
