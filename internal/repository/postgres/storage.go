package postgres

import (
	"context"

	"github.com/nkiryanov/hhledger/internal/repository"
)

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{db: db}
}

func (s *Storage) Owner() repository.OwnerRepo {
	return &OwnerRepo{DB: s.db}
}

func (s *Storage) Balance() repository.BalanceRepo {
	return &BalanceRepo{DB: s.db}
}

func (s *Storage) Coupon() repository.CouponRepo {
	return &CouponRepo{DB: s.db}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return dbError("db tx error", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}

		switch err {
		case nil:
			if cerr := tx.Commit(ctx); cerr != nil {
				err = dbError("db commit error", cerr)
			}
		default:
			// Cancelled ctx must not leave the connection or the savepoint dangling
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	return fn(NewStorage(tx))
}
