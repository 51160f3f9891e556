package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/hhledger/internal/handlers/middleware"
	"github.com/nkiryanov/hhledger/internal/logger"
	"github.com/nkiryanov/hhledger/internal/models"
	"github.com/nkiryanov/hhledger/internal/repository"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	ledgerService ledgerService,
	couponService couponService,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.AuthMiddleware(authService)

	api := http.NewServeMux()

	api.Handle("GET /balance", withAuth(handleGetBalance(ledgerService, logger)))
	api.Handle("POST /balance/charge", withAuth(handleCharge(ledgerService, logger)))
	api.Handle("GET /balance/transactions", withAuth(handleListTransactions(ledgerService, logger)))
	api.Handle("POST /coupons/pools/{poolID}/issue", withAuth(handleIssueCoupon(couponService, logger)))
	api.Handle("GET /coupons", withAuth(handleListCoupons(couponService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))
	root.Handle("GET /metrics", promhttp.Handler())

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Parse access token and return owner id it was issued for
	ParseAccess(ctx context.Context, access string) (uuid.UUID, error)
}

type ledgerService interface {
	GetBalance(ctx context.Context, ownerID uuid.UUID) (models.Balance, error)
	Charge(ctx context.Context, ownerID uuid.UUID, amount int64) (models.BalanceChange, error)
	ListTransactions(ctx context.Context, ownerID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error)
}

type couponService interface {
	Issue(ctx context.Context, recipientID uuid.UUID, poolID uuid.UUID) (models.Coupon, error)
	ListCoupons(ctx context.Context, recipientID uuid.UUID) ([]models.Coupon, error)
}
