package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nkiryanov/hhledger/internal/clock"
	"github.com/nkiryanov/hhledger/internal/db"
	"github.com/nkiryanov/hhledger/internal/handlers"
	"github.com/nkiryanov/hhledger/internal/logger"
	"github.com/nkiryanov/hhledger/internal/repository/postgres"
	"github.com/nkiryanov/hhledger/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/hhledger/internal/service/coupon"
	"github.com/nkiryanov/hhledger/internal/service/dailyreset"
	"github.com/nkiryanov/hhledger/internal/service/ledger"
	"github.com/nkiryanov/hhledger/internal/soldout"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger     logger.Logger
	dailyReset *dailyreset.Job
	closers    []func() error
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	loc, err := c.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, logger: logger}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app.closers = append(app.closers, func() error { pool.Close(); return nil })

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Sold-out gate is optional: without it every exhausted request reaches the pool row
	var gate coupon.SoldOutGate
	if c.RedisAddr != "" {
		client, err := soldout.Connect(c.RedisAddr, c.RedisPoolSize)
		if err != nil {
			app.close()
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		gate = soldout.New(client)
		logger.Info("coupon sold-out gate enabled", "redis", c.RedisAddr)
	}

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	ledgerService := ledger.NewService(ledger.Config{
		DailyChargeLimit: c.DailyChargeLimit,
		MaxBalance:       c.MaxBalance,
		MinChargeAmount:  c.MinChargeAmount,
		Location:         loc,
	}, storage, clock.Real, logger)
	couponService := coupon.NewService(storage, clock.Real, gate, logger)

	app.dailyReset = dailyreset.New(c.DailyResetInterval, loc, clock.Real, storage.Balance(), logger)
	app.Handler = handlers.NewRouter(tokenManager, ledgerService, couponService, logger)

	return app, nil
}

// Run starts http server and the daily reset job; both stop gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	jobDone := s.dailyReset.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-jobDone

	return err
}

func (s *ServerApp) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("failed to release resource", "error", err)
		}
	}
	s.closers = nil
}
