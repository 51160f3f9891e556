// Package dailyreset zeroes daily charged amounts left over from previous days.
//
// Charges compare the stored day with the current one inside the same conditional update,
// so limits hold without this job; it keeps stored rows tidy for reporting queries.
package dailyreset

import (
	"context"
	"time"

	"github.com/nkiryanov/hhledger/internal/clock"
	"github.com/nkiryanov/hhledger/internal/logger"
	"github.com/nkiryanov/hhledger/internal/metrics"
)

const defaultInterval = time.Minute

type resetter interface {
	ResetDailyCharged(ctx context.Context, day time.Time) (int64, error)
}

type Job struct {
	interval time.Duration
	location *time.Location
	clock    clock.Clock
	balances resetter
	logger   logger.Logger
}

func New(interval time.Duration, location *time.Location, clk clock.Clock, balances resetter, l logger.Logger) *Job {
	if interval <= 0 {
		interval = defaultInterval
	}
	if location == nil {
		location = time.UTC
	}
	if clk == nil {
		clk = clock.Real
	}

	return &Job{
		interval: interval,
		location: location,
		clock:    clk,
		balances: balances,
		logger:   l,
	}
}

// RunOnce resets rows charged before today and returns how many were reset
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	today := clock.Day(j.clock.Now(), j.location)

	n, err := j.balances.ResetDailyCharged(ctx, today)
	if err != nil {
		return 0, err
	}

	metrics.DailyResets.Add(float64(n))
	if n > 0 {
		j.logger.Info("Daily charged amounts reset", "day", today.Format(time.DateOnly), "balances", n)
	}
	return n, nil
}

// Run resets on every tick until ctx is done; the returned channel is closed when the job stopped
func (j *Job) Run(ctx context.Context) <-chan struct{} {
	stopped := make(chan struct{})
	j.logger.Debug("Starting daily reset job", "interval", j.interval, "location", j.location.String())

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("Failed to reset daily charged amounts", "error", err)
			}

			select {
			case <-ctx.Done():
				j.logger.Debug("Daily reset job stopped by context")
				return
			case <-ticker.C:
			}
		}
	}()

	return stopped
}
