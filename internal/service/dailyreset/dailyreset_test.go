package dailyreset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/hhledger/internal/clock"
	"github.com/nkiryanov/hhledger/internal/logger"
)

type fakeResetter struct {
	mu    sync.Mutex
	days  []time.Time
	reset func(day time.Time) (int64, error)
}

func (f *fakeResetter) ResetDailyCharged(_ context.Context, day time.Time) (int64, error) {
	f.mu.Lock()
	f.days = append(f.days, day)
	f.mu.Unlock()

	if f.reset == nil {
		return 0, nil
	}
	return f.reset(day)
}

func (f *fakeResetter) calls() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.days...)
}

func TestJob_RunOnce(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	t.Run("uses calendar day of location", func(t *testing.T) {
		balances := &fakeResetter{reset: func(time.Time) (int64, error) { return 3, nil }}
		// 00:30 on July 2 in Seoul
		clk := clock.NewManual(time.Date(2025, 7, 1, 15, 30, 0, 0, time.UTC))
		job := New(time.Minute, seoul, clk, balances, logger.NewNoOpLogger())

		n, err := job.RunOnce(t.Context())
		require.NoError(t, err)
		require.EqualValues(t, 3, n)
		require.Equal(t, []time.Time{time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)}, balances.calls())
	})

	t.Run("store error", func(t *testing.T) {
		boom := errors.New("db error")
		balances := &fakeResetter{reset: func(time.Time) (int64, error) { return 0, boom }}
		job := New(time.Minute, nil, clock.NewManual(time.Now()), balances, logger.NewNoOpLogger())

		_, err := job.RunOnce(t.Context())
		require.ErrorIs(t, err, boom)
	})
}

func TestJob_Run(t *testing.T) {
	balances := &fakeResetter{}
	job := New(10*time.Millisecond, time.UTC, nil, balances, logger.NewNoOpLogger())

	ctx, cancel := context.WithCancel(t.Context())
	stopped := job.Run(ctx)

	require.Eventually(t, func() bool { return len(balances.calls()) >= 3 }, time.Second, 5*time.Millisecond, "job should run on start and on every tick")

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("job should stop when context is cancelled")
	}
}
