package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStartedScheduler(t *testing.T) *QuartzRetryScheduler {
	s := NewQuartzRetryScheduler(zap.Must(zap.NewDevelopment()))
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		s.Stop()
		cancel()
	})
	return s
}

func TestQuartzRetryRunsOnce(t *testing.T) {
	s := newStartedScheduler(t)

	var runs atomic.Int32
	require.NoError(t, s.ScheduleRetry("entry-e1", 50*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	}))

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestQuartzRescheduleReplacesPendingRetry(t *testing.T) {
	s := newStartedScheduler(t)

	var first, second atomic.Int32
	require.NoError(t, s.ScheduleRetry("entry-e1", 300*time.Millisecond, func(ctx context.Context) {
		first.Add(1)
	}))
	require.NoError(t, s.ScheduleRetry("entry-e1", 50*time.Millisecond, func(ctx context.Context) {
		second.Add(1)
	}))

	assert.Eventually(t, func() bool { return second.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestQuartzCancel(t *testing.T) {
	s := newStartedScheduler(t)

	var runs atomic.Int32
	require.NoError(t, s.ScheduleRetry("entry-e1", 100*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	}))
	require.NoError(t, s.Cancel("entry-e1"))
	require.NoError(t, s.Cancel("entry-e1"))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}

func TestTestSchedulerFire(t *testing.T) {
	s := NewTestRetryScheduler()

	fired := false
	require.NoError(t, s.ScheduleRetry("k", time.Minute, func(ctx context.Context) { fired = true }))
	delay, ok := s.Pending("k")
	require.True(t, ok)
	assert.Equal(t, time.Minute, delay)

	require.NoError(t, s.Fire("k"))
	assert.True(t, fired)
	assert.Error(t, s.Fire("k"))
}
