package port

import (
	"context"
	"time"
)

// RetryScheduler runs fn once after delay. Scheduling the same key again replaces the pending run.
type RetryScheduler interface {
	ScheduleRetry(key string, delay time.Duration, fn func(ctx context.Context)) error
	Cancel(key string) error
}
