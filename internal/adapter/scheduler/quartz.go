package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// QuartzRetryScheduler runs delayed retries on a quartz scheduler.
type QuartzRetryScheduler struct {
	scheduler quartz.Scheduler
	logger    *zap.Logger
}

func NewQuartzRetryScheduler(logger *zap.Logger) *QuartzRetryScheduler {
	return &QuartzRetryScheduler{
		scheduler: quartz.NewStdScheduler(),
		logger:    logger.With(zap.String("component", "scheduler")),
	}
}

func (s *QuartzRetryScheduler) Start(ctx context.Context) {
	s.scheduler.Start(ctx)
}

func (s *QuartzRetryScheduler) Stop() {
	s.scheduler.Stop()
}

func (s *QuartzRetryScheduler) ScheduleRetry(key string, delay time.Duration, fn func(ctx context.Context)) error {
	jobKey := quartz.NewJobKey(key)
	if err := s.scheduler.DeleteJob(jobKey); err != nil && !errors.Is(err, quartz.ErrJobNotFound) {
		return err
	}

	retry := job.NewFunctionJob(func(ctx context.Context) (bool, error) {
		s.logger.Debug("scheduler: running retry", zap.String("key", key))
		fn(ctx)
		return true, nil
	})
	return s.scheduler.ScheduleJob(quartz.NewJobDetail(retry, jobKey), quartz.NewRunOnceTrigger(delay))
}

func (s *QuartzRetryScheduler) Cancel(key string) error {
	err := s.scheduler.DeleteJob(quartz.NewJobKey(key))
	if errors.Is(err, quartz.ErrJobNotFound) {
		return nil
	}
	return err
}
