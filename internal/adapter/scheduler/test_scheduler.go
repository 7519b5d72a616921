package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TestRetryScheduler keeps retries until a test fires them.
type TestRetryScheduler struct {
	mu      sync.Mutex
	pending map[string]func(ctx context.Context)
	delays  map[string]time.Duration
}

func NewTestRetryScheduler() *TestRetryScheduler {
	return &TestRetryScheduler{
		pending: map[string]func(ctx context.Context){},
		delays:  map[string]time.Duration{},
	}
}

func (s *TestRetryScheduler) ScheduleRetry(key string, delay time.Duration, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = fn
	s.delays[key] = delay
	return nil
}

func (s *TestRetryScheduler) Cancel(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
	delete(s.delays, key)
	return nil
}

func (s *TestRetryScheduler) Pending(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay, ok := s.delays[key]
	return delay, ok
}

// Fire runs the pending retry for key right away.
func (s *TestRetryScheduler) Fire(key string) error {
	s.mu.Lock()
	fn, ok := s.pending[key]
	delete(s.pending, key)
	delete(s.delays, key)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no retry scheduled for %s", key)
	}
	fn(context.Background())
	return nil
}
