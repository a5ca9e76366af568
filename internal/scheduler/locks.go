package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/carehub/internal/ratelimit"
	"go.uber.org/zap"
)

const jobLockKey = "scheduler:job:%s"

// acquireJobLock takes the per-job Redis lock so only one instance runs a job at a time.
// Without Redis, or when Redis fails, the job runs anyway; each sweep is safe to repeat
// because the services claim rows under row locks.
func (s *Scheduler) acquireJobLock(ctx context.Context, job string) (func(), bool) {
	noop := func() {}
	if s.locker == nil {
		return noop, true
	}
	key := fmt.Sprintf(jobLockKey, job)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		if !errors.Is(err, ratelimit.ErrNotConfigured) {
			s.log.Warn("scheduler.job.lock_failed", zap.String("job", job), zap.Error(err))
		}
		return noop, true
	}
	if !ok {
		return noop, false
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("scheduler.job.unlock_failed", zap.String("job", job), zap.Error(err))
		}
	}, true
}
