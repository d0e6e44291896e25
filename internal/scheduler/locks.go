package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const keyJobLock = "scheduler:job:%s"

// withJobLock runs fn only when this replica holds the job lease. A lease held
// elsewhere is not an error; the job simply does nothing this tick.
func (s *Scheduler) withJobLock(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf(keyJobLock, job)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire job lock: %w", err)
	}
	if !ok {
		s.logger(ctx).Debug("scheduler.job.lock_held", zap.String("job", job))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger(ctx).Warn("scheduler.job.lock_release_failed", zap.String("job", job), zap.Error(err))
		}
	}()
	return fn(ctx)
}
