package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gradewise/internal/clock"
	creditdomain "github.com/smallbiznis/gradewise/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/gradewise/internal/observability/metrics"
	"github.com/smallbiznis/gradewise/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobPeriodRollover = "period_rollover"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Ledger     creditdomain.Service
	Locker     ratelimit.Locker
	GenID      *snowflake.Node
	Clock      clock.Clock         `optional:"true"`
	Config     Config              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	ledger     creditdomain.Service
	locker     ratelimit.Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Ledger == nil || p.Locker == nil || p.GenID == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      clk,
		ledger:     p.Ledger,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}

	err := fn(ctx)
	elapsed := s.clock.Now().Sub(start)
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		s.obsMetrics.RecordSchedulerJob(parent, name, "ok", elapsed)
		return nil
	}

	// deadline is a soft timeout, the next tick picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.obsMetrics.RecordSchedulerJob(parent, name, "timeout", elapsed)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	s.obsMetrics.RecordSchedulerJob(parent, name, "error", elapsed)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobPeriodRollover, s.isJobEnabled(JobPeriodRollover), func(ctx context.Context) error {
			return s.runJob(ctx, JobPeriodRollover, s.cfg.BatchSize, s.cfg.JobTimeout, s.PeriodRolloverJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// PeriodRolloverJob starts a fresh usage period for every account whose
// current period has run for at least BillingPeriodDays. Accounts are drained
// in batches until none are due or the job deadline passes.
func (s *Scheduler) PeriodRolloverJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPeriodRollover, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	return s.withJobLock(ctx, JobPeriodRollover, func(ctx context.Context) error {
		cutoff := s.clock.Now().Add(-s.cfg.BillingPeriod())
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			accounts, err := s.ledger.ListPeriodExpired(ctx, cutoff, s.cfg.BatchSize)
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				return nil
			}

			progressed := 0
			for _, account := range accounts {
				if err := ctx.Err(); err != nil {
					return err
				}
				rolled, err := s.ledger.RolloverPeriod(ctx, account.ID, cutoff)
				if err != nil {
					s.logAccountError(ctx, run, "scheduler.rollover.failed", account.ID, err)
					continue
				}
				if !rolled {
					// another replica or a ledger write moved the period first
					run.AddSkipped(1)
					continue
				}
				progressed++
				s.logger(ctx).Debug("scheduler.rollover.account",
					zap.String("account_id", idString(account.ID)),
					zap.String("period_usage", account.PeriodUsage.String()),
				)
			}
			run.AddProcessed(progressed)

			// nothing in the batch moved, stop rather than spin on it
			if progressed == 0 || len(accounts) < s.cfg.BatchSize {
				return nil
			}
		}
	})
}
