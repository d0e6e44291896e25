package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	aidomain "github.com/smallbiznis/gradewise/internal/aigrading/domain"
	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
	bulkdomain "github.com/smallbiznis/gradewise/internal/bulkgrading/domain"
	"github.com/smallbiznis/gradewise/internal/clock"
	"github.com/smallbiznis/gradewise/internal/config"
	creditdomain "github.com/smallbiznis/gradewise/internal/credit/domain"
	obslogger "github.com/smallbiznis/gradewise/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gradewise/internal/observability/metrics"
	"github.com/smallbiznis/gradewise/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/gradewise/internal/rating/domain"
	scoringdomain "github.com/smallbiznis/gradewise/internal/scoring/domain"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"github.com/smallbiznis/gradewise/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keySubmissionBatch  = "grading:batch:%s"
	defaultBatchLockTTL = 15 * time.Minute
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Repo       assessmentdomain.Repository
	Ledger     creditdomain.Service
	Estimator  ratingdomain.Estimator
	Grader     aidomain.Grader
	Aggregator scoringdomain.Aggregator
	Locker     ratelimit.Locker
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	repo       assessmentdomain.Repository
	ledger     creditdomain.Service
	estimator  ratingdomain.Estimator
	grader     aidomain.Grader
	aggregator scoringdomain.Aggregator
	locker     ratelimit.Locker
	lockTTL    time.Duration
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) bulkdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	lockTTL := p.Cfg.RateLimit.BatchLockTTL
	if lockTTL <= 0 {
		lockTTL = defaultBatchLockTTL
	}
	return &Service{
		log:        p.Log.Named("bulkgrading.service"),
		repo:       p.Repo,
		ledger:     p.Ledger,
		estimator:  p.Estimator,
		grader:     p.Grader,
		aggregator: p.Aggregator,
		locker:     p.Locker,
		lockTTL:    lockTTL,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) BulkGrade(ctx context.Context, req bulkdomain.Request) (*bulkdomain.Report, error) {
	if req.SubmissionID == 0 || req.AccountID == 0 {
		return nil, bulkdomain.ErrInvalidRequest
	}

	ctx, cid := correlation.EnsureCorrelationID(ctx)
	log := obslogger.WithAccount(obslogger.WithContext(ctx, s.log), req.AccountID.Int64()).
		With(zap.String("submission_id", req.SubmissionID.String()))

	lockKey := fmt.Sprintf(keySubmissionBatch, req.SubmissionID.String())
	token, ok, err := s.locker.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire batch lock: %w", err)
	}
	if !ok {
		return nil, bulkdomain.ErrBatchInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Warn("release batch lock failed", zap.Error(err))
		}
	}()

	submission, err := s.repo.GetSubmission(ctx, nil, req.SubmissionID)
	if err != nil {
		return nil, err
	}
	if !gradable(submission.Status) {
		return nil, fmt.Errorf("%w: submission is %s", assessmentdomain.ErrInvalidTransition, submission.Status)
	}
	items, err := s.repo.ListItems(ctx, nil, req.SubmissionID)
	if err != nil {
		return nil, err
	}

	report := &bulkdomain.Report{
		SubmissionID:  req.SubmissionID,
		CorrelationID: cid,
		Items:         []bulkdomain.ItemResult{},
	}
	pending := bulkdomain.PendingItems(items)
	if len(pending) == 0 {
		return report, nil
	}

	estimate, err := s.preflightEstimate(pending)
	if err != nil {
		return nil, err
	}
	check, err := s.ledger.CheckSufficient(ctx, req.AccountID, estimate)
	if err != nil {
		return nil, err
	}
	if !check.Sufficient {
		log.Info("bulk grading rejected by pre-flight check",
			zap.Int("pending", len(pending)),
			zap.String("required", check.Required.String()),
			zap.String("balance", check.Balance.String()),
		)
		return nil, &creditdomain.InsufficientCreditsError{Balance: check.Balance, Required: check.Required}
	}

	log.Info("bulk grading started", zap.Int("pending", len(pending)), zap.String("estimate", estimate.String()))

	for i, item := range pending {
		if ctx.Err() != nil {
			for _, rest := range pending[i:] {
				report.Items = append(report.Items, skipped(rest))
			}
			report.SkippedCount += len(pending) - i
			break
		}

		started := s.clock.Now()
		result := s.gradeItem(ctx, req, submission, item)
		s.obsMetrics.RecordGradingItem(ctx, string(result.Status), s.clock.Now().Sub(started))

		report.Items = append(report.Items, result)
		switch result.Status {
		case bulkdomain.ItemStatusGraded:
			report.GradedCount++
			total, err := report.TotalCost.Add(result.Cost)
			if err != nil {
				return nil, err
			}
			report.TotalCost = total
		case bulkdomain.ItemStatusSkipped:
			report.SkippedCount++
			log.Info("bulk grading item marked meanwhile, not charged",
				zap.String("response_id", result.ResponseID.String()),
			)
		case bulkdomain.ItemStatusFailed:
			report.FailedCount++
			log.Warn("bulk grading item failed",
				zap.String("response_id", result.ResponseID.String()),
				zap.Error(result.Err),
			)
		}
	}

	if report.GradedCount > 0 {
		updated, err := s.aggregator.Recompute(context.WithoutCancel(ctx), req.SubmissionID)
		if err != nil {
			log.Error("recompute after bulk grading failed", zap.Error(err))
		} else {
			report.Submission = updated
		}
	}

	log.Info("bulk grading finished",
		zap.Int("graded", report.GradedCount),
		zap.Int("failed", report.FailedCount),
		zap.Int("skipped", report.SkippedCount),
		zap.String("total_cost", report.TotalCost.String()),
	)
	return report, nil
}

func (s *Service) preflightEstimate(pending []assessmentdomain.GradedItem) (amount.Amount, error) {
	minCharge := s.estimator.MinimumCharge(bulkdomain.FeatureAIGrading)
	total := amount.Zero
	for _, item := range pending {
		est := s.estimator.EstimateByHeuristic(item.Response.Value.TextLength(), string(item.Field.Type))
		var err error
		total, err = total.Add(ratingdomain.ApplyMinimumCharge(est, minCharge))
		if err != nil {
			return amount.Zero, err
		}
	}
	return total, nil
}

// gradeItem grades one response and debits its actual cost. The mark is
// written inside the debit transaction, so an item is either graded and
// charged or neither. A response marked while the provider call was in
// flight keeps its mark and is reported skipped.
func (s *Service) gradeItem(ctx context.Context, req bulkdomain.Request, submission *assessmentdomain.Submission, item assessmentdomain.GradedItem) bulkdomain.ItemResult {
	result := bulkdomain.ItemResult{
		ResponseID: item.Response.ID,
		FieldID:    item.Field.ID,
		MaxMarks:   *item.Field.Marks,
	}

	outcome, err := s.grader.Grade(ctx, item)
	if err != nil {
		if !errors.Is(err, aidomain.ErrGradingProvider) {
			err = fmt.Errorf("%w: %v", aidomain.ErrGradingProvider, err)
		}
		return failed(result, err)
	}

	cost := ratingdomain.ApplyMinimumCharge(
		s.estimator.Estimate(outcome.TokensInput, outcome.TokensOutput),
		s.estimator.MinimumCharge(bulkdomain.FeatureAIGrading),
	)

	maxMarks := outcome.MaxMarks
	mark := assessmentdomain.Mark{
		MarksAwarded: outcome.MarksAwarded,
		MaxMarks:     &maxMarks,
		Feedback:     outcome.Feedback,
		Source:       assessmentdomain.MarkSourceAI,
		MarkedAt:     s.clock.Now(),
	}
	projectID := submission.ProjectID
	submissionID := submission.ID

	// An item whose provider call finished settles even if the batch is
	// cancelled meanwhile.
	settleCtx := context.WithoutCancel(ctx)
	_, err = s.ledger.Deduct(settleCtx, creditdomain.DeductRequest{
		AccountID:    req.AccountID,
		Amount:       cost,
		Feature:      bulkdomain.FeatureAIGrading,
		Model:        outcome.Model,
		TokensInput:  outcome.TokensInput,
		TokensOutput: outcome.TokensOutput,
		ProjectID:    &projectID,
		SubmissionID: &submissionID,
		Metadata: map[string]any{
			"response_id":    item.Response.ID.String(),
			"field_id":       item.Field.ID.String(),
			"correlation_id": correlation.ExtractCorrelationID(ctx),
		},
		Settle: func(ctx context.Context, tx *gorm.DB) error {
			return s.repo.ApplyMarkIfUngraded(ctx, tx, item.Response.ID, mark)
		},
	})
	if errors.Is(err, assessmentdomain.ErrAlreadyMarked) {
		result.Status = bulkdomain.ItemStatusSkipped
		return result
	}
	if err != nil {
		return failed(result, err)
	}

	awarded := outcome.MarksAwarded
	result.Status = bulkdomain.ItemStatusGraded
	result.MarksAwarded = &awarded
	result.Cost = cost
	return result
}

func gradable(status assessmentdomain.SubmissionStatus) bool {
	return status == assessmentdomain.SubmissionStatusSubmitted ||
		status == assessmentdomain.SubmissionStatusMarked
}

func failed(result bulkdomain.ItemResult, err error) bulkdomain.ItemResult {
	result.Status = bulkdomain.ItemStatusFailed
	result.Err = err
	result.Error = err.Error()
	return result
}

func skipped(item assessmentdomain.GradedItem) bulkdomain.ItemResult {
	return bulkdomain.ItemResult{
		ResponseID: item.Response.ID,
		FieldID:    item.Field.ID,
		Status:     bulkdomain.ItemStatusSkipped,
		MaxMarks:   *item.Field.Marks,
	}
}
