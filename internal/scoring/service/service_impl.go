package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/smallbiznis/gradewise/internal/clock"
	scoringdomain "github.com/smallbiznis/gradewise/internal/scoring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  assessmentdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  assessmentdomain.Repository
	clock clock.Clock
}

func NewService(p Params) scoringdomain.Aggregator {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("scoring.service"),
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Recompute(ctx context.Context, submissionID snowflake.ID) (*assessmentdomain.Submission, error) {
	var out *assessmentdomain.Submission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated, err := s.RecomputeTx(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecomputeTx writes the score and moves a submitted attempt to marked once
// every graded field carries a mark.
func (s *Service) RecomputeTx(ctx context.Context, tx *gorm.DB, submissionID snowflake.ID) (*assessmentdomain.Submission, error) {
	submission, err := s.repo.GetSubmission(ctx, tx, submissionID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, tx, submissionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	score := scoringdomain.Compute(items)
	if err := s.repo.WriteScore(ctx, tx, submissionID, score, now); err != nil {
		return nil, err
	}

	if submission.Status == assessmentdomain.SubmissionStatusSubmitted && scoringdomain.FullyMarked(items) {
		moved, err := s.repo.UpdateStatus(ctx, tx, submissionID,
			assessmentdomain.SubmissionStatusSubmitted, assessmentdomain.SubmissionStatusMarked, now)
		if err != nil {
			return nil, err
		}
		if moved {
			s.log.Info("submission marked",
				zap.String("submission_id", submissionID.String()),
				zap.Int("percentage", score.Percentage),
				zap.String("grade", score.Grade),
			)
		}
	}

	s.log.Debug("score recomputed",
		zap.String("submission_id", submissionID.String()),
		zap.Float64("total_marks", score.TotalMarks),
		zap.Float64("earned_marks", score.EarnedMarks),
	)
	return s.repo.GetSubmission(ctx, tx, submissionID)
}
