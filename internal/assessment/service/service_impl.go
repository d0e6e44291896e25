package service

import (
	"context"
	"errors"
	"math"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/smallbiznis/gradewise/internal/autograde"
	"github.com/smallbiznis/gradewise/internal/clock"
	scoringdomain "github.com/smallbiznis/gradewise/internal/scoring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	Aggregator scoringdomain.Aggregator
	Clock      clock.Clock `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	aggregator scoringdomain.Aggregator
	clock      clock.Clock
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("assessment.service"),
		repo:       p.Repo,
		aggregator: p.Aggregator,
		clock:      clk,
	}
}

func (s *Service) Submit(ctx context.Context, submissionID snowflake.ID) (*domain.Submission, error) {
	var out *domain.Submission
	var autoGraded int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		submission, err := s.repo.GetSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(submission.Status, domain.SubmissionStatusSubmitted) {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now()
		moved, err := s.repo.UpdateStatus(ctx, tx, submissionID, submission.Status, domain.SubmissionStatusSubmitted, now)
		if err != nil {
			return err
		}
		if !moved {
			return domain.ErrInvalidTransition
		}

		items, err := s.repo.ListItems(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Response.IsGraded() {
				continue
			}
			res, err := autograde.Grade(item.Field, item.Response)
			if errors.Is(err, autograde.ErrNotApplicable) {
				continue
			}
			if err != nil {
				return err
			}
			maxMarks := res.MaxMarks
			isCorrect := res.IsCorrect
			if err := s.repo.ApplyMark(ctx, tx, item.Response.ID, domain.Mark{
				MarksAwarded: res.MarksAwarded,
				MaxMarks:     &maxMarks,
				IsCorrect:    &isCorrect,
				Source:       domain.MarkSourceAuto,
				MarkedAt:     now,
			}); err != nil {
				return err
			}
			autoGraded++
		}

		out, err = s.aggregator.RecomputeTx(ctx, tx, submissionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("submission submitted",
		zap.String("submission_id", submissionID.String()),
		zap.Int("auto_graded", autoGraded),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

func (s *Service) MarkReturned(ctx context.Context, submissionID snowflake.ID) (*domain.Submission, error) {
	submission, err := s.repo.GetSubmission(ctx, nil, submissionID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(submission.Status, domain.SubmissionStatusReturned) {
		return nil, domain.ErrInvalidTransition
	}
	moved, err := s.repo.UpdateStatus(ctx, nil, submissionID, submission.Status, domain.SubmissionStatusReturned, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, domain.ErrInvalidTransition
	}
	return s.repo.GetSubmission(ctx, nil, submissionID)
}

// OverrideMark replaces any existing mark with a manual one and recomputes
// the submission score in the same transaction.
func (s *Service) OverrideMark(ctx context.Context, req domain.OverrideRequest) (*domain.Response, error) {
	response, err := s.repo.GetResponse(ctx, req.ResponseID)
	if err != nil {
		return nil, err
	}
	field, err := s.repo.GetField(ctx, response.FieldID)
	if err != nil {
		return nil, err
	}
	if !field.IsGraded() {
		return nil, domain.ErrFieldNotGraded
	}
	maxMarks := *field.Marks
	if math.IsNaN(req.Marks) || req.Marks < 0 || req.Marks > maxMarks {
		return nil, domain.ErrInvalidMarks
	}

	mark := domain.Mark{
		MarksAwarded: req.Marks,
		MaxMarks:     &maxMarks,
		Feedback:     req.Feedback,
		Source:       domain.MarkSourceManual,
		MarkedAt:     s.clock.Now(),
	}
	if autograde.Applicable(*field) {
		isCorrect := req.Marks == maxMarks
		mark.IsCorrect = &isCorrect
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.ApplyMark(ctx, tx, response.ID, mark); err != nil {
			return err
		}
		_, err := s.aggregator.RecomputeTx(ctx, tx, response.SubmissionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("mark overridden",
		zap.String("response_id", response.ID.String()),
		zap.String("submission_id", response.SubmissionID.String()),
		zap.Float64("marks", req.Marks),
	)
	return s.repo.GetResponse(ctx, response.ID)
}
