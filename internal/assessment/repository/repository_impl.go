package repository

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ecodeclub/ekit/slice"
	"github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/smallbiznis/gradewise/pkg/db/option"
	"github.com/smallbiznis/gradewise/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	db          *gorm.DB
	fields      repository.Repository[domain.Field]
	submissions repository.Repository[domain.Submission]
	responses   repository.Repository[domain.Response]
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repo{
		db:          db,
		fields:      repository.ProvideStore[domain.Field](db),
		submissions: repository.ProvideStore[domain.Submission](db),
		responses:   repository.ProvideStore[domain.Response](db),
	}
}

func (r *repo) CreateField(ctx context.Context, field *domain.Field) error {
	if !field.Type.Valid() {
		return domain.ErrInvalidFieldType
	}
	return r.fields.Create(ctx, field)
}

func (r *repo) CreateSubmission(ctx context.Context, submission *domain.Submission) error {
	if submission.Status == "" {
		submission.Status = domain.SubmissionStatusInProgress
	}
	return r.submissions.Create(ctx, submission)
}

func (r *repo) CreateResponse(ctx context.Context, response *domain.Response) error {
	return r.responses.Create(ctx, response)
}

func (r *repo) GetSubmission(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Submission, error) {
	if id == 0 {
		return nil, domain.ErrSubmissionNotFound
	}
	item, err := r.submissions.WithTrx(db).FindOne(ctx, &domain.Submission{ID: id})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrSubmissionNotFound
	}
	return item, nil
}

func (r *repo) GetResponse(ctx context.Context, id snowflake.ID) (*domain.Response, error) {
	if id == 0 {
		return nil, domain.ErrResponseNotFound
	}
	item, err := r.responses.FindOne(ctx, &domain.Response{ID: id})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrResponseNotFound
	}
	return item, nil
}

func (r *repo) GetField(ctx context.Context, id snowflake.ID) (*domain.Field, error) {
	if id == 0 {
		return nil, domain.ErrFieldNotFound
	}
	item, err := r.fields.FindOne(ctx, &domain.Field{ID: id})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrFieldNotFound
	}
	return item, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, submissionID snowflake.ID) ([]domain.GradedItem, error) {
	if submissionID == 0 {
		return nil, domain.ErrSubmissionNotFound
	}
	responses, err := r.responses.WithTrx(db).Find(ctx, &domain.Response{SubmissionID: submissionID},
		option.WithSortBy(option.WithQuerySortBy("id", "asc", map[string]bool{"id": true})),
	)
	if err != nil {
		return nil, err
	}
	if len(responses) == 0 {
		return nil, nil
	}

	fieldIDs := slice.Map(responses, func(_ int, resp *domain.Response) snowflake.ID {
		return resp.FieldID
	})
	fields, err := r.fields.WithTrx(db).Find(ctx, nil, option.ApplyOperator(option.Condition{
		Field:    "id",
		Operator: option.IN,
		Value:    fieldIDs,
	}))
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]*domain.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}

	items := make([]domain.GradedItem, 0, len(responses))
	for _, resp := range responses {
		field, ok := byID[resp.FieldID]
		if !ok {
			continue
		}
		items = append(items, domain.GradedItem{Response: *resp, Field: *field})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Field.Position < items[j].Field.Position
	})
	return items, nil
}

func (r *repo) ApplyMark(ctx context.Context, db *gorm.DB, responseID snowflake.ID, mark domain.Mark) error {
	if responseID == 0 {
		return domain.ErrResponseNotFound
	}
	affected, err := r.writeMark(ctx, r.conn(db), mark, "id = ?", responseID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrResponseNotFound
	}
	return nil
}

func (r *repo) ApplyMarkIfUngraded(ctx context.Context, db *gorm.DB, responseID snowflake.ID, mark domain.Mark) error {
	if responseID == 0 {
		return domain.ErrResponseNotFound
	}
	conn := r.conn(db)
	affected, err := r.writeMark(ctx, conn, mark, "id = ? AND marks_awarded IS NULL", responseID)
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	var count int64
	if err := conn.WithContext(ctx).Model(&domain.Response{}).Where("id = ?", responseID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrResponseNotFound
	}
	return domain.ErrAlreadyMarked
}

func (r *repo) writeMark(ctx context.Context, conn *gorm.DB, mark domain.Mark, query string, args ...any) (int64, error) {
	markedAt := mark.MarkedAt.UTC()
	res := conn.WithContext(ctx).Model(&domain.Response{}).
		Where(query, args...).
		Updates(map[string]any{
			"marks_awarded": mark.MarksAwarded,
			"max_marks":     mark.MaxMarks,
			"is_correct":    mark.IsCorrect,
			"feedback":      mark.Feedback,
			"marked_by":     string(mark.Source),
			"marked_at":     markedAt,
			"updated_at":    markedAt,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, submissionID snowflake.ID, from, to domain.SubmissionStatus, at time.Time) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, domain.ErrInvalidTransition
	}
	at = at.UTC()
	fields := map[string]any{
		"status":     string(to),
		"updated_at": at,
	}
	switch to {
	case domain.SubmissionStatusSubmitted:
		fields["submitted_at"] = at
	case domain.SubmissionStatusMarked:
		fields["marked_at"] = at
	case domain.SubmissionStatusReturned:
		fields["returned_at"] = at
	}
	res := r.conn(db).WithContext(ctx).Model(&domain.Submission{}).
		Where("id = ? AND status = ?", submissionID, string(from)).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// WriteScore writes all four score columns in a single statement.
func (r *repo) WriteScore(ctx context.Context, db *gorm.DB, submissionID snowflake.ID, score domain.Score, at time.Time) error {
	res := r.conn(db).WithContext(ctx).Model(&domain.Submission{}).
		Where("id = ?", submissionID).
		Updates(map[string]any{
			"total_marks":  score.TotalMarks,
			"earned_marks": score.EarnedMarks,
			"percentage":   score.Percentage,
			"grade":        score.Grade,
			"updated_at":   at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrSubmissionNotFound
	}
	return nil
}

func (r *repo) conn(db *gorm.DB) *gorm.DB {
	if db != nil {
		return db
	}
	return r.db
}
