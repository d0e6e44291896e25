// Package domain holds the field, response and submission model.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Mark is one grading outcome for a response.
type Mark struct {
	MarksAwarded float64
	MaxMarks     *float64
	IsCorrect    *bool
	Feedback     string
	Source       MarkSource
	MarkedAt     time.Time
}

// Score is the aggregate written onto a submission.
type Score struct {
	TotalMarks  float64 `json:"total_marks"`
	EarnedMarks float64 `json:"earned_marks"`
	Percentage  int     `json:"percentage"`
	Grade       string  `json:"grade"`
}

// Repository persists assessments. Methods taking a *gorm.DB run on that
// handle so callers can join an outer transaction; nil means the default.
type Repository interface {
	CreateField(ctx context.Context, field *Field) error
	CreateSubmission(ctx context.Context, submission *Submission) error
	CreateResponse(ctx context.Context, response *Response) error

	GetSubmission(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Submission, error)
	GetResponse(ctx context.Context, id snowflake.ID) (*Response, error)
	GetField(ctx context.Context, id snowflake.ID) (*Field, error)
	// ListItems returns every response of a submission with its field,
	// in field position order.
	ListItems(ctx context.Context, db *gorm.DB, submissionID snowflake.ID) ([]GradedItem, error)

	ApplyMark(ctx context.Context, db *gorm.DB, responseID snowflake.ID, mark Mark) error
	// ApplyMarkIfUngraded writes the mark only while the response carries
	// none and returns ErrAlreadyMarked otherwise.
	ApplyMarkIfUngraded(ctx context.Context, db *gorm.DB, responseID snowflake.ID, mark Mark) error
	// UpdateStatus moves a submission from one status to the next and
	// reports false when the submission was not in the expected status.
	UpdateStatus(ctx context.Context, db *gorm.DB, submissionID snowflake.ID, from, to SubmissionStatus, at time.Time) (bool, error)
	WriteScore(ctx context.Context, db *gorm.DB, submissionID snowflake.ID, score Score, at time.Time) error
}

type OverrideRequest struct {
	ResponseID snowflake.ID `json:"response_id"`
	Marks      float64      `json:"marks"`
	Feedback   string       `json:"feedback"`
}

type Service interface {
	// Submit moves an attempt to submitted, auto-grades objective answers
	// and recomputes the score.
	Submit(ctx context.Context, submissionID snowflake.ID) (*Submission, error)
	MarkReturned(ctx context.Context, submissionID snowflake.ID) (*Submission, error)
	OverrideMark(ctx context.Context, req OverrideRequest) (*Response, error)
}

var (
	ErrSubmissionNotFound = errors.New("submission_not_found")
	ErrResponseNotFound   = errors.New("response_not_found")
	ErrFieldNotFound      = errors.New("field_not_found")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrAlreadyMarked      = errors.New("already_marked")
	ErrInvalidMarks       = errors.New("invalid_marks")
	ErrFieldNotGraded     = errors.New("field_not_graded")
	ErrInvalidFieldType   = errors.New("invalid_field_type")
)
