// Package domain describes one bulk AI grading batch and its report.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/smallbiznis/gradewise/pkg/amount"
)

// FeatureAIGrading is the usage feature every batch item is debited under.
const FeatureAIGrading = "ai_grading"

type ItemStatus string

const (
	ItemStatusGraded  ItemStatus = "graded"
	ItemStatusFailed  ItemStatus = "failed"
	ItemStatusSkipped ItemStatus = "skipped"
)

type Request struct {
	SubmissionID snowflake.ID
	AccountID    snowflake.ID
}

// ItemResult is the outcome of one pending response. Err is kept for
// callers that need errors.Is; Error is its rendered form.
type ItemResult struct {
	ResponseID   snowflake.ID  `json:"response_id"`
	FieldID      snowflake.ID  `json:"field_id"`
	Status       ItemStatus    `json:"status"`
	MarksAwarded *float64      `json:"marks_awarded,omitempty"`
	MaxMarks     float64       `json:"max_marks"`
	Cost         amount.Amount `json:"cost"`
	Error        string        `json:"error,omitempty"`
	Err          error         `json:"-"`
}

type Report struct {
	SubmissionID  snowflake.ID                 `json:"submission_id"`
	CorrelationID string                       `json:"correlation_id,omitempty"`
	GradedCount   int                          `json:"graded_count"`
	FailedCount   int                          `json:"failed_count"`
	SkippedCount  int                          `json:"skipped_count"`
	TotalCost     amount.Amount                `json:"total_cost"`
	Items         []ItemResult                 `json:"items"`
	Submission    *assessmentdomain.Submission `json:"submission,omitempty"`
}

type Service interface {
	// BulkGrade AI-grades every pending subjective response of a submission.
	// Item failures are reported, never returned; only a failed pre-flight
	// check, a held batch lock or a load failure fail the whole call.
	BulkGrade(ctx context.Context, req Request) (*Report, error)
}

var (
	ErrBatchInProgress = errors.New("batch_in_progress")
	ErrInvalidRequest  = errors.New("invalid_request")
)

// PendingItems selects subjective text responses that carry an answer, have
// no mark yet and belong to a graded field.
func PendingItems(items []assessmentdomain.GradedItem) []assessmentdomain.GradedItem {
	out := make([]assessmentdomain.GradedItem, 0, len(items))
	for _, item := range items {
		if !item.Field.Type.IsSubjectiveText() || !item.Field.IsGraded() {
			continue
		}
		if item.Response.IsGraded() || item.Response.Value.IsEmpty() {
			continue
		}
		out = append(out, item)
	}
	return out
}
