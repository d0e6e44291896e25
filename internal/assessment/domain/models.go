package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type FieldType string

const (
	FieldTypeShortText      FieldType = "short_text"
	FieldTypeLongText       FieldType = "long_text"
	FieldTypeMultipleChoice FieldType = "multiple_choice"
	FieldTypeCheckbox       FieldType = "checkbox"
	FieldTypeDropdown       FieldType = "dropdown"
	FieldTypeFile           FieldType = "file"
	FieldTypeRating         FieldType = "rating"
	FieldTypeDate           FieldType = "date"
	FieldTypeEmail          FieldType = "email"
	FieldTypeNumber         FieldType = "number"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeShortText, FieldTypeLongText, FieldTypeMultipleChoice, FieldTypeCheckbox,
		FieldTypeDropdown, FieldTypeFile, FieldTypeRating, FieldTypeDate, FieldTypeEmail, FieldTypeNumber:
		return true
	default:
		return false
	}
}

// IsSubjectiveText marks the free-text types graded by AI or by hand.
func (t FieldType) IsSubjectiveText() bool {
	return t == FieldTypeShortText || t == FieldTypeLongText
}

// Field is a question definition. Marks nil means the field is not graded.
type Field struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	ProjectID     snowflake.ID `gorm:"not null;index" json:"project_id"`
	Type          FieldType    `gorm:"type:text;not null" json:"type"`
	Label         string       `gorm:"type:text;not null" json:"label"`
	Guidance      string       `gorm:"type:text" json:"guidance,omitempty"`
	CorrectAnswer Value        `json:"correct_answer,omitempty"`
	Marks         *float64     `json:"marks,omitempty"`
	Position      int          `gorm:"not null;default:0" json:"position"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
}

func (Field) TableName() string { return "fields" }

func (f Field) IsGraded() bool { return f.Marks != nil }

type MarkSource string

const (
	MarkSourceAuto   MarkSource = "auto"
	MarkSourceAI     MarkSource = "ai"
	MarkSourceManual MarkSource = "manual"
)

// Response is one answer to one field. MarksAwarded nil means ungraded.
type Response struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	SubmissionID snowflake.ID `gorm:"not null;uniqueIndex:ux_responses_submission_field" json:"submission_id"`
	FieldID      snowflake.ID `gorm:"not null;uniqueIndex:ux_responses_submission_field" json:"field_id"`
	Value        Value        `json:"value"`
	MarksAwarded *float64     `json:"marks_awarded,omitempty"`
	MaxMarks     *float64     `json:"max_marks,omitempty"`
	IsCorrect    *bool        `json:"is_correct,omitempty"`
	Feedback     string       `gorm:"type:text" json:"feedback,omitempty"`
	MarkedBy     MarkSource   `gorm:"type:text" json:"marked_by,omitempty"`
	MarkedAt     *time.Time   `json:"marked_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (Response) TableName() string { return "responses" }

func (r Response) IsGraded() bool { return r.MarksAwarded != nil }

type SubmissionStatus string

const (
	SubmissionStatusInProgress SubmissionStatus = "in_progress"
	SubmissionStatusSubmitted  SubmissionStatus = "submitted"
	SubmissionStatusMarked     SubmissionStatus = "marked"
	SubmissionStatusReturned   SubmissionStatus = "returned"
)

var statusOrder = map[SubmissionStatus]int{
	SubmissionStatusInProgress: 0,
	SubmissionStatusSubmitted:  1,
	SubmissionStatusMarked:     2,
	SubmissionStatusReturned:   3,
}

// CanTransition allows exactly one step forward.
func CanTransition(from, to SubmissionStatus) bool {
	f, ok := statusOrder[from]
	if !ok {
		return false
	}
	t, ok := statusOrder[to]
	if !ok {
		return false
	}
	return t == f+1
}

// Submission is one respondent's attempt. The score fields are written only
// by the score aggregator, all together.
type Submission struct {
	ID           snowflake.ID     `gorm:"primaryKey" json:"id"`
	ProjectID    snowflake.ID     `gorm:"not null;index" json:"project_id"`
	RespondentID string           `gorm:"type:text;not null" json:"respondent_id"`
	Status       SubmissionStatus `gorm:"type:text;not null;default:in_progress" json:"status"`
	TotalMarks   float64          `gorm:"not null;default:0" json:"total_marks"`
	EarnedMarks  float64          `gorm:"not null;default:0" json:"earned_marks"`
	Percentage   int              `gorm:"not null;default:0" json:"percentage"`
	Grade        string           `gorm:"type:text" json:"grade"`
	SubmittedAt  *time.Time       `json:"submitted_at,omitempty"`
	MarkedAt     *time.Time       `json:"marked_at,omitempty"`
	ReturnedAt   *time.Time       `json:"returned_at,omitempty"`
	CreatedAt    time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"not null" json:"updated_at"`
}

func (Submission) TableName() string { return "submissions" }

// GradedItem pairs a response with its field definition.
type GradedItem struct {
	Response Response
	Field    Field
}
