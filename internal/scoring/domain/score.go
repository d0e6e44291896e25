// Package domain computes submission scores from graded responses.
package domain

import (
	"context"
	"math"

	"github.com/bwmarrin/snowflake"
	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
	"gorm.io/gorm"
)

// percentEpsilon absorbs float error so 89.5 computed as 89.4999... still
// rounds up.
const percentEpsilon = 1e-9

// Aggregator keeps a submission's stored score equal to its graded state.
type Aggregator interface {
	Recompute(ctx context.Context, submissionID snowflake.ID) (*assessmentdomain.Submission, error)
	// RecomputeTx runs inside the caller's transaction.
	RecomputeTx(ctx context.Context, tx *gorm.DB, submissionID snowflake.ID) (*assessmentdomain.Submission, error)
}

// Compute sums the responses whose field carries marks.
func Compute(items []assessmentdomain.GradedItem) assessmentdomain.Score {
	var total, earned float64
	for _, item := range items {
		if !item.Field.IsGraded() {
			continue
		}
		total += *item.Field.Marks
		if item.Response.MarksAwarded != nil {
			earned += *item.Response.MarksAwarded
		}
	}
	pct := Percentage(earned, total)
	return assessmentdomain.Score{
		TotalMarks:  total,
		EarnedMarks: earned,
		Percentage:  pct,
		Grade:       GradeLetter(pct),
	}
}

// Percentage rounds half up to a whole percentage point.
func Percentage(earned, total float64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Floor(earned/total*100 + 0.5 + percentEpsilon))
}

// GradeLetter maps a percentage onto fixed inclusive lower bounds.
func GradeLetter(percentage int) string {
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	default:
		return "F"
	}
}

// FullyMarked reports whether every graded field has a mark.
func FullyMarked(items []assessmentdomain.GradedItem) bool {
	for _, item := range items {
		if item.Field.IsGraded() && !item.Response.IsGraded() {
			return false
		}
	}
	return true
}
