package domain

import (
	"testing"

	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestGradeLetterBoundaries(t *testing.T) {
	tests := []struct {
		pct  int
		want string
	}{
		{100, "A"}, {90, "A"}, {89, "B"}, {80, "B"}, {79, "C"},
		{70, "C"}, {69, "D"}, {60, "D"}, {59, "F"}, {0, "F"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeLetter(tt.pct), "percentage %d", tt.pct)
	}
}

func TestPercentageRoundsHalfUp(t *testing.T) {
	assert.Equal(t, 0, Percentage(0, 0))
	assert.Equal(t, 90, Percentage(17.9, 20))
	assert.Equal(t, 67, Percentage(2, 3))
	assert.Equal(t, 33, Percentage(1, 3))
	assert.Equal(t, 100, Percentage(5, 5))
}

func TestComputeSkipsUngradedFields(t *testing.T) {
	items := []assessmentdomain.GradedItem{
		{Field: assessmentdomain.Field{Marks: ptr(4)}, Response: assessmentdomain.Response{MarksAwarded: ptr(4)}},
		{Field: assessmentdomain.Field{Marks: ptr(6)}},
		{Field: assessmentdomain.Field{}, Response: assessmentdomain.Response{MarksAwarded: ptr(10)}},
	}

	score := Compute(items)
	assert.Equal(t, 10.0, score.TotalMarks)
	assert.Equal(t, 4.0, score.EarnedMarks)
	assert.Equal(t, 40, score.Percentage)
	assert.Equal(t, "F", score.Grade)
	assert.Equal(t, score, Compute(items))

	assert.False(t, FullyMarked(items))
	items[1].Response.MarksAwarded = ptr(5)
	assert.True(t, FullyMarked(items))
}
