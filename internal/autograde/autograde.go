// Package autograde scores objective fields without any AI involvement.
package autograde

import (
	"errors"

	"github.com/smallbiznis/gradewise/internal/assessment/domain"
)

// ErrNotApplicable signals the field must be routed to AI or manual grading.
var ErrNotApplicable = errors.New("not_applicable")

// Result is the outcome of grading one response.
type Result struct {
	IsCorrect    bool
	MarksAwarded float64
	MaxMarks     float64
}

// Applicable reports whether Grade can score the field at all.
func Applicable(field domain.Field) bool {
	if field.Marks == nil || !field.CorrectAnswer.IsSet() || field.CorrectAnswer.IsEmpty() {
		return false
	}
	switch field.Type {
	case domain.FieldTypeMultipleChoice, domain.FieldTypeDropdown, domain.FieldTypeCheckbox:
		return true
	default:
		return false
	}
}

// Grade scores a response against the field's configured correct answer.
// It returns ErrNotApplicable for subjective types, ungraded fields, fields
// without a correct answer and blank responses.
func Grade(field domain.Field, response domain.Response) (Result, error) {
	if !Applicable(field) || response.Value.IsEmpty() {
		return Result{}, ErrNotApplicable
	}

	maxMarks := *field.Marks
	var correct bool

	switch field.Type {
	case domain.FieldTypeMultipleChoice, domain.FieldTypeDropdown:
		want, ok := single(field.CorrectAnswer)
		if !ok {
			return Result{}, ErrNotApplicable
		}
		got, ok := single(response.Value)
		correct = ok && got == want
	case domain.FieldTypeCheckbox:
		correct = setEqual(field.CorrectAnswer.Set(), selections(response.Value))
	case domain.FieldTypeShortText, domain.FieldTypeLongText, domain.FieldTypeFile,
		domain.FieldTypeRating, domain.FieldTypeDate, domain.FieldTypeEmail, domain.FieldTypeNumber:
		return Result{}, ErrNotApplicable
	default:
		return Result{}, ErrNotApplicable
	}

	res := Result{IsCorrect: correct, MaxMarks: maxMarks}
	if correct {
		res.MarksAwarded = maxMarks
	}
	return res, nil
}

// single extracts the one selected option of a single-choice value.
// Comparison is exact, so no trimming happens here.
func single(v domain.Value) (string, bool) {
	switch v.Kind {
	case domain.ValueKindChoice, domain.ValueKindText:
		return v.Text, v.Text != ""
	case domain.ValueKindChoices:
		if len(v.Choices) != 1 {
			return "", false
		}
		return v.Choices[0], v.Choices[0] != ""
	default:
		return "", false
	}
}

func selections(v domain.Value) map[string]struct{} {
	if v.Kind == domain.ValueKindText {
		return domain.ChoiceValue(v.Text).Set()
	}
	return v.Set()
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
