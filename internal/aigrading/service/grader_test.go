package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	aidomain "github.com/smallbiznis/gradewise/internal/aigrading/domain"
	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/smallbiznis/gradewise/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Generate(ctx context.Context, prompt aidomain.Prompt, params aidomain.Params) (aidomain.Generation, error) {
	args := m.Called(ctx, prompt, params)
	return args.Get(0).(aidomain.Generation), args.Error(1)
}

func essayItem(maxMarks float64, answer string) assessmentdomain.GradedItem {
	return assessmentdomain.GradedItem{
		Field: assessmentdomain.Field{
			Type:     assessmentdomain.FieldTypeLongText,
			Label:    "Explain photosynthesis",
			Guidance: "Mention light and chlorophyll",
			Marks:    &maxMarks,
		},
		Response: assessmentdomain.Response{Value: assessmentdomain.TextValue(answer)},
	}
}

func newTestGrader(p aidomain.Provider) aidomain.Grader {
	cfg := config.Config{AI: config.AIConfig{Model: "gpt-4o-mini"}}
	return NewGrader(Params{Provider: p, Cfg: cfg, Log: zap.NewNop()})
}

func TestGradeParsesVerdict(t *testing.T) {
	p := &mockProvider{}
	p.On("Generate", mock.Anything, mock.MatchedBy(func(pr aidomain.Prompt) bool {
		return pr.System == systemPrompt &&
			strings.Contains(pr.User, "Explain photosynthesis") &&
			strings.Contains(pr.User, "Maximum marks: 5") &&
			strings.Contains(pr.User, "plants use light")
	}), mock.Anything).Return(aidomain.Generation{
		Text:         "```json\n{\"marks\": 3.5, \"feedback\": \" Good start. \"}\n```",
		Model:        "gpt-4o-mini-2024",
		TokensInput:  420,
		TokensOutput: 60,
	}, nil).Once()

	out, err := newTestGrader(p).Grade(context.Background(), essayItem(5, "plants use light"))
	require.NoError(t, err)
	assert.Equal(t, 3.5, out.MarksAwarded)
	assert.Equal(t, 5.0, out.MaxMarks)
	assert.Equal(t, "Good start.", out.Feedback)
	assert.Equal(t, "gpt-4o-mini-2024", out.Model)
	assert.Equal(t, int64(420), out.TokensInput)
	assert.Equal(t, int64(60), out.TokensOutput)
	p.AssertExpectations(t)
}

func TestGradeClampsMarks(t *testing.T) {
	p := &mockProvider{}
	p.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(aidomain.Generation{Text: `{"marks": 12, "feedback": "x"}`}, nil).Once()
	p.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(aidomain.Generation{Text: `{"marks": -2, "feedback": "y"}`}, nil).Once()

	g := newTestGrader(p)
	out, err := g.Grade(context.Background(), essayItem(4, "answer"))
	require.NoError(t, err)
	assert.Equal(t, 4.0, out.MarksAwarded)
	assert.Equal(t, "gpt-4o-mini", out.Model)

	out, err = g.Grade(context.Background(), essayItem(4, "answer"))
	require.NoError(t, err)
	assert.Zero(t, out.MarksAwarded)
}

func TestGradeWrapsFailures(t *testing.T) {
	tests := []struct {
		name string
		gen  aidomain.Generation
		err  error
	}{
		{name: "provider error", err: errors.New("connection reset")},
		{name: "not json", gen: aidomain.Generation{Text: "I think it deserves 3"}},
		{name: "missing marks", gen: aidomain.Generation{Text: `{"feedback": "ok"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{}
			p.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(tt.gen, tt.err).Once()

			_, err := newTestGrader(p).Grade(context.Background(), essayItem(5, "answer"))
			assert.ErrorIs(t, err, aidomain.ErrGradingProvider)
		})
	}
}

func TestGradeRejectsObjectiveField(t *testing.T) {
	p := &mockProvider{}
	item := essayItem(1, "a")
	item.Field.Type = assessmentdomain.FieldTypeMultipleChoice

	_, err := newTestGrader(p).Grade(context.Background(), item)
	assert.ErrorIs(t, err, aidomain.ErrGradingProvider)
	p.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}
