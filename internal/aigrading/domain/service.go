// Package domain defines the AI grading contract used by bulk grading.
package domain

import (
	"context"
	"errors"

	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
)

// ErrGradingProvider wraps every failure of the model call or of reading its
// answer, so callers can treat them as one recoverable kind.
var ErrGradingProvider = errors.New("grading_provider_error")

// Params tunes one generation.
type Params struct {
	Model           string
	MaxOutputTokens int64
	Temperature     float64
}

// Generation is the raw provider output with its metered token counts.
type Generation struct {
	Text         string
	Model        string
	TokensInput  int64
	TokensOutput int64
}

// Provider is the external model endpoint.
type Provider interface {
	Generate(ctx context.Context, prompt Prompt, params Params) (Generation, error)
}

// Prompt is a system instruction plus the user message.
type Prompt struct {
	System string
	User   string
}

// Outcome is one AI-graded response.
type Outcome struct {
	MarksAwarded float64
	MaxMarks     float64
	Feedback     string
	Model        string
	TokensInput  int64
	TokensOutput int64
}

// Grader scores one subjective response.
type Grader interface {
	Grade(ctx context.Context, item assessmentdomain.GradedItem) (Outcome, error)
}
