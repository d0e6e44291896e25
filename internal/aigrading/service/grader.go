package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	aidomain "github.com/smallbiznis/gradewise/internal/aigrading/domain"
	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/smallbiznis/gradewise/internal/config"
	"github.com/smallbiznis/gradewise/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const systemPrompt = `You are a fair and consistent grader. Grade the student's answer to the question.
Reply with a single JSON object and nothing else: {"marks": <number>, "feedback": "<one or two sentences>"}.
Marks must be between 0 and the maximum given, and may use halves.`

var errUngradable = errors.New("response cannot be graded by ai")

type Params struct {
	fx.In

	Provider aidomain.Provider
	Cfg      config.Config
	Log      *zap.Logger
}

type Grader struct {
	provider aidomain.Provider
	params   aidomain.Params
	log      *zap.Logger
}

func NewGrader(p Params) aidomain.Grader {
	return &Grader{
		provider: p.Provider,
		params: aidomain.Params{
			Model:           p.Cfg.AI.Model,
			MaxOutputTokens: 512,
			Temperature:     0,
		},
		log: p.Log.Named("aigrading.service"),
	}
}

func (g *Grader) Grade(ctx context.Context, item assessmentdomain.GradedItem) (aidomain.Outcome, error) {
	if !item.Field.Type.IsSubjectiveText() || !item.Field.IsGraded() || item.Response.Value.IsEmpty() {
		return aidomain.Outcome{}, fmt.Errorf("%w: %v", aidomain.ErrGradingProvider, errUngradable)
	}
	maxMarks := *item.Field.Marks

	ctx, span := otel.Tracer("gradewise/aigrading").Start(ctx, "aigrading.grade")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("field_type", string(item.Field.Type)),
		attribute.String("response_id", item.Response.ID.String()),
		attribute.Int("answer_length", item.Response.Value.TextLength()),
	)...)

	gen, err := g.provider.Generate(ctx, buildPrompt(item), g.params)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "generate failed")
		if !errors.Is(err, aidomain.ErrGradingProvider) {
			err = fmt.Errorf("%w: %v", aidomain.ErrGradingProvider, err)
		}
		return aidomain.Outcome{}, err
	}

	marks, feedback, err := parseVerdict(gen.Text, maxMarks)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "unreadable verdict")
		g.log.Warn("unreadable grading verdict",
			zap.String("response_id", item.Response.ID.String()),
			zap.String("model", gen.Model),
			zap.Error(err),
		)
		return aidomain.Outcome{}, err
	}

	span.SetAttributes(
		attribute.Int64("tokens_input", gen.TokensInput),
		attribute.Int64("tokens_output", gen.TokensOutput),
	)
	model := gen.Model
	if model == "" {
		model = g.params.Model
	}
	return aidomain.Outcome{
		MarksAwarded: marks,
		MaxMarks:     maxMarks,
		Feedback:     feedback,
		Model:        model,
		TokensInput:  gen.TokensInput,
		TokensOutput: gen.TokensOutput,
	}, nil
}

func buildPrompt(item assessmentdomain.GradedItem) aidomain.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", item.Field.Label)
	if g := strings.TrimSpace(item.Field.Guidance); g != "" {
		fmt.Fprintf(&b, "Marking guidance: %s\n", g)
	}
	if item.Field.CorrectAnswer.IsSet() && !item.Field.CorrectAnswer.IsEmpty() {
		fmt.Fprintf(&b, "Model answer: %s\n", item.Field.CorrectAnswer.String())
	}
	fmt.Fprintf(&b, "Maximum marks: %s\n", formatMarks(*item.Field.Marks))
	fmt.Fprintf(&b, "Student answer:\n%s\n", item.Response.Value.String())
	return aidomain.Prompt{System: systemPrompt, User: b.String()}
}

type verdict struct {
	Marks    *float64 `json:"marks"`
	Feedback string   `json:"feedback"`
}

// parseVerdict reads the first JSON object in the completion and clamps the
// marks into [0, maxMarks].
func parseVerdict(text string, maxMarks float64) (float64, string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return 0, "", fmt.Errorf("%w: no json object in completion", aidomain.ErrGradingProvider)
	}
	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return 0, "", fmt.Errorf("%w: %v", aidomain.ErrGradingProvider, err)
	}
	if v.Marks == nil || math.IsNaN(*v.Marks) || math.IsInf(*v.Marks, 0) {
		return 0, "", fmt.Errorf("%w: verdict has no marks", aidomain.ErrGradingProvider)
	}
	marks := math.Min(math.Max(*v.Marks, 0), maxMarks)
	return marks, strings.TrimSpace(v.Feedback), nil
}

func formatMarks(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%g", v)
}
