// Package provider holds the model endpoints behind aigrading.Provider.
package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/smallbiznis/gradewise/internal/aigrading/domain"
	"github.com/smallbiznis/gradewise/internal/config"
	"go.uber.org/zap"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
	log    *zap.Logger
}

func NewOpenAI(cfg config.Config, log *zap.Logger) domain.Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.AI.APIKey),
	}
	if cfg.AI.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.AI.BaseURL))
	}
	if cfg.AI.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.AI.Timeout))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.AI.Model,
		log:    log.Named("aigrading.openai"),
	}
}

func (p *OpenAI) Generate(ctx context.Context, prompt domain.Prompt, params domain.Params) (domain.Generation, error) {
	model := params.Model
	if model == "" {
		model = p.model
	}

	req := openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		}),
		Model:       openai.F(model),
		Temperature: openai.F(params.Temperature),
	}
	if params.MaxOutputTokens > 0 {
		req.MaxCompletionTokens = openai.F(params.MaxOutputTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return domain.Generation{}, fmt.Errorf("%w: %v", domain.ErrGradingProvider, err)
	}
	if len(resp.Choices) == 0 {
		return domain.Generation{}, fmt.Errorf("%w: empty completion", domain.ErrGradingProvider)
	}

	p.log.Debug("completion received",
		zap.String("model", resp.Model),
		zap.Int64("tokens_input", resp.Usage.PromptTokens),
		zap.Int64("tokens_output", resp.Usage.CompletionTokens),
	)
	return domain.Generation{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		TokensInput:  resp.Usage.PromptTokens,
		TokensOutput: resp.Usage.CompletionTokens,
	}, nil
}
