package service

import (
	"strings"

	"github.com/smallbiznis/gradewise/internal/config"
	ratingdomain "github.com/smallbiznis/gradewise/internal/rating/domain"
	"github.com/smallbiznis/gradewise/pkg/amount"
)

const tokensPerRateUnit = 1000

type Estimator struct {
	pricing *config.PricingConfigHolder
}

func NewEstimator(pricing *config.PricingConfigHolder) ratingdomain.Estimator {
	if pricing == nil {
		pricing = config.NewStaticPricingConfigHolder(config.DefaultPricingConfig())
	}
	return &Estimator{pricing: pricing}
}

// Estimate is tokensInput/1000*INPUT_RATE + tokensOutput/1000*OUTPUT_RATE,
// computed in micro-credits and rounded half up per term.
func (e *Estimator) Estimate(tokensInput, tokensOutput int64) amount.Amount {
	return price(e.pricing.Get(), tokensInput, tokensOutput)
}

func (e *Estimator) EstimateByHeuristic(answerLength int, questionType string) amount.Amount {
	cfg := e.pricing.Get()
	h := cfg.Heuristic

	if answerLength < 0 {
		answerLength = 0
	}
	charsPerToken := h.CharsPerToken
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	answerTokens := (answerLength + charsPerToken - 1) / charsPerToken
	inputTokens := int64(answerTokens + h.PromptOverheadTokens)

	outputTokens := h.DefaultOutputTokens
	if n, ok := h.OutputTokens[strings.ToLower(strings.TrimSpace(questionType))]; ok && n > 0 {
		outputTokens = n
	}

	return price(cfg, inputTokens, int64(outputTokens))
}

func (e *Estimator) MinimumCharge(feature string) amount.Amount {
	min, ok := e.pricing.Get().MinimumCharges[strings.TrimSpace(feature)]
	if !ok || min <= 0 {
		return amount.Zero
	}
	return amount.FromFloat(min)
}

func price(cfg config.PricingConfig, tokensInput, tokensOutput int64) amount.Amount {
	if tokensInput < 0 {
		tokensInput = 0
	}
	if tokensOutput < 0 {
		tokensOutput = 0
	}
	in := amount.MulDiv(amount.FromFloat(cfg.InputRate), tokensInput, tokensPerRateUnit)
	out := amount.MulDiv(amount.FromFloat(cfg.OutputRate), tokensOutput, tokensPerRateUnit)
	return in + out
}
