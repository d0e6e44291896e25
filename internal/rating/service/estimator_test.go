package service

import (
	"testing"

	"github.com/smallbiznis/gradewise/internal/config"
	ratingdomain "github.com/smallbiznis/gradewise/internal/rating/domain"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"github.com/stretchr/testify/assert"
)

func newTestEstimator(mut func(*config.PricingConfig)) ratingdomain.Estimator {
	cfg := config.DefaultPricingConfig()
	if mut != nil {
		mut(&cfg)
	}
	return NewEstimator(config.NewStaticPricingConfigHolder(cfg))
}

func TestEstimateWeightedSum(t *testing.T) {
	est := newTestEstimator(nil)

	assert.Equal(t, amount.Zero, est.Estimate(0, 0))
	// 1000 in at 0.5 plus 1000 out at 1.5
	assert.Equal(t, amount.FromCredits(2), est.Estimate(1000, 1000))
	assert.Equal(t, amount.MustParse("0.25"), est.Estimate(500, 0))
	assert.Equal(t, amount.MustParse("0.0015"), est.Estimate(0, 1))
	assert.Equal(t, amount.Zero, est.Estimate(-10, -10))
}

func TestEstimateIsMonotone(t *testing.T) {
	est := newTestEstimator(func(c *config.PricingConfig) {
		c.InputRate = 0.333333
		c.OutputRate = 0.999999
	})

	prev := amount.Zero
	for in := int64(0); in <= 3000; in += 7 {
		cur := est.Estimate(in, 0)
		assert.GreaterOrEqual(t, int64(cur), int64(prev), "input %d", in)
		prev = cur
	}
	prev = est.Estimate(100, 0)
	for out := int64(0); out <= 3000; out += 7 {
		cur := est.Estimate(100, out)
		assert.GreaterOrEqual(t, int64(cur), int64(prev), "output %d", out)
		prev = cur
	}
}

func TestEstimateByHeuristic(t *testing.T) {
	est := newTestEstimator(nil)

	// 400 chars at 4 per token is 100 answer tokens plus 350 overhead
	assert.Equal(t, est.Estimate(450, 350), est.EstimateByHeuristic(400, "long_text"))

	// unknown types use the default output budget
	assert.Equal(t, est.Estimate(351, 200), est.EstimateByHeuristic(1, "essay"))

	assert.Greater(t, int64(est.EstimateByHeuristic(4000, "long_text")), int64(est.EstimateByHeuristic(40, "long_text")))
}

func TestMinimumCharge(t *testing.T) {
	est := newTestEstimator(func(c *config.PricingConfig) {
		c.MinimumCharges = map[string]float64{"ai_feedback": 1}
	})

	assert.Equal(t, amount.FromCredits(1), est.MinimumCharge("ai_feedback"))
	assert.Equal(t, amount.Zero, est.MinimumCharge("ai_grading"))

	cost := est.Estimate(100, 100)
	assert.Equal(t, amount.FromCredits(1), ratingdomain.ApplyMinimumCharge(cost, est.MinimumCharge("ai_feedback")))
	assert.Equal(t, cost, ratingdomain.ApplyMinimumCharge(cost, est.MinimumCharge("ai_grading")))
}
