// Package domain defines how token usage is priced in credits.
package domain

import "github.com/smallbiznis/gradewise/pkg/amount"

// Estimator converts token counts into credits. Implementations are pure and
// never apply a minimum charge on their own.
type Estimator interface {
	// Estimate prices actual token counts.
	Estimate(tokensInput, tokensOutput int64) amount.Amount
	// EstimateByHeuristic prices a grading call before it is made. The
	// result only gates a pre-flight check and is never debited.
	EstimateByHeuristic(answerLength int, questionType string) amount.Amount
	// MinimumCharge is the configured floor for a feature, zero when none.
	MinimumCharge(feature string) amount.Amount
}

// ApplyMinimumCharge raises cost to min. Callers opt in per feature.
func ApplyMinimumCharge(cost, min amount.Amount) amount.Amount {
	return amount.Max(cost, min)
}
