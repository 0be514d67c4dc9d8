// ABOUTME: Confidence tiering that folds validation confidence, stored semantics, and risk into a discrete tier.
// ABOUTME: The tier gates whether generated SQL may execute automatically or needs human approval.
package schema

// Tier is the discrete classification of a confidence score.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// TierConfidence derives the final confidence score and tier for a validated
// statement. A detected domain semantic for the question raises the score;
// performance risk and unknowns (up to three) lower it.
func TierConfidence(res ValidationResult, hasSemantic bool) (float64, Tier) {
	score := res.Confidence

	if hasSemantic {
		score += 0.1
	}

	switch res.PerformanceRisk {
	case RiskHigh:
		score -= 0.15
	case RiskMedium:
		score -= 0.1
	}

	unknowns := len(res.Unknowns)
	if unknowns > 3 {
		unknowns = 3
	}
	score -= 0.1 * float64(unknowns)

	score = clamp(score)

	switch {
	case score >= 0.8:
		return score, TierHigh
	case score >= 0.5:
		return score, TierMedium
	default:
		return score, TierLow
	}
}
