package domain

// Weight keys for ScoringWeights.
const (
	WeightDemandFrequency = "demand_frequency"
	WeightRevenueProof    = "revenue_proof"
	WeightCompetition     = "competition"
	WeightBuildComplexity = "build_complexity"
)

// ScoringWeights are the per-factor weights; they must sum to 1.
type ScoringWeights struct {
	DemandFrequency float64 `json:"demand_frequency"`
	RevenueProof    float64 `json:"revenue_proof"`
	Competition     float64 `json:"competition"`
	BuildComplexity float64 `json:"build_complexity"`
}

// Sum of all weights.
func (w ScoringWeights) Sum() float64 {
	return w.DemandFrequency + w.RevenueProof + w.Competition + w.BuildComplexity
}

// ValidationThresholds gate the is_validated verdict.
type ValidationThresholds struct {
	MinRevenueMRR  float64 `json:"min_revenue_mrr"`
	MinMentions    int     `json:"min_mentions"`
	MinCompetitors int     `json:"min_competitors"`
}

// ScoringConfig is the complete scoring configuration.
type ScoringConfig struct {
	Weights    ScoringWeights       `json:"weights"`
	Thresholds ValidationThresholds `json:"thresholds"`
}

func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		DemandFrequency: 0.25,
		RevenueProof:    0.35,
		Competition:     0.20,
		BuildComplexity: 0.20,
	}
}

func DefaultValidationThresholds() ValidationThresholds {
	return ValidationThresholds{
		MinRevenueMRR:  1000,
		MinMentions:    20,
		MinCompetitors: 1,
	}
}

// DefaultScoringConfig returns the factory weights and thresholds.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights:    DefaultScoringWeights(),
		Thresholds: DefaultValidationThresholds(),
	}
}
