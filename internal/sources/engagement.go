package sources

import (
	"maps"
	"math"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const (
	mediumEngagementFloor = 50
	highEngagementFloor   = 200
	defaultSourceWeight   = 1.0
)

// Engagement weight keys.
const (
	WeightUpvotes  = "upvotes"
	WeightComments = "comments"
)

// DefaultSourceWeights favours sources whose audiences signal stronger intent.
func DefaultSourceWeights() map[string]float64 {
	return map[string]float64{
		redditName:       1.0,
		indieHackersName: 1.2,
		productHuntName:  1.5,
		hackerNewsName:   1.3,
	}
}

// DefaultMetricWeights returns the per-metric multipliers.
func DefaultMetricWeights() map[string]float64 {
	return map[string]float64{
		WeightUpvotes:  0.4,
		WeightComments: 0.3,
	}
}

// EngagementScorer computes a cross-source engagement score for raw signals.
type EngagementScorer struct {
	sourceWeights map[string]float64
	metricWeights map[string]float64
}

// NewEngagementScorer merges overrides onto the default weights.
func NewEngagementScorer(sourceOverrides, metricOverrides map[string]float64) *EngagementScorer {
	sw := DefaultSourceWeights()
	maps.Copy(sw, sourceOverrides)
	mw := DefaultMetricWeights()
	maps.Copy(mw, metricOverrides)
	return &EngagementScorer{sourceWeights: sw, metricWeights: mw}
}

// Score returns the weighted score rounded to two decimals.
func (e *EngagementScorer) Score(sig *domain.RawSignal) float64 {
	weight, ok := e.sourceWeights[sig.SourceType]
	if !ok {
		weight = defaultSourceWeight
	}
	raw := sig.Metrics.Upvotes()*e.metricWeights[WeightUpvotes] + sig.Metrics.Comments()*e.metricWeights[WeightComments]
	return math.Round(raw*weight*100) / 100
}

// Level buckets a score into LOW, MEDIUM or HIGH.
func Level(score float64) string {
	switch {
	case score < mediumEngagementFloor:
		return domain.EngagementLow
	case score < highEngagementFloor:
		return domain.EngagementMedium
	default:
		return domain.EngagementHigh
	}
}

// Enrich sets EngagementScore and EngagementLevel on every signal in place.
func (e *EngagementScorer) Enrich(signals []domain.RawSignal) {
	for i := range signals {
		score := e.Score(&signals[i])
		signals[i].EngagementScore = score
		signals[i].EngagementLevel = Level(score)
	}
}
