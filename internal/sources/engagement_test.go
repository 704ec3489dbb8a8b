//nolint:testpackage // Engagement tests use the adapter name constants
package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

func TestEngagementScorer(t *testing.T) {
	t.Parallel()

	scorer := NewEngagementScorer(map[string]float64{"bluesky": 0.5}, nil)

	tests := []struct {
		name      string
		signal    domain.RawSignal
		wantScore float64
		wantLevel string
	}{
		{
			name:      "reddit base weight",
			signal:    domain.RawSignal{SourceType: redditName, Metrics: domain.Metrics{"upvotes": 100, "comments": 10}},
			wantScore: 43,
			wantLevel: domain.EngagementLow,
		},
		{
			name:      "product hunt votes fallback",
			signal:    domain.RawSignal{SourceType: productHuntName, Metrics: domain.Metrics{"votes": 200, "comments": 20}},
			wantScore: 129,
			wantLevel: domain.EngagementMedium,
		},
		{
			name:      "hacker news high",
			signal:    domain.RawSignal{SourceType: hackerNewsName, Metrics: domain.Metrics{"upvotes": 500}},
			wantScore: 260,
			wantLevel: domain.EngagementHigh,
		},
		{
			name:      "override weight",
			signal:    domain.RawSignal{SourceType: "bluesky", Metrics: domain.Metrics{"upvotes": 10}},
			wantScore: 2,
			wantLevel: domain.EngagementLow,
		},
		{
			name:      "unknown source defaults to one",
			signal:    domain.RawSignal{SourceType: "rss", Metrics: domain.Metrics{"points": 10, "comments": 1}},
			wantScore: 4.3,
			wantLevel: domain.EngagementLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			signals := []domain.RawSignal{tt.signal}
			scorer.Enrich(signals)
			assert.InDelta(t, tt.wantScore, signals[0].EngagementScore, 1e-9)
			assert.Equal(t, tt.wantLevel, signals[0].EngagementLevel)
		})
	}
}

func TestLevelBoundaries(t *testing.T) {
	t.Parallel()

	assert.Equal(t, domain.EngagementLow, Level(49.99))
	assert.Equal(t, domain.EngagementMedium, Level(50))
	assert.Equal(t, domain.EngagementMedium, Level(199.99))
	assert.Equal(t, domain.EngagementHigh, Level(200))
}

func TestMergeQueries(t *testing.T) {
	t.Parallel()

	got := mergeQueries([]string{"a", "b"}, []string{" b ", "c", ""})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
