package scoring_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/database"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scoring"
)

type mockStore struct {
	opps        map[string]*domain.Opportunity
	competitors map[string][]domain.Competitor
	updates     map[string]domain.ScoreUpdate
	listFunc    func(unscoredOnly bool, limit int) ([]string, error)
}

func newMockStore() *mockStore {
	return &mockStore{
		opps:        map[string]*domain.Opportunity{},
		competitors: map[string][]domain.Competitor{},
		updates:     map[string]domain.ScoreUpdate{},
	}
}

func (m *mockStore) GetOpportunity(_ context.Context, id string) (*domain.Opportunity, error) {
	opp, ok := m.opps[id]
	if !ok {
		return nil, fmt.Errorf("opportunity %s: %w", id, database.ErrNotFound)
	}
	return opp, nil
}

func (m *mockStore) ListCompetitors(_ context.Context, id string) ([]domain.Competitor, error) {
	return m.competitors[id], nil
}

func (m *mockStore) ListOpportunityIDs(_ context.Context, unscoredOnly bool, limit int) ([]string, error) {
	return m.listFunc(unscoredOnly, limit)
}

func (m *mockStore) UpdateOpportunityScore(_ context.Context, id string, u domain.ScoreUpdate) error {
	m.updates[id] = u
	return nil
}

type mockConfigStore struct {
	cfg     domain.ScoringConfig
	saves   int
	saveErr error
}

func (m *mockConfigStore) ScoringConfig(context.Context) (domain.ScoringConfig, error) {
	return m.cfg, nil
}

func (m *mockConfigStore) SaveScoringConfig(_ context.Context, cfg domain.ScoringConfig) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.cfg = cfg
	return nil
}

func newService(store *mockStore, cfg *mockConfigStore) *scoring.Service {
	return scoring.NewService(store, cfg, nil, infralogger.NewNop())
}

func TestService_ScoreOpportunityPersists(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.opps["o1"] = sampleOpportunity()
	store.competitors["o1"] = sampleCompetitors()
	svc := newService(store, &mockConfigStore{cfg: domain.DefaultScoringConfig()})

	result, err := svc.ScoreOpportunity(t.Context(), "o1")

	require.NoError(t, err)
	assert.Equal(t, 55, result.Score)
	assert.Equal(t, domain.ScoreUpdate{
		Score:            55,
		DemandScore:      20,
		CompetitionScore: 60,
		ComplexityScore:  60,
		IsValidated:      true,
		CompetitorCount:  3,
	}, store.updates["o1"])
}

func TestService_ScoreOpportunityNotFound(t *testing.T) {
	t.Parallel()

	svc := newService(newMockStore(), &mockConfigStore{cfg: domain.DefaultScoringConfig()})

	_, err := svc.ScoreOpportunity(t.Context(), "missing")
	assert.ErrorIs(t, err, scoring.ErrOpportunityNotFound)
}

func TestService_PersistedSubScoresStayInBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mentions int
	}{
		{name: "just past the linear range", mentions: 101},
		{name: "thousand mentions", mentions: 1000},
		{name: "very popular", mentions: 1_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMockStore()
			store.opps["o1"] = &domain.Opportunity{Title: "Invoice dashboard", MentionCount: tt.mentions}
			svc := newService(store, &mockConfigStore{cfg: domain.DefaultScoringConfig()})

			result, err := svc.ScoreOpportunity(t.Context(), "o1")
			require.NoError(t, err)

			u := store.updates["o1"]
			for name, v := range map[string]int{
				"score":       u.Score,
				"demand":      u.DemandScore,
				"competition": u.CompetitionScore,
				"complexity":  u.ComplexityScore,
			} {
				assert.GreaterOrEqual(t, v, 0, name)
				assert.LessOrEqual(t, v, 100, name)
			}
			assert.Equal(t, 100, u.DemandScore)
			assert.Equal(t, result.Breakdown.Demand, u.DemandScore)
		})
	}
}

func TestService_RescoreAllSkipsFailures(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.opps["o1"] = sampleOpportunity()
	store.competitors["o1"] = sampleCompetitors()
	store.opps["o2"] = &domain.Opportunity{Title: "Recipe swap", MentionCount: 2}
	store.listFunc = func(unscoredOnly bool, limit int) ([]string, error) {
		assert.False(t, unscoredOnly)
		assert.Zero(t, limit)
		return []string{"o1", "o2", "gone"}, nil
	}
	svc := newService(store, &mockConfigStore{cfg: domain.DefaultScoringConfig()})

	summary, err := svc.RescoreAll(t.Context())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Rescored)
	assert.Equal(t, 1, summary.Validated)
	// o2: demand 2, revenue 0, competition 100, complexity 50 -> 0.5 + 20 + 10 = 30.5 -> 31 (round half away from zero)
	assert.InDelta(t, 43.0, summary.AvgScore, 1e-9)
}

func TestService_ScoreUnscored(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.listFunc = func(unscoredOnly bool, limit int) ([]string, error) {
		assert.True(t, unscoredOnly)
		assert.Equal(t, 25, limit)
		return nil, nil
	}
	svc := newService(store, &mockConfigStore{cfg: domain.DefaultScoringConfig()})

	summary, err := svc.ScoreUnscored(t.Context(), 25)

	require.NoError(t, err)
	assert.Zero(t, summary.Total)
}

func TestService_UpdateWeightsRejectsWithoutWriting(t *testing.T) {
	t.Parallel()

	cfgStore := &mockConfigStore{cfg: domain.DefaultScoringConfig()}
	svc := newService(newMockStore(), cfgStore)

	_, err := svc.UpdateWeights(t.Context(), map[string]float64{
		"demand_frequency": 0.5, "revenue_proof": 0.35, "competition": 0.20, "build_complexity": 0.20,
	})

	require.ErrorIs(t, err, scoring.ErrInvalidWeights)
	assert.Zero(t, cfgStore.saves)
	assert.Equal(t, domain.DefaultScoringWeights(), cfgStore.cfg.Weights)
}

func TestService_UpdateWeights(t *testing.T) {
	t.Parallel()

	cfgStore := &mockConfigStore{cfg: domain.DefaultScoringConfig()}
	svc := newService(newMockStore(), cfgStore)

	cfg, err := svc.UpdateWeights(t.Context(), map[string]float64{
		"demand_frequency": 0.4, "revenue_proof": 0.2, "competition": 0.2, "build_complexity": 0.2,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, cfgStore.saves)
	assert.InDelta(t, 0.4, cfg.Weights.DemandFrequency, 1e-9)
	assert.Equal(t, domain.DefaultValidationThresholds(), cfg.Thresholds)
}

func TestService_UpdateThresholds(t *testing.T) {
	t.Parallel()

	cfgStore := &mockConfigStore{cfg: domain.DefaultScoringConfig()}
	svc := newService(newMockStore(), cfgStore)

	_, err := svc.UpdateThresholds(t.Context(), domain.ValidationThresholds{MinMentions: -1})
	require.ErrorIs(t, err, scoring.ErrInvalidThresholds)
	assert.Zero(t, cfgStore.saves)

	cfg, err := svc.UpdateThresholds(t.Context(), domain.ValidationThresholds{MinRevenueMRR: 500, MinMentions: 5, MinCompetitors: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Thresholds.MinMentions)
	assert.Equal(t, 1, cfgStore.saves)
}

func TestService_SaveFailureSurfaces(t *testing.T) {
	t.Parallel()

	cfgStore := &mockConfigStore{cfg: domain.DefaultScoringConfig(), saveErr: errors.New("db down")}
	svc := newService(newMockStore(), cfgStore)

	_, err := svc.UpdateThresholds(t.Context(), domain.DefaultValidationThresholds())
	assert.ErrorContains(t, err, "db down")
}

func TestService_UpdateConfig(t *testing.T) {
	t.Parallel()

	validWeights := map[string]float64{
		domain.WeightDemandFrequency: 0.25,
		domain.WeightRevenueProof:    0.35,
		domain.WeightCompetition:     0.2,
		domain.WeightBuildComplexity: 0.2,
	}
	badWeights := map[string]float64{
		domain.WeightDemandFrequency: 0.5,
		domain.WeightRevenueProof:    0.35,
		domain.WeightCompetition:     0.2,
		domain.WeightBuildComplexity: 0.2,
	}
	lenient := domain.ValidationThresholds{MinRevenueMRR: 1, MinMentions: 1}
	negative := domain.ValidationThresholds{MinMentions: -1}

	tests := []struct {
		name       string
		weights    map[string]float64
		thresholds *domain.ValidationThresholds
		wantErr    error
		wantSaves  int
	}{
		{name: "valid thresholds, weights sum to 1.25", weights: badWeights, thresholds: &lenient, wantErr: scoring.ErrInvalidWeights},
		{name: "valid weights, negative threshold", weights: validWeights, thresholds: &negative, wantErr: scoring.ErrInvalidThresholds},
		{name: "both valid", weights: validWeights, thresholds: &lenient, wantSaves: 1},
		{name: "thresholds only", thresholds: &lenient, wantSaves: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfgStore := &mockConfigStore{cfg: domain.DefaultScoringConfig()}
			svc := newService(newMockStore(), cfgStore)

			cfg, err := svc.UpdateConfig(t.Context(), tt.weights, tt.thresholds)

			assert.Equal(t, tt.wantSaves, cfgStore.saves)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, domain.DefaultScoringConfig(), cfgStore.cfg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, lenient, cfg.Thresholds)
			if tt.weights == nil {
				assert.Equal(t, domain.DefaultScoringWeights(), cfg.Weights)
			} else {
				assert.InDelta(t, 0.35, cfg.Weights.RevenueProof, 1e-9)
			}
		})
	}
}
