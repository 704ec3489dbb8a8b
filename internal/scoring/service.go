package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/database"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/metrics"
)

const weightSumTolerance = 0.01

// Store is the opportunity persistence scoring needs.
type Store interface {
	GetOpportunity(ctx context.Context, id string) (*domain.Opportunity, error)
	ListCompetitors(ctx context.Context, opportunityID string) ([]domain.Competitor, error)
	ListOpportunityIDs(ctx context.Context, unscoredOnly bool, limit int) ([]string, error)
	UpdateOpportunityScore(ctx context.Context, id string, u domain.ScoreUpdate) error
}

// ConfigStore reads and writes the scoring configuration.
type ConfigStore interface {
	ScoringConfig(ctx context.Context) (domain.ScoringConfig, error)
	SaveScoringConfig(ctx context.Context, cfg domain.ScoringConfig) error
}

// Summary reports a batch scoring run.
type Summary struct {
	Total     int     `json:"total"`
	Rescored  int     `json:"rescored"`
	Validated int     `json:"validated"`
	AvgScore  float64 `json:"avg_score"`
}

// Service scores opportunities and manages the scoring configuration.
type Service struct {
	store   Store
	config  ConfigStore
	metrics *metrics.Metrics
	logger  infralogger.Logger
}

// NewService creates a scoring service. m may be nil.
func NewService(store Store, config ConfigStore, m *metrics.Metrics, logger infralogger.Logger) *Service {
	return &Service{
		store:   store,
		config:  config,
		metrics: m,
		logger:  logger.With(infralogger.Component("scoring")),
	}
}

// Config returns the active scoring configuration.
func (s *Service) Config(ctx context.Context) (domain.ScoringConfig, error) {
	cfg, err := s.config.ScoringConfig(ctx)
	if err != nil {
		return domain.ScoringConfig{}, fmt.Errorf("load scoring config: %w", err)
	}
	return cfg, nil
}

// ScoreOpportunity scores one opportunity and persists the result.
func (s *Service) ScoreOpportunity(ctx context.Context, id string) (Result, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return Result{}, err
	}
	result, err := s.score(ctx, id, cfg)
	if err != nil {
		return Result{}, err
	}
	s.metrics.AddScored(1)
	return result, nil
}

// RescoreAll rescores every opportunity with the current configuration.
func (s *Service) RescoreAll(ctx context.Context) (Summary, error) {
	ids, err := s.store.ListOpportunityIDs(ctx, false, 0)
	if err != nil {
		return Summary{}, fmt.Errorf("list opportunities: %w", err)
	}
	return s.ScoreIDs(ctx, ids)
}

// ScoreUnscored scores up to limit opportunities that have never been scored.
func (s *Service) ScoreUnscored(ctx context.Context, limit int) (Summary, error) {
	ids, err := s.store.ListOpportunityIDs(ctx, true, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("list unscored opportunities: %w", err)
	}
	return s.ScoreIDs(ctx, ids)
}

// ScoreIDs scores the given opportunities. Individual failures are logged and skipped.
func (s *Service) ScoreIDs(ctx context.Context, ids []string) (Summary, error) {
	summary := Summary{Total: len(ids)}
	if len(ids) == 0 {
		return summary, nil
	}

	cfg, err := s.Config(ctx)
	if err != nil {
		return summary, err
	}
	return s.ScoreWith(ctx, ids, cfg)
}

// ScoreWith scores the given opportunities under a fixed configuration.
func (s *Service) ScoreWith(ctx context.Context, ids []string, cfg domain.ScoringConfig) (Summary, error) {
	summary := Summary{Total: len(ids)}
	total := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		result, scoreErr := s.score(ctx, id, cfg)
		if scoreErr != nil {
			s.logger.Warn("Failed to score opportunity",
				infralogger.String("opportunity_id", id),
				infralogger.Error(scoreErr))
			continue
		}
		summary.Rescored++
		total += result.Score
		if result.IsValidated {
			summary.Validated++
		}
	}
	if summary.Rescored > 0 {
		summary.AvgScore = math.Round(float64(total)/float64(summary.Rescored)*100) / 100
	}
	s.metrics.AddScored(summary.Rescored)

	s.logger.Info("Scored opportunities",
		infralogger.Int("total", summary.Total),
		infralogger.Int("rescored", summary.Rescored),
		infralogger.Int("validated", summary.Validated),
		infralogger.Float64("avg_score", summary.AvgScore))
	return summary, nil
}

func (s *Service) score(ctx context.Context, id string, cfg domain.ScoringConfig) (Result, error) {
	opp, err := s.store.GetOpportunity(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrOpportunityNotFound, id)
		}
		return Result{}, fmt.Errorf("load opportunity: %w", err)
	}
	competitors, err := s.store.ListCompetitors(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("load competitors: %w", err)
	}

	result := Evaluate(opp, competitors, cfg)
	update := domain.ScoreUpdate{
		Score:            result.Score,
		DemandScore:      result.Breakdown.Demand,
		CompetitionScore: result.Breakdown.Competition,
		ComplexityScore:  result.Breakdown.Complexity,
		IsValidated:      result.IsValidated,
		CompetitorCount:  len(competitors),
	}
	if updateErr := s.store.UpdateOpportunityScore(ctx, id, update); updateErr != nil {
		if errors.Is(updateErr, database.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrOpportunityNotFound, id)
		}
		return Result{}, fmt.Errorf("save score: %w", updateErr)
	}
	return result, nil
}

var weightKeys = []string{
	domain.WeightDemandFrequency,
	domain.WeightRevenueProof,
	domain.WeightCompetition,
	domain.WeightBuildComplexity,
}

// UpdateWeights validates and stores new weights. Nothing is written when validation fails.
func (s *Service) UpdateWeights(ctx context.Context, weights map[string]float64) (domain.ScoringConfig, error) {
	if weights == nil {
		weights = map[string]float64{}
	}
	return s.UpdateConfig(ctx, weights, nil)
}

// ValidateWeights requires exactly the four known keys, no negative values and a sum of 1.
func ValidateWeights(weights map[string]float64) (domain.ScoringWeights, error) {
	var unknown []string
	for k := range weights {
		if !slices.Contains(weightKeys, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return domain.ScoringWeights{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidWeights, strings.Join(unknown, ", "))
	}

	for _, k := range weightKeys {
		v, ok := weights[k]
		if !ok {
			return domain.ScoringWeights{}, fmt.Errorf("%w: missing %s", ErrInvalidWeights, k)
		}
		if v < 0 {
			return domain.ScoringWeights{}, fmt.Errorf("%w: %s is negative", ErrInvalidWeights, k)
		}
	}

	parsed := domain.ScoringWeights{
		DemandFrequency: weights[domain.WeightDemandFrequency],
		RevenueProof:    weights[domain.WeightRevenueProof],
		Competition:     weights[domain.WeightCompetition],
		BuildComplexity: weights[domain.WeightBuildComplexity],
	}
	if sum := parsed.Sum(); math.Abs(sum-1) > weightSumTolerance {
		return domain.ScoringWeights{}, fmt.Errorf("%w: weights must sum to 1.0, got %.2f", ErrInvalidWeights, sum)
	}
	return parsed, nil
}

// UpdateThresholds validates and stores new validation thresholds.
func (s *Service) UpdateThresholds(ctx context.Context, t domain.ValidationThresholds) (domain.ScoringConfig, error) {
	return s.UpdateConfig(ctx, nil, &t)
}

// UpdateConfig validates weights and thresholds together and stores them in one write.
// A nil argument keeps the stored value. Nothing is written when either part is invalid.
func (s *Service) UpdateConfig(
	ctx context.Context,
	weights map[string]float64,
	thresholds *domain.ValidationThresholds,
) (domain.ScoringConfig, error) {
	var parsed domain.ScoringWeights
	if weights != nil {
		var err error
		if parsed, err = ValidateWeights(weights); err != nil {
			return domain.ScoringConfig{}, err
		}
	}
	if thresholds != nil {
		if err := validateThresholds(*thresholds); err != nil {
			return domain.ScoringConfig{}, err
		}
	}

	cfg, err := s.Config(ctx)
	if err != nil {
		return domain.ScoringConfig{}, err
	}
	if weights != nil {
		cfg.Weights = parsed
	}
	if thresholds != nil {
		cfg.Thresholds = *thresholds
	}
	if saveErr := s.config.SaveScoringConfig(ctx, cfg); saveErr != nil {
		return domain.ScoringConfig{}, fmt.Errorf("save scoring config: %w", saveErr)
	}

	s.logger.Info("Updated scoring config",
		infralogger.Bool("weights", weights != nil),
		infralogger.Bool("thresholds", thresholds != nil))
	return cfg, nil
}

func validateThresholds(t domain.ValidationThresholds) error {
	if t.MinRevenueMRR < 0 || t.MinMentions < 0 || t.MinCompetitors < 0 {
		return fmt.Errorf("%w: values must not be negative", ErrInvalidThresholds)
	}
	return nil
}
