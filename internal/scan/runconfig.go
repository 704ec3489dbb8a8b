package scan

import (
	"context"
	"fmt"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/cluster"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/filter"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/matcher"
)

// RunConfig is assembled once at the start of a scan and not modified afterwards, so rule or
// weight edits made mid-scan take effect on the next run.
type RunConfig struct {
	Filter        *filter.Engine
	SignalPhrases []string
	Scoring       domain.ScoringConfig

	CollectConcurrency int
	ClassifyBatchSize  int
	Match              matcher.Limits
	Cluster            cluster.Limits
	PendingTTL         time.Duration
	ScoreAfterScan     bool
}

func (o *Orchestrator) buildRunConfig(ctx context.Context) (*RunConfig, error) {
	rules, err := o.rules.FilterRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load filter rules: %w", err)
	}
	scoringCfg, err := o.scorer.Config(ctx)
	if err != nil {
		return nil, err
	}
	return newRunConfig(o.cfg, rules, scoringCfg, o.logger), nil
}

func newRunConfig(
	cfg config.ScanConfig,
	rules domain.FilterRules,
	scoringCfg domain.ScoringConfig,
	logger infralogger.Logger,
) *RunConfig {
	return &RunConfig{
		Filter:             filter.New(rules, logger),
		SignalPhrases:      rules.PhraseList(),
		Scoring:            scoringCfg,
		CollectConcurrency: max(cfg.CollectConcurrency, 1),
		ClassifyBatchSize:  max(cfg.ClassifyBatchSize, 1),
		Match: matcher.Limits{
			MaxSignals:       cfg.MaxMatchSignals,
			MaxOpportunities: cfg.MaxMatchOpportunities,
			Window:           cfg.MatchWindow,
			MinConfidence:    cfg.MatchConfidence,
		},
		Cluster: cluster.Limits{
			MaxBatch:      cfg.MaxClusterBatch,
			MinMembers:    cfg.MinConsensus,
			MinConfidence: cfg.ClusterConfidence,
		},
		PendingTTL:     cfg.PendingTTL,
		ScoreAfterScan: !cfg.SkipScoring,
	}
}
