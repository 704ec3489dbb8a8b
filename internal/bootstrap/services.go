package bootstrap

import (
	infrahttp "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/http"
	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/cluster"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/matcher"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scan"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scoring"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/settings"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/sources"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/staging"
)

// SetupCatalog builds every registered source adapter from configuration.
func SetupCatalog(cfg *config.Config, log infralogger.Logger) *sources.Catalog {
	client := infrahttp.NewClient(&infrahttp.ClientConfig{
		UserAgent: cfg.Service.Name + "/" + cfg.Service.Version,
	})
	return sources.NewCatalog(sources.Default(), cfg.Sources, sources.Deps{
		HTTPClient: client,
		Logger:     log.With(infralogger.Component("sources")),
	})
}

func (a *App) setupServices() {
	cfg := a.Config

	a.Settings = settings.NewService(a.Repo, a.Logger)
	a.Scoring = scoring.NewService(a.Repo, a.Settings, a.Metrics, a.Logger)

	deps := scan.Deps{
		Scans:          a.Repo,
		Catalog:        a.Catalog,
		Rules:          a.Settings,
		Classifier:     a.Classifier,
		Staging:        staging.NewService(a.Repo, a.Logger),
		Matcher:        matcher.NewService(a.Repo, a.Classifier, a.Logger),
		Clusterer:      cluster.NewService(a.Repo, a.Classifier, a.Logger),
		Scorer:         a.Scoring,
		Engagement:     sources.NewEngagementScorer(cfg.Engagement.SourceWeights, cfg.Engagement.MetricWeights),
		Metrics:        a.Metrics,
		DefaultSources: cfg.Enabled,
	}
	if a.Redis != nil {
		deps.Progress = scan.NewRedisProgress(a.Redis, cfg.Scan.ProgressTTL)
		deps.Lock = scan.NewRedisLocker(a.Redis, cfg.Scan.LockTTL)
	}

	a.Scans = scan.New(deps, cfg.Scan, a.Logger)
}
