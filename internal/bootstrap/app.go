// Package bootstrap wires configuration, storage and the pipeline services for the CLI commands.
//
// The phases are:
//   - Config & Logger: load configuration and create the logger
//   - Database: connect to PostgreSQL and build the repository
//   - Redis: connect when enabled, for scan progress and the scan lock
//   - Services: model, sources, settings, staging, matcher, clusterer, scoring and the orchestrator
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	infraconfig "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/config"
	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	infraredis "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/classifier"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/database"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/metrics"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scan"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scoring"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/settings"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/sources"
)

const defaultConfigPath = "config.yml"

// Options come from the root command's flags.
type Options struct {
	ConfigPath string
	Debug      bool
}

// App holds every long-lived component. Close releases connections.
type App struct {
	Config     *config.Config
	Logger     infralogger.Logger
	Metrics    *metrics.Metrics
	DB         *sqlx.DB
	Redis      *goredis.Client
	Repo       *database.Repository
	Catalog    *sources.Catalog
	Classifier *classifier.Classifier
	Settings   *settings.Service
	Scoring    *scoring.Service
	Scans      *scan.Orchestrator
}

// LoadConfig reads the configuration file and applies the debug flag.
func LoadConfig(opts Options) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = infraconfig.GetConfigPath(defaultConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Debug {
		cfg.Service.Debug = true
	}
	if cfg.Service.Debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// NewLogger creates the service logger tagged with name and version.
func NewLogger(cfg *config.Config) (infralogger.Logger, error) {
	log, err := infralogger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(
		infralogger.String("service", cfg.Service.Name),
		infralogger.String("version", cfg.Service.Version),
	), nil
}

// New runs every bootstrap phase.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	log, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: log, Metrics: metrics.New()}

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	app.DB = db
	app.Repo = database.NewRepository(db)
	log.Info("Connected to database",
		infralogger.String("host", cfg.Database.Host),
		infralogger.String("database", cfg.Database.Database))

	app.Redis = SetupRedis(ctx, cfg.Redis, log)
	app.Classifier = SetupClassifier(cfg.Model, app.Metrics, log)
	app.Catalog = SetupCatalog(cfg, log)
	app.setupServices()

	return app, nil
}

// SetupRedis connects when Redis is enabled. A failed connection is logged and the service falls
// back to in-process progress and locking.
func SetupRedis(ctx context.Context, cfg infraconfig.RedisConfig, log infralogger.Logger) *goredis.Client {
	if !cfg.Enabled {
		log.Info("Redis disabled, scan progress and lock are in-process")
		return nil
	}
	client, err := infraredis.NewClient(ctx, infraredis.Config{
		Address:  cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		log.Warn("Redis unavailable, scan progress and lock are in-process",
			infralogger.String("address", cfg.Address),
			infralogger.Error(err))
		return nil
	}
	log.Info("Connected to Redis", infralogger.String("address", cfg.Address))
	return client
}

// SetupClassifier builds the model client. Without a configured provider the classifier reports
// ErrNotConfigured and scans stage nothing.
func SetupClassifier(cfg config.ModelConfig, m *metrics.Metrics, log infralogger.Logger) *classifier.Classifier {
	model, err := classifier.NewModel(cfg)
	switch {
	case errors.Is(err, classifier.ErrNotConfigured):
		log.Warn("Language model not configured, classification disabled")
	case err != nil:
		log.Error("Language model could not be created", infralogger.Error(err))
		model = nil
	default:
		log.Info("Language model configured",
			infralogger.String("provider", cfg.Provider),
			infralogger.String("model", cfg.Model))
	}
	return classifier.New(model, cfg, m, log)
}

// Close releases database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("Failed to close Redis", infralogger.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("Failed to close database", infralogger.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
