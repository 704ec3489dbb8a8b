package config

import (
	"time"

	infraconfig "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/config"
	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
)

// Default configuration values.
const (
	defaultServiceName    = "opportunity-finder"
	defaultServiceVersion = "1.0.0"
	defaultDBUser         = "postgres"
	defaultDBName         = "opportunity_finder"

	defaultModelProvider   = "anthropic"
	defaultModelMaxTokens  = 1000
	defaultModelTimeout    = 30 * time.Second
	defaultModelRPM        = 30
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 2 * time.Minute

	defaultCollectConcurrency    = 4
	defaultClassifyBatchSize     = 5
	defaultMaxMatchSignals       = 80
	defaultMaxMatchOpportunities = 50
	defaultMatchWindow           = 90 * 24 * time.Hour
	defaultMaxClusterBatch       = 80
	defaultMinConsensus          = 2
	defaultMatchConfidence       = 0.7
	defaultClusterConfidence     = 0.6
	defaultPendingTTL            = 30 * 24 * time.Hour
	defaultStaleAfter            = 2 * time.Hour
	defaultLockTTL               = 3 * time.Hour
	defaultProgressTTL           = 24 * time.Hour
	defaultScoreBatchLimit       = 500

	defaultScanSchedule     = "0 */6 * * *"
	defaultScoringSchedule  = "0 * * * *"
	defaultWatchdogSchedule = "*/5 * * * *"

	defaultSourceRateLimit = 60
	defaultSourceTimeout   = 30 * time.Second
	defaultSourceRetries   = 3
)

// Default model per provider.
var defaultModels = map[string]string{
	"anthropic": "claude-3-haiku-20240307",
	"openai":    "gpt-4o-mini",
	"glm":       "glm-4-flash",
}

// Default OpenAI-compatible endpoints per provider.
var defaultBaseURLs = map[string]string{
	"glm": "https://open.bigmodel.cn/api/paas/v4",
}

// Config is the complete service configuration.
type Config struct {
	Service    ServiceConfig              `yaml:"service"`
	Server     infraconfig.ServerConfig   `yaml:"server"`
	Database   infraconfig.DatabaseConfig `yaml:"database"`
	Redis      infraconfig.RedisConfig    `yaml:"redis"`
	Logging    infralogger.Config         `yaml:"logging"`
	Model      ModelConfig                `yaml:"model"`
	Scan       ScanConfig                 `yaml:"scan"`
	Schedule   ScheduleConfig             `yaml:"schedule"`
	Engagement EngagementConfig           `yaml:"engagement"`
	Sources    map[string]SourceConfig    `yaml:"sources"`
	// Enabled limits scans to these sources. Empty runs every enabled adapter.
	Enabled []string `env:"ENABLED_SOURCES" yaml:"enabled_sources"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Debug   bool   `env:"APP_DEBUG" yaml:"debug"`
}

// ModelConfig selects and tunes the language-model provider.
type ModelConfig struct {
	// Provider is one of anthropic, openai, glm. Empty disables classification.
	Provider          string        `env:"MODEL_PROVIDER" yaml:"provider"`
	Model             string        `env:"MODEL_NAME"     yaml:"model"`
	APIKey            string        `env:"MODEL_API_KEY"  yaml:"api_key"`
	BaseURL           string        `env:"MODEL_BASE_URL" yaml:"base_url"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BreakerFailures   int           `yaml:"breaker_failures"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
}

// Configured reports whether a provider and key are present.
func (m *ModelConfig) Configured() bool {
	return m.Provider != "" && m.APIKey != ""
}

// ScanConfig bounds a single pipeline run.
type ScanConfig struct {
	CollectConcurrency    int           `yaml:"collect_concurrency"`
	ClassifyBatchSize     int           `yaml:"classify_batch_size"`
	MaxMatchSignals       int           `yaml:"max_match_signals"`
	MaxMatchOpportunities int           `yaml:"max_match_opportunities"`
	MatchWindow           time.Duration `yaml:"match_window"`
	MaxClusterBatch       int           `yaml:"max_cluster_batch"`
	MinConsensus          int           `yaml:"min_consensus"`
	MatchConfidence       float64       `yaml:"match_confidence"`
	ClusterConfidence     float64       `yaml:"cluster_confidence"`
	PendingTTL            time.Duration `yaml:"pending_ttl"`
	StaleAfter            time.Duration `yaml:"stale_after"`
	LockTTL               time.Duration `yaml:"lock_ttl"`
	ProgressTTL           time.Duration `yaml:"progress_ttl"`
	ScoreBatchLimit       int           `yaml:"score_batch_limit"`
	// SkipScoring disables the post-scan scoring pass.
	SkipScoring bool `env:"SCAN_SKIP_SCORING" yaml:"skip_scoring"`
}

// ScheduleConfig holds cron specs. A spec of "off" disables that job.
type ScheduleConfig struct {
	Enabled  bool   `env:"SCHEDULER_ENABLED" yaml:"enabled"`
	Scan     string `yaml:"scan"`
	Scoring  string `yaml:"scoring"`
	Watchdog string `yaml:"watchdog"`
}

// EngagementConfig overrides enrichment weights.
type EngagementConfig struct {
	SourceWeights map[string]float64 `yaml:"source_weights"`
	MetricWeights map[string]float64 `yaml:"metric_weights"`
}

// SourceConfig configures one source adapter.
type SourceConfig struct {
	Enabled    *bool             `yaml:"enabled"`
	RateLimit  int               `yaml:"rate_limit"`
	Timeout    time.Duration     `yaml:"timeout"`
	RetryCount int               `yaml:"retry_count"`
	APIKeys    map[string]string `yaml:"api_keys"`
	Params     map[string]any    `yaml:"params"`
}

// IsEnabled defaults to true when unset.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// WithDefaults fills zero fields.
func (s SourceConfig) WithDefaults() SourceConfig {
	if s.RateLimit <= 0 {
		s.RateLimit = defaultSourceRateLimit
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultSourceTimeout
	}
	if s.RetryCount <= 0 {
		s.RetryCount = defaultSourceRetries
	}
	if s.APIKeys == nil {
		s.APIKeys = map[string]string{}
	}
	if s.Params == nil {
		s.Params = map[string]any{}
	}
	return s
}

// Load reads configuration from path.
func Load(path string) (*Config, error) {
	return infraconfig.LoadWithDefaults[Config](path, setDefaults)
}

func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	cfg.Server.SetDefaults()
	cfg.Database.SetDefaults()
	if cfg.Database.User == "" {
		cfg.Database.User = defaultDBUser
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = defaultDBName
	}
	cfg.Redis.SetDefaults()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	setModelDefaults(&cfg.Model)
	setScanDefaults(&cfg.Scan)
	setScheduleDefaults(&cfg.Schedule)
	if cfg.Sources == nil {
		cfg.Sources = map[string]SourceConfig{}
	}
}

func setServiceDefaults(s *ServiceConfig) {
	if s.Name == "" {
		s.Name = defaultServiceName
	}
	if s.Version == "" {
		s.Version = defaultServiceVersion
	}
}

func setModelDefaults(m *ModelConfig) {
	if m.Provider == "" && m.APIKey != "" {
		m.Provider = defaultModelProvider
	}
	if m.Model == "" {
		m.Model = defaultModels[m.Provider]
	}
	if m.BaseURL == "" {
		m.BaseURL = defaultBaseURLs[m.Provider]
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = defaultModelMaxTokens
	}
	if m.Timeout == 0 {
		m.Timeout = defaultModelTimeout
	}
	if m.RequestsPerMinute == 0 {
		m.RequestsPerMinute = defaultModelRPM
	}
	if m.BreakerFailures == 0 {
		m.BreakerFailures = defaultBreakerFailures
	}
	if m.BreakerCooldown == 0 {
		m.BreakerCooldown = defaultBreakerCooldown
	}
}

func setScanDefaults(s *ScanConfig) {
	if s.CollectConcurrency == 0 {
		s.CollectConcurrency = defaultCollectConcurrency
	}
	if s.ClassifyBatchSize == 0 {
		s.ClassifyBatchSize = defaultClassifyBatchSize
	}
	if s.MaxMatchSignals == 0 {
		s.MaxMatchSignals = defaultMaxMatchSignals
	}
	if s.MaxMatchOpportunities == 0 {
		s.MaxMatchOpportunities = defaultMaxMatchOpportunities
	}
	if s.MatchWindow == 0 {
		s.MatchWindow = defaultMatchWindow
	}
	if s.MaxClusterBatch == 0 {
		s.MaxClusterBatch = defaultMaxClusterBatch
	}
	if s.MinConsensus == 0 {
		s.MinConsensus = defaultMinConsensus
	}
	if s.MatchConfidence == 0 {
		s.MatchConfidence = defaultMatchConfidence
	}
	if s.ClusterConfidence == 0 {
		s.ClusterConfidence = defaultClusterConfidence
	}
	if s.PendingTTL == 0 {
		s.PendingTTL = defaultPendingTTL
	}
	if s.StaleAfter == 0 {
		s.StaleAfter = defaultStaleAfter
	}
	if s.LockTTL == 0 {
		s.LockTTL = defaultLockTTL
	}
	if s.ProgressTTL == 0 {
		s.ProgressTTL = defaultProgressTTL
	}
	if s.ScoreBatchLimit == 0 {
		s.ScoreBatchLimit = defaultScoreBatchLimit
	}
}

func setScheduleDefaults(s *ScheduleConfig) {
	if s.Scan == "" {
		s.Scan = defaultScanSchedule
	}
	if s.Scoring == "" {
		s.Scoring = defaultScoringSchedule
	}
	if s.Watchdog == "" {
		s.Watchdog = defaultWatchdogSchedule
	}
}
