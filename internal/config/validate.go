package config

import (
	"fmt"

	infraconfig "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/config"
)

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if err := infraconfig.ValidatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := infraconfig.ValidateRequired("database.host", c.Database.Host); err != nil {
		return err
	}
	if err := infraconfig.ValidateRequired("database.database", c.Database.Database); err != nil {
		return err
	}
	if err := infraconfig.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if err := c.Model.validate(); err != nil {
		return err
	}
	return c.Scan.validate()
}

func (m *ModelConfig) validate() error {
	switch m.Provider {
	case "", "anthropic", "openai", "glm":
	default:
		return &infraconfig.ValidationError{
			Field:   "model.provider",
			Message: fmt.Sprintf("unsupported provider %q (want anthropic, openai or glm)", m.Provider),
		}
	}
	return infraconfig.ValidatePositive("model.max_tokens", m.MaxTokens)
}

func (s *ScanConfig) validate() error {
	if err := infraconfig.ValidatePositive("scan.collect_concurrency", s.CollectConcurrency); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositive("scan.classify_batch_size", s.ClassifyBatchSize); err != nil {
		return err
	}
	if s.MinConsensus < 2 {
		return &infraconfig.ValidationError{Field: "scan.min_consensus", Message: "must be at least 2"}
	}
	if err := infraconfig.ValidateRange("scan.match_confidence", s.MatchConfidence, 0, 1); err != nil {
		return err
	}
	return infraconfig.ValidateRange("scan.cluster_confidence", s.ClusterConfidence, 0, 1)
}
