// Package settings reads and writes the operator-editable JSON documents kept in system_settings.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
)

// Setting keys.
const (
	KeyFilterRules          = "filter_rules"
	KeyScoringWeights       = "scoring_weights"
	KeyValidationThresholds = "validation_thresholds"
)

// Store persists raw JSON documents by key.
type Store interface {
	GetSetting(ctx context.Context, key string) (json.RawMessage, bool, error)
	PutSettings(ctx context.Context, values map[string]json.RawMessage) error
}

// Service exposes typed access to the settings documents.
type Service struct {
	store  Store
	logger infralogger.Logger
	now    func() time.Time
}

// NewService creates a settings service.
func NewService(store Store, logger infralogger.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With(infralogger.Component("settings")),
		now:    time.Now,
	}
}

// FilterRules returns the stored rules, creating the default document on first read.
// Keys absent from a stored document keep their default values; a document written before
// signal phrases existed is rewritten with an empty phrase list.
func (s *Service) FilterRules(ctx context.Context) (domain.FilterRules, error) {
	raw, ok, err := s.store.GetSetting(ctx, KeyFilterRules)
	if err != nil {
		return domain.FilterRules{}, fmt.Errorf("load filter rules: %w", err)
	}

	rules := domain.DefaultFilterRules()
	if !ok {
		if saveErr := s.put(ctx, KeyFilterRules, rules); saveErr != nil {
			return domain.FilterRules{}, saveErr
		}
		s.logger.Info("Created default filter rules")
		return rules, nil
	}

	if decodeErr := json.Unmarshal(raw, &rules); decodeErr != nil {
		return domain.FilterRules{}, fmt.Errorf("decode filter rules: %w", decodeErr)
	}

	var keys map[string]json.RawMessage
	if keysErr := json.Unmarshal(raw, &keys); keysErr == nil {
		if _, has := keys["signal_phrases"]; !has {
			rules.SignalPhrases = []domain.SignalPhrase{}
			if saveErr := s.put(ctx, KeyFilterRules, rules); saveErr != nil {
				return domain.FilterRules{}, saveErr
			}
			s.logger.Info("Migrated filter rules with empty signal phrases")
		}
	}

	return rules, nil
}

// UpdateFilterRules replaces the rules document.
func (s *Service) UpdateFilterRules(ctx context.Context, rules domain.FilterRules) error {
	if rules.SignalPhrases == nil {
		rules.SignalPhrases = []domain.SignalPhrase{}
	}
	return s.put(ctx, KeyFilterRules, rules)
}

// AddExclusion adds keyword to the exclude list and records why as an exclude_keyword custom rule.
func (s *Service) AddExclusion(ctx context.Context, keyword, reason string) (domain.FilterRules, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return domain.FilterRules{}, ErrEmptyKeyword
	}

	rules, err := s.FilterRules(ctx)
	if err != nil {
		return domain.FilterRules{}, err
	}

	if !slices.Contains(rules.ExcludeKeywords, keyword) {
		rules.ExcludeKeywords = append(rules.ExcludeKeywords, keyword)
	}
	rules.CustomRules = append(rules.CustomRules, domain.CustomRule{
		Type:    domain.RuleExcludeKeyword,
		Value:   keyword,
		Reason:  reason,
		AddedAt: s.now().UTC().Format(time.RFC3339),
	})

	if putErr := s.put(ctx, KeyFilterRules, rules); putErr != nil {
		return domain.FilterRules{}, putErr
	}
	return rules, nil
}

// ScoringConfig returns stored weights and thresholds, falling back to defaults per document.
func (s *Service) ScoringConfig(ctx context.Context) (domain.ScoringConfig, error) {
	cfg := domain.DefaultScoringConfig()

	if err := s.decodeInto(ctx, KeyScoringWeights, &cfg.Weights); err != nil {
		return domain.ScoringConfig{}, err
	}
	if err := s.decodeInto(ctx, KeyValidationThresholds, &cfg.Thresholds); err != nil {
		return domain.ScoringConfig{}, err
	}
	return cfg, nil
}

// SaveScoringConfig writes both scoring documents atomically. Callers validate first.
func (s *Service) SaveScoringConfig(ctx context.Context, cfg domain.ScoringConfig) error {
	weights, err := json.Marshal(cfg.Weights)
	if err != nil {
		return fmt.Errorf("encode scoring weights: %w", err)
	}
	thresholds, err := json.Marshal(cfg.Thresholds)
	if err != nil {
		return fmt.Errorf("encode validation thresholds: %w", err)
	}

	return s.store.PutSettings(ctx, map[string]json.RawMessage{
		KeyScoringWeights:       weights,
		KeyValidationThresholds: thresholds,
	})
}

func (s *Service) decodeInto(ctx context.Context, key string, dst any) error {
	raw, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if decodeErr := json.Unmarshal(raw, dst); decodeErr != nil {
		return fmt.Errorf("decode %s: %w", key, decodeErr)
	}
	return nil
}

func (s *Service) put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if putErr := s.store.PutSettings(ctx, map[string]json.RawMessage{key: data}); putErr != nil {
		return fmt.Errorf("save %s: %w", key, putErr)
	}
	return nil
}
