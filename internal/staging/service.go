// Package staging holds classified signals until enough corroboration arrives to promote them.
package staging

import (
	"context"
	"fmt"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

// Store is the persistence the staging service needs.
type Store interface {
	DuplicateURLs(ctx context.Context, urls []string) (map[string]struct{}, error)
	InsertPendingSignals(ctx context.Context, signals []domain.PendingSignal) (int, error)
	DeletePendingBefore(ctx context.Context, cutoff time.Time) (int, error)
	CountPending(ctx context.Context) (int, error)
}

// Service manages the pending signal pool.
type Service struct {
	store  Store
	logger infralogger.Logger
	now    func() time.Time
}

// NewService creates a staging service.
func NewService(store Store, logger infralogger.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With(infralogger.Component("staging")),
		now:    time.Now,
	}
}

// IsDuplicate reports whether url is already linked to an opportunity or waiting in staging.
func (s *Service) IsDuplicate(ctx context.Context, url string) (bool, error) {
	dups, err := s.store.DuplicateURLs(ctx, []string{url})
	if err != nil {
		return false, err
	}
	_, ok := dups[url]
	return ok, nil
}

// Duplicates returns the subset of urls already known, in one round trip.
func (s *Service) Duplicates(ctx context.Context, urls []string) (map[string]struct{}, error) {
	if len(urls) == 0 {
		return map[string]struct{}{}, nil
	}
	dups, err := s.store.DuplicateURLs(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("check duplicate urls: %w", err)
	}
	return dups, nil
}

// Add stages signals and returns how many were actually inserted. URLs that became known since
// the duplicate check are skipped by the store, not reported as errors.
func (s *Service) Add(ctx context.Context, signals []domain.PendingSignal) (int, error) {
	inserted, err := s.store.InsertPendingSignals(ctx, signals)
	if err != nil {
		return 0, fmt.Errorf("stage signals: %w", err)
	}
	if skipped := len(signals) - inserted; skipped > 0 {
		s.logger.Debug("Skipped signals already known", infralogger.Int("skipped", skipped))
	}
	return inserted, nil
}

// Expire drops staged signals older than ttl and returns how many were removed.
func (s *Service) Expire(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-ttl)
	removed, err := s.store.DeletePendingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire pending signals: %w", err)
	}
	if removed > 0 {
		s.logger.Info("Expired pending signals",
			infralogger.Int("removed", removed),
			infralogger.Time("cutoff", cutoff))
	}
	return removed, nil
}

// Count returns the number of staged signals.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.CountPending(ctx)
}

// FromRaw builds the pending row for a collected signal. Without a classification the raw
// description and title stand in for the pain point and opportunity name.
func FromRaw(raw *domain.RawSignal, c *domain.Classification, scanID string) domain.PendingSignal {
	p := domain.PendingSignal{
		Title:           raw.Title,
		Description:     raw.Description,
		URL:             raw.URL,
		SourceType:      raw.SourceType,
		PainPoint:       raw.Description,
		OpportunityName: raw.Title,
		Metrics:         raw.Metrics,
		EngagementScore: raw.EngagementScore,
		EngagementLevel: raw.EngagementLevel,
		ScanID:          scanID,
	}
	if p.EngagementLevel == "" {
		p.EngagementLevel = domain.EngagementLow
	}
	if c == nil {
		return p
	}

	p.Classification = c
	if c.PainPoint != "" {
		p.PainPoint = c.PainPoint
	}
	if c.OpportunityName != "" {
		p.OpportunityName = c.OpportunityName
	}
	p.Category = domain.NormalizeCategory(c.Category)
	return p
}
