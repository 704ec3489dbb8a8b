package scan_test

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/database"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/sources"
)

// memStore is an in-memory stand-in for the repository covering scans, staging and opportunities.
type memStore struct {
	mu       sync.Mutex
	seq      int
	scans    map[string]*domain.Scan
	pending  []*domain.PendingSignal
	links    map[string]string
	opps     map[string]*domain.Opportunity
	progress []int
	failErr  error
}

func newMemStore() *memStore {
	return &memStore{
		scans: map[string]*domain.Scan{},
		links: map[string]string{},
		opps:  map[string]*domain.Opportunity{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) CreateScan(context.Context) (*domain.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &domain.Scan{ID: m.nextID("scan"), Status: domain.ScanPending, CreatedAt: time.Now()}
	m.scans[s.ID] = s
	return s, nil
}

func (m *memStore) MarkScanRunning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.scans[id]
	now := time.Now()
	s.Status = domain.ScanRunning
	s.StartedAt = &now
	s.UpdatedAt = now
	return nil
}

func (m *memStore) UpdateScanProgress(_ context.Context, id string, progress int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil && progress > 75 {
		return m.failErr
	}
	if m.scans[id].Status != domain.ScanRunning {
		return fmt.Errorf("scan %s: %w", id, database.ErrScanNotRunning)
	}
	m.scans[id].Progress = progress
	m.scans[id].Message = message
	m.scans[id].UpdatedAt = time.Now()
	m.progress = append(m.progress, progress)
	return nil
}

func (m *memStore) UpdateScanSources(_ context.Context, id string, results domain.SourceResults) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scans[id].Status != domain.ScanRunning {
		return fmt.Errorf("scan %s: %w", id, database.ErrScanNotRunning)
	}
	m.scans[id].SourcesProcessed = results
	return nil
}

func (m *memStore) CompleteScan(_ context.Context, id string, stats domain.ScanStats, results domain.SourceResults) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.scans[id]
	if s.Status != domain.ScanRunning {
		return fmt.Errorf("scan %s: %w", id, database.ErrScanNotRunning)
	}
	s.Status = domain.ScanCompleted
	s.Progress = 100
	s.Stats = stats
	s.SourcesProcessed = results
	s.OpportunitiesFound = stats.OpportunitiesFound()
	return nil
}

func (m *memStore) FailScan(_ context.Context, id, message string, stats domain.ScanStats, results domain.SourceResults) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.scans[id]
	if s.Status.Terminal() {
		return fmt.Errorf("scan %s: %w", id, database.ErrScanNotRunning)
	}
	s.Status = domain.ScanFailed
	s.ErrorMessage = &message
	s.Stats = stats
	s.SourcesProcessed = results
	return nil
}

func (m *memStore) GetScan(_ context.Context, id string) (*domain.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok {
		return nil, fmt.Errorf("scan %s: %w", id, database.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) FailStaleScans(_ context.Context, before time.Time, message string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.scans {
		if s.Status == domain.ScanRunning && s.UpdatedAt.Before(before) {
			s.Status = domain.ScanFailed
			s.ErrorMessage = &message
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *memStore) DuplicateURLs(_ context.Context, urls []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]struct{}{}
	for _, u := range urls {
		if _, ok := m.links[u]; ok {
			out[u] = struct{}{}
		}
		for _, p := range m.pending {
			if p.URL == u {
				out[u] = struct{}{}
			}
		}
	}
	return out, nil
}

func (m *memStore) InsertPendingSignals(_ context.Context, signals []domain.PendingSignal) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range signals {
		row := signals[i]
		row.ID = m.nextID("pending")
		row.CreatedAt = time.Now()
		m.pending = append(m.pending, &row)
	}
	return len(signals), nil
}

func (m *memStore) DeletePendingBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.pending)
	m.pending = slices.DeleteFunc(m.pending, func(p *domain.PendingSignal) bool { return p.CreatedAt.Before(cutoff) })
	return before - len(m.pending), nil
}

func (m *memStore) CountPending(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), nil
}

func (m *memStore) ListMatchCandidates(_ context.Context, limit int) ([]*domain.PendingSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PendingSignal
	for _, p := range m.pending {
		if p.PainPoint != "" && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListClusterCandidates(_ context.Context, limit int) ([]*domain.PendingSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PendingSignal
	for _, p := range m.pending {
		if p.Classification != nil && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListRecentOpportunities(_ context.Context, since time.Time, limit int) ([]*domain.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Opportunity
	for _, o := range m.opps {
		if !o.CreatedAt.Before(since) && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) AttachMatches(_ context.Context, matches []domain.Match) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, match := range matches {
		m.links[match.Signal.URL] = match.OpportunityID
		m.opps[match.OpportunityID].MentionCount++
		m.removePending(match.Signal.ID)
	}
	return len(matches), nil
}

func (m *memStore) PromoteCluster(_ context.Context, promo domain.ClusterPromotion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opp := promo.Opportunity
	opp.ID = m.nextID("opp")
	opp.CreatedAt = time.Now()
	m.opps[opp.ID] = &opp
	for _, member := range promo.Members {
		m.links[member.URL] = opp.ID
		m.removePending(member.ID)
	}
	return opp.ID, nil
}

func (m *memStore) removePending(id string) {
	m.pending = slices.DeleteFunc(m.pending, func(p *domain.PendingSignal) bool { return p.ID == id })
}

func (m *memStore) GetOpportunity(_ context.Context, id string) (*domain.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.opps[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) ListCompetitors(context.Context, string) ([]domain.Competitor, error) {
	return nil, nil
}

func (m *memStore) ListOpportunityIDs(context.Context, bool, int) ([]string, error) {
	return nil, nil
}

func (m *memStore) UpdateOpportunityScore(_ context.Context, id string, u domain.ScoreUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.opps[id]
	if !ok {
		return database.ErrNotFound
	}
	score := u.Score
	o.Score = &score
	now := time.Now()
	o.ScoredAt = &now
	return nil
}

type fixedConfig struct{}

func (fixedConfig) ScoringConfig(context.Context) (domain.ScoringConfig, error) {
	return domain.DefaultScoringConfig(), nil
}

func (fixedConfig) SaveScoringConfig(context.Context, domain.ScoringConfig) error { return nil }

type fixedRules struct{ rules domain.FilterRules }

func (f fixedRules) FilterRules(context.Context) (domain.FilterRules, error) { return f.rules, nil }

type mockAdapter struct {
	name        string
	collectFunc func(ctx context.Context, params sources.Params) ([]domain.RawSignal, error)
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Collect(ctx context.Context, params sources.Params) ([]domain.RawSignal, error) {
	return m.collectFunc(ctx, params)
}

func (m *mockAdapter) ValidateConfig() (bool, []string) { return true, nil }

func (m *mockAdapter) IsEnabled() bool { return true }

type staticCatalog struct {
	adapters []sources.Adapter
	infos    []sources.Info
}

func (c *staticCatalog) Select(names []string) ([]sources.Adapter, error) {
	if len(names) == 0 {
		return c.adapters, nil
	}
	var out []sources.Adapter
	for _, name := range names {
		found := false
		for _, a := range c.adapters {
			if a.Name() == name {
				out = append(out, a)
				found = true
			}
		}
		if !found && !slices.ContainsFunc(c.infos, func(i sources.Info) bool { return i.Name == name }) {
			return nil, fmt.Errorf("%w: %s", sources.ErrUnknownSource, name)
		}
	}
	return out, nil
}

func (c *staticCatalog) Infos() []sources.Info { return c.infos }

// age moves every staged signal's creation time back by d.
func (m *memStore) age(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		p.CreatedAt = p.CreatedAt.Add(-d)
	}
}
