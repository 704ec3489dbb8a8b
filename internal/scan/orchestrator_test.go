package scan_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/classifier"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/cluster"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/database"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/matcher"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scan"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scoring"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/sources"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/staging"
)

const batchAnswer = `[
  {"index": 0, "is_software_opportunity": true, "pain_point": "Freelancers chase late invoices by hand",
   "opportunity_name": "Invoice Chaser", "signal_type": "pain_point", "category": "automation"},
  {"index": 1, "is_software_opportunity": true, "pain_point": "Small agencies lose money to unpaid invoices",
   "opportunity_name": "Invoice Chaser", "signal_type": "pain_point", "category": "automation"}
]`

const clusterAnswer = `{"clusters": [{"name": "Invoice Chaser", "pain_point": "Chasing unpaid invoices is manual",
  "post_ids": [1, 2], "confidence": 0.85}]}`

type scriptedModel struct {
	calls atomic.Int32
}

func (m *scriptedModel) Complete(_ context.Context, prompt string) (string, error) {
	m.calls.Add(1)
	switch {
	case strings.HasPrefix(prompt, "Analyze these"):
		return batchAnswer, nil
	case strings.HasPrefix(prompt, "Given these pain points"):
		return clusterAnswer, nil
	case strings.HasPrefix(prompt, "Match new posts"):
		return `{"matches": [], "unmatched_post_ids": []}`, nil
	default:
		return "", errors.New("unexpected prompt")
	}
}

func rawSignal(source, url, title string, upvotes float64) domain.RawSignal {
	return domain.RawSignal{
		Title:       title,
		Description: title + " - details from the thread",
		URL:         url,
		SourceType:  source,
		Metrics:     domain.Metrics{"upvotes": upvotes, "comments": 4},
		CollectedAt: time.Now(),
	}
}

func adapterReturning(name string, signals ...domain.RawSignal) *mockAdapter {
	return &mockAdapter{name: name, collectFunc: func(context.Context, sources.Params) ([]domain.RawSignal, error) {
		return signals, nil
	}}
}

func testScanConfig() config.ScanConfig {
	return config.ScanConfig{
		CollectConcurrency:    2,
		ClassifyBatchSize:     5,
		MaxMatchSignals:       80,
		MaxMatchOpportunities: 50,
		MatchWindow:           90 * 24 * time.Hour,
		MaxClusterBatch:       80,
		MinConsensus:          2,
		MatchConfidence:       0.7,
		ClusterConfidence:     0.6,
		PendingTTL:            30 * 24 * time.Hour,
		LockTTL:               time.Hour,
	}
}

type harness struct {
	store *memStore
	model *scriptedModel
	orch  *scan.Orchestrator
}

func newHarness(catalog scan.SourceCatalog, progress scan.ProgressStore) *harness {
	logger := infralogger.NewNop()
	store := newMemStore()
	model := &scriptedModel{}
	clf := classifier.New(model, config.ModelConfig{}, nil, logger)

	orch := scan.New(scan.Deps{
		Scans:      store,
		Catalog:    catalog,
		Rules:      fixedRules{},
		Classifier: clf,
		Staging:    staging.NewService(store, logger),
		Matcher:    matcher.NewService(store, clf, logger),
		Clusterer:  cluster.NewService(store, clf, logger),
		Scorer:     scoring.NewService(store, fixedConfig{}, nil, logger),
		Progress:   progress,
	}, testScanConfig(), logger)
	return &harness{store: store, model: model, orch: orch}
}

func TestRunScan_TwoCorroboratingPostsBecomeOpportunity(t *testing.T) {
	t.Parallel()

	catalog := &staticCatalog{adapters: []sources.Adapter{
		adapterReturning("reddit", rawSignal("reddit", "https://reddit.com/r/freelance/1", "Chasing invoices", 12)),
		adapterReturning("hacker_news", rawSignal("hacker_news", "https://news.ycombinator.com/item?id=2", "Unpaid invoices", 30)),
	}}
	h := newHarness(catalog, nil)

	summary, err := h.orch.RunScan(t.Context(), nil)

	require.NoError(t, err)
	assert.Equal(t, domain.ScanCompleted, summary.Status)
	assert.Equal(t, 2, summary.Stats.Collected)
	assert.Equal(t, 2, summary.Stats.AIAnalyzed)
	assert.Equal(t, 2, summary.Stats.PendingAdded)
	assert.Equal(t, 1, summary.Stats.NewOpportunities)
	assert.Equal(t, 0, summary.Stats.PendingRemaining)
	assert.Equal(t, 1, summary.Stats.Scored)
	assert.Equal(t, 1, summary.OpportunitiesFound)
	assert.Equal(t, domain.SourceCompleted, summary.Sources["reddit"].Status)

	require.Len(t, h.store.opps, 1)
	for _, opp := range h.store.opps {
		assert.Equal(t, "Invoice Chaser", opp.Title)
		assert.Equal(t, 2, opp.MentionCount)
		assert.ElementsMatch(t, []string{"reddit", "hacker_news"}, []string(opp.SourceTypes))
		assert.NotNil(t, opp.ScoredAt)
	}
	assert.Len(t, h.store.links, 2)

	stored := h.store.scans[summary.ScanID]
	assert.Equal(t, domain.ScanCompleted, stored.Status)
	assert.Equal(t, 1, stored.OpportunitiesFound)
	assert.IsIncreasing(t, h.store.progress)
}

func TestRunScan_SinglePostStaysPending(t *testing.T) {
	t.Parallel()

	catalog := &staticCatalog{adapters: []sources.Adapter{
		adapterReturning("reddit", rawSignal("reddit", "https://reddit.com/r/freelance/1", "Chasing invoices", 12)),
	}}
	h := newHarness(catalog, nil)

	summary, err := h.orch.RunScan(t.Context(), nil)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stats.PendingAdded)
	assert.Zero(t, summary.Stats.NewOpportunities)
	assert.Equal(t, 1, summary.Stats.PendingRemaining)
	assert.Empty(t, h.store.opps)
	assert.Equal(t, int32(1), h.model.calls.Load(), "only the classification call is made")
}

func TestRunScan_DuplicateURLsAreNotRestaged(t *testing.T) {
	t.Parallel()

	sig := rawSignal("reddit", "https://reddit.com/r/freelance/1", "Chasing invoices", 12)
	catalog := &staticCatalog{adapters: []sources.Adapter{
		adapterReturning("reddit", sig, sig),
		adapterReturning("bluesky", sig),
	}}
	h := newHarness(catalog, nil)

	first, err := h.orch.RunScan(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Stats.Collected)
	assert.Equal(t, 2, first.Stats.Duplicates)
	assert.Equal(t, 1, first.Stats.PendingAdded)

	second, err := h.orch.RunScan(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Stats.Duplicates)
	assert.Zero(t, second.Stats.PendingAdded)
	assert.Equal(t, 1, second.Stats.PendingRemaining)
}

func TestRunScan_SourceFailureIsIsolated(t *testing.T) {
	t.Parallel()

	failing := &mockAdapter{name: "product_hunt", collectFunc: func(context.Context, sources.Params) ([]domain.RawSignal, error) {
		return nil, errors.New("401 unauthorized")
	}}
	catalog := &staticCatalog{
		adapters: []sources.Adapter{
			failing,
			adapterReturning("reddit", rawSignal("reddit", "https://reddit.com/r/x/1", "Chasing invoices", 12)),
		},
		infos: []sources.Info{
			{Name: "product_hunt", Enabled: true, ConfigValid: true},
			{Name: "reddit", Enabled: true, ConfigValid: true},
			{Name: "rss", Enabled: false, ConfigValid: false},
		},
	}
	h := newHarness(catalog, nil)

	summary, err := h.orch.RunScan(t.Context(), nil)

	require.NoError(t, err)
	assert.Equal(t, domain.SourceFailed, summary.Sources["product_hunt"].Status)
	assert.Contains(t, summary.Sources["product_hunt"].Message, "401")
	assert.Equal(t, domain.SourceCompleted, summary.Sources["reddit"].Status)
	assert.Equal(t, domain.SourceSkipped, summary.Sources["rss"].Status)
	assert.Equal(t, "disabled", summary.Sources["rss"].Message)
	assert.Equal(t, 1, summary.Stats.PendingAdded)
}

func TestRunScan_UnknownSource(t *testing.T) {
	t.Parallel()

	h := newHarness(&staticCatalog{}, nil)

	_, err := h.orch.RunScan(t.Context(), []string{"myspace"})

	require.ErrorIs(t, err, sources.ErrUnknownSource)
	assert.Empty(t, h.store.scans, "no scan record is created")
}

func TestRunScan_FatalErrorFailsScanAndKeepsStagedWork(t *testing.T) {
	t.Parallel()

	catalog := &staticCatalog{adapters: []sources.Adapter{
		adapterReturning("reddit", rawSignal("reddit", "https://reddit.com/r/x/1", "Chasing invoices", 12)),
	}}
	h := newHarness(catalog, nil)
	h.store.failErr = errors.New("connection reset")

	summary, err := h.orch.RunScan(t.Context(), nil)

	require.Error(t, err)
	assert.Equal(t, domain.ScanFailed, summary.Status)
	stored := h.store.scans[summary.ScanID]
	assert.Equal(t, domain.ScanFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "connection reset")
	assert.Len(t, h.store.pending, 1, "signals staged before the failure survive")

	// The lock is released, so the next scan can start.
	h.store.failErr = nil
	_, err = h.orch.RunScan(t.Context(), nil)
	assert.NoError(t, err)
}

func TestStartScan_RejectsConcurrentScan(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	blocking := &mockAdapter{name: "reddit", collectFunc: func(ctx context.Context, _ sources.Params) ([]domain.RawSignal, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}}
	h := newHarness(&staticCatalog{adapters: []sources.Adapter{blocking}}, nil)

	id, err := h.orch.StartScan(t.Context(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = h.orch.StartScan(t.Context(), nil)
	require.ErrorIs(t, err, scan.ErrScanInProgress)

	close(release)
	h.orch.Wait()

	status, err := h.orch.GetScanStatus(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
}

func TestGetScanStatus_PrefersProgressCache(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	progress := scan.NewRedisProgress(client, time.Hour)

	h := newHarness(&staticCatalog{}, progress)
	created, err := h.store.CreateScan(t.Context())
	require.NoError(t, err)
	require.NoError(t, h.store.MarkScanRunning(t.Context(), created.ID))

	require.NoError(t, progress.Set(t.Context(), created.ID, scan.Progress{
		Status:    domain.ScanRunning,
		Progress:  54,
		Message:   "Classified 10 of 20 signals",
		Stats:     domain.ScanStats{Collected: 20, MatchedToExisting: 1},
		UpdatedAt: time.Now(),
	}))

	status, err := h.orch.GetScanStatus(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 54, status.Progress)
	assert.Equal(t, "Classified 10 of 20 signals", status.Message)
	assert.Equal(t, 1, status.OpportunitiesFound)

	mr.FlushAll()
	status, err = h.orch.GetScanStatus(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanRunning, status.Status)
	assert.Zero(t, status.Progress, "falls back to the scan record")
}

func TestGetScanStatus_NotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(&staticCatalog{}, nil)

	_, err := h.orch.GetScanStatus(t.Context(), "missing")
	assert.ErrorIs(t, err, scan.ErrScanNotFound)
}

func TestFailStaleScans(t *testing.T) {
	t.Parallel()

	h := newHarness(&staticCatalog{}, nil)
	stale, err := h.store.CreateScan(t.Context())
	require.NoError(t, err)
	require.NoError(t, h.store.MarkScanRunning(t.Context(), stale.ID))
	h.store.scans[stale.ID].UpdatedAt = time.Now().Add(-3 * time.Hour)

	fresh, err := h.store.CreateScan(t.Context())
	require.NoError(t, err)
	require.NoError(t, h.store.MarkScanRunning(t.Context(), fresh.ID))

	ids, err := h.orch.FailStaleScans(t.Context(), 2*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)
	assert.Equal(t, domain.ScanFailed, h.store.scans[stale.ID].Status)
	assert.Equal(t, "scan exceeded 2h0m0s without progress", *h.store.scans[stale.ID].ErrorMessage)
	assert.Equal(t, domain.ScanRunning, h.store.scans[fresh.ID].Status)
}

func TestRunScan_ExpiresStaleSignals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		age           time.Duration
		wantExpired   int
		wantRemaining int
	}{
		{name: "29 days old stays pending", age: 29 * 24 * time.Hour, wantRemaining: 1},
		{name: "31 days old is gone", age: 31 * 24 * time.Hour, wantExpired: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			catalog := &staticCatalog{adapters: []sources.Adapter{
				adapterReturning("reddit", rawSignal("reddit", "https://reddit.com/r/freelance/1", "Chasing invoices", 12)),
			}}
			h := newHarness(catalog, nil)

			first, err := h.orch.RunScan(t.Context(), nil)
			require.NoError(t, err)
			require.Equal(t, 1, first.Stats.PendingRemaining)

			h.store.age(tt.age)

			second, err := h.orch.RunScan(t.Context(), nil)
			require.NoError(t, err)
			assert.Equal(t, 1, second.Stats.Duplicates)
			assert.Equal(t, tt.wantExpired, second.Stats.Expired)
			assert.Equal(t, tt.wantRemaining, second.Stats.PendingRemaining)
			assert.Len(t, h.store.pending, tt.wantRemaining)
			assert.Empty(t, h.store.opps)
		})
	}
}

func TestRunScan_OversizeURLIsFilteredNotFatal(t *testing.T) {
	t.Parallel()

	long := "https://example.com/" + strings.Repeat("a", domain.MaxURLLength)
	catalog := &staticCatalog{adapters: []sources.Adapter{
		adapterReturning("rss",
			rawSignal("rss", long, "Chasing invoices", 3),
			rawSignal("rss", "https://example.com/ok", "Unpaid invoices", 3)),
	}}
	h := newHarness(catalog, nil)

	summary, err := h.orch.RunScan(t.Context(), nil)

	require.NoError(t, err)
	assert.Equal(t, domain.ScanCompleted, summary.Status)
	assert.Equal(t, 1, summary.Stats.Filtered)
	assert.Equal(t, 1, summary.Stats.PendingAdded)
	for _, p := range h.store.pending {
		assert.LessOrEqual(t, len(p.URL), domain.MaxURLLength)
	}
}

func TestRunScan_WatchdogFailureIsNotOverwritten(t *testing.T) {
	t.Parallel()

	var h *harness
	watchdogFires := &mockAdapter{name: "reddit", collectFunc: func(ctx context.Context, _ sources.Params) ([]domain.RawSignal, error) {
		_, err := h.store.FailStaleScans(ctx, time.Now().Add(time.Hour), "scan exceeded 2h0m0s without progress")
		assert.NoError(t, err)
		return []domain.RawSignal{rawSignal("reddit", "https://reddit.com/r/x/1", "Chasing invoices", 12)}, nil
	}}
	h = newHarness(&staticCatalog{adapters: []sources.Adapter{watchdogFires}}, nil)

	summary, err := h.orch.RunScan(t.Context(), nil)

	require.ErrorIs(t, err, database.ErrScanNotRunning)
	stored := h.store.scans[summary.ScanID]
	assert.Equal(t, domain.ScanFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "scan exceeded 2h0m0s without progress", *stored.ErrorMessage)
	assert.NotEqual(t, 100, stored.Progress)
	assert.Empty(t, h.store.pending, "nothing is staged once the scan is no longer running")
}

func TestRunScan_AdapterPanicIsIsolated(t *testing.T) {
	t.Parallel()

	panicking := &mockAdapter{name: "mastodon", collectFunc: func(context.Context, sources.Params) ([]domain.RawSignal, error) {
		panic("nil instance list")
	}}
	catalog := &staticCatalog{adapters: []sources.Adapter{
		panicking,
		adapterReturning("reddit", rawSignal("reddit", "https://reddit.com/r/freelance/1", "Chasing invoices", 12)),
	}}
	h := newHarness(catalog, nil)

	summary, err := h.orch.RunScan(t.Context(), nil)

	require.NoError(t, err)
	assert.Equal(t, domain.ScanCompleted, summary.Status)
	assert.Equal(t, domain.SourceFailed, summary.Sources["mastodon"].Status)
	assert.Contains(t, summary.Sources["mastodon"].Message, "nil instance list")
	assert.Equal(t, domain.SourceCompleted, summary.Sources["reddit"].Status)
	assert.Equal(t, 1, summary.Stats.PendingAdded)
}
