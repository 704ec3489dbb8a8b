package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/api"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/metrics"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scan"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scoring"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/settings"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/sources"
)

type mockScans struct {
	startFunc  func(ctx context.Context, sources []string) (string, error)
	statusFunc func(ctx context.Context, id string) (*scan.Status, error)
}

func (m *mockScans) StartScan(ctx context.Context, s []string) (string, error) {
	return m.startFunc(ctx, s)
}

func (m *mockScans) GetScanStatus(ctx context.Context, id string) (*scan.Status, error) {
	return m.statusFunc(ctx, id)
}

type mockSources struct{ infos []sources.Info }

func (m *mockSources) Infos() []sources.Info { return m.infos }

type mockRules struct {
	rules   domain.FilterRules
	saved   *domain.FilterRules
	addFunc func(ctx context.Context, keyword, reason string) (domain.FilterRules, error)
	loadErr error
}

func (m *mockRules) FilterRules(context.Context) (domain.FilterRules, error) {
	return m.rules, m.loadErr
}

func (m *mockRules) UpdateFilterRules(_ context.Context, rules domain.FilterRules) error {
	m.saved = &rules
	return nil
}

func (m *mockRules) AddExclusion(ctx context.Context, keyword, reason string) (domain.FilterRules, error) {
	return m.addFunc(ctx, keyword, reason)
}

type mockScoring struct {
	cfg          domain.ScoringConfig
	updateFunc   func(ctx context.Context, w map[string]float64, t *domain.ValidationThresholds) (domain.ScoringConfig, error)
	scoreFunc    func(ctx context.Context, id string) (scoring.Result, error)
	rescoreCalls int
}

func (m *mockScoring) Config(context.Context) (domain.ScoringConfig, error) { return m.cfg, nil }

func (m *mockScoring) UpdateConfig(
	ctx context.Context,
	w map[string]float64,
	t *domain.ValidationThresholds,
) (domain.ScoringConfig, error) {
	return m.updateFunc(ctx, w, t)
}

func (m *mockScoring) ScoreOpportunity(ctx context.Context, id string) (scoring.Result, error) {
	return m.scoreFunc(ctx, id)
}

func (m *mockScoring) RescoreAll(context.Context) (scoring.Summary, error) {
	m.rescoreCalls++
	return scoring.Summary{Total: 4, Rescored: 4, AvgScore: 51.5}, nil
}

type fixture struct {
	scans   *mockScans
	sources *mockSources
	rules   *mockRules
	scoring *mockScoring
	checks  map[string]api.HealthCheck
}

func newFixture() *fixture {
	return &fixture{
		scans:   &mockScans{},
		sources: &mockSources{},
		rules:   &mockRules{rules: domain.DefaultFilterRules()},
		scoring: &mockScoring{cfg: domain.ScoringConfig{Weights: domain.DefaultScoringWeights()}},
	}
}

func (f *fixture) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := api.NewHandler(api.HandlerDeps{
		Scans:   f.scans,
		Sources: f.sources,
		Rules:   f.rules,
		Scoring: f.scoring,
		Metrics: metrics.New(),
		Checks:  f.checks,
		Service: "opportunity-finder",
		Version: "test",
	}, infralogger.NewNop())
	router := gin.New()
	api.SetupRoutes(router, handler)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequestWithContext(t.Context(), method, path, http.NoBody)
	} else {
		req = httptest.NewRequestWithContext(t.Context(), method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStartScan(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantSrc    []string
	}{
		{name: "no body", wantStatus: http.StatusAccepted},
		{name: "named sources", body: `{"sources":["reddit","rss"]}`, wantStatus: http.StatusAccepted, wantSrc: []string{"reddit", "rss"}},
		{name: "scan running", err: scan.ErrScanInProgress, wantStatus: http.StatusConflict},
		{name: "unknown source", body: `{"sources":["myspace"]}`, err: fmt.Errorf("%w: myspace", sources.ErrUnknownSource), wantStatus: http.StatusBadRequest, wantSrc: []string{"myspace"}},
		{name: "bad json", body: `{"sources":`, wantStatus: http.StatusBadRequest},
		{name: "store failure", err: errors.New("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			var got []string
			f.scans.startFunc = func(_ context.Context, s []string) (string, error) {
				got = s
				if tt.err != nil {
					return "", tt.err
				}
				return "scan-1", nil
			}

			rec := do(t, f.router(), http.MethodPost, "/api/v1/scans", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantSrc, got)

			if tt.wantStatus == http.StatusAccepted {
				var resp map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "scan-1", resp["scan_id"])
				assert.Equal(t, "pending", resp["status"])
			}
		})
	}
}

func TestGetScan(t *testing.T) {
	f := newFixture()
	f.scans.statusFunc = func(_ context.Context, id string) (*scan.Status, error) {
		if id != "scan-1" {
			return nil, fmt.Errorf("%w: %s", scan.ErrScanNotFound, id)
		}
		return &scan.Status{ScanID: id, Status: domain.ScanRunning, Progress: 30, Message: "Classifying"}, nil
	}
	router := f.router()

	rec := do(t, router, http.MethodGet, "/api/v1/scans/scan-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status scan.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 30, status.Progress)
	assert.Equal(t, domain.ScanRunning, status.Status)

	rec = do(t, router, http.MethodGet, "/api/v1/scans/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSources(t *testing.T) {
	f := newFixture()
	f.sources.infos = []sources.Info{
		{Name: "hacker_news", Enabled: true, ConfigValid: true},
		{Name: "product_hunt", Enabled: true, Missing: []string{"api_token"}},
	}

	rec := do(t, f.router(), http.MethodGet, "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
	assert.Contains(t, rec.Body.String(), `"missing_keys":["api_token"]`)
}

func TestFilterRules(t *testing.T) {
	f := newFixture()
	router := f.router()

	rec := do(t, router, http.MethodGet, "/api/v1/filter-rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "exclude_keywords")

	rec = do(t, router, http.MethodPut, "/api/v1/filter-rules", `{"exclude_keywords":["crypto"],"min_upvotes":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.rules.saved)
	assert.Equal(t, []string{"crypto"}, f.rules.saved.ExcludeKeywords)
	assert.Equal(t, 5, f.rules.saved.MinUpvotes)

	f.rules.loadErr = errors.New("db down")
	rec = do(t, router, http.MethodGet, "/api/v1/filter-rules", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAddExclusion(t *testing.T) {
	f := newFixture()
	f.rules.addFunc = func(_ context.Context, keyword, _ string) (domain.FilterRules, error) {
		if keyword == "" {
			return domain.FilterRules{}, settings.ErrEmptyKeyword
		}
		return domain.FilterRules{ExcludeKeywords: []string{keyword}}, nil
	}
	router := f.router()

	rec := do(t, router, http.MethodPost, "/api/v1/filter-rules/exclusions", `{"keyword":"nft","reason":"noise"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"nft"`)

	rec = do(t, router, http.MethodPost, "/api/v1/filter-rules/exclusions", `{"keyword":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateScoringConfig_WeightsTriggerRescore(t *testing.T) {
	f := newFixture()
	var got map[string]float64
	f.scoring.updateFunc = func(_ context.Context, w map[string]float64, th *domain.ValidationThresholds) (domain.ScoringConfig, error) {
		assert.Nil(t, th)
		got = w
		return domain.ScoringConfig{Weights: domain.DefaultScoringWeights()}, nil
	}

	body := `{"weights":{"demand_frequency":0.25,"revenue_proof":0.35,"competition":0.2,"build_complexity":0.2}}`
	rec := do(t, f.router(), http.MethodPut, "/api/v1/scoring/config", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.35, got["revenue_proof"], 1e-9)
	assert.Equal(t, 1, f.scoring.rescoreCalls)
	assert.Contains(t, rec.Body.String(), `"rescored"`)
}

func TestUpdateScoringConfig_Rejected(t *testing.T) {
	f := newFixture()
	f.scoring.updateFunc = func(context.Context, map[string]float64, *domain.ValidationThresholds) (domain.ScoringConfig, error) {
		return domain.ScoringConfig{}, fmt.Errorf("%w: weights must sum to 1.0, got 1.05", scoring.ErrInvalidWeights)
	}
	router := f.router()

	rec := do(t, router, http.MethodPut, "/api/v1/scoring/config", `{"weights":{"demand_frequency":1.05}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "sum to 1.0")
	assert.Zero(t, f.scoring.rescoreCalls)

	rec = do(t, router, http.MethodPut, "/api/v1/scoring/config", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateScoringConfig_ThresholdsOnly(t *testing.T) {
	f := newFixture()
	f.scoring.updateFunc = func(_ context.Context, w map[string]float64, th *domain.ValidationThresholds) (domain.ScoringConfig, error) {
		assert.Nil(t, w)
		require.NotNil(t, th)
		return domain.ScoringConfig{Thresholds: *th}, nil
	}

	rec := do(t, f.router(), http.MethodPut, "/api/v1/scoring/config", `{"thresholds":{"min_revenue_mrr":500,"min_mentions":3,"min_competitors":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"min_mentions":3`)
	assert.Zero(t, f.scoring.rescoreCalls)
}

func TestScoreOne(t *testing.T) {
	f := newFixture()
	f.scoring.scoreFunc = func(_ context.Context, id string) (scoring.Result, error) {
		if id == "missing" {
			return scoring.Result{}, fmt.Errorf("%w: %s", scoring.ErrOpportunityNotFound, id)
		}
		return scoring.Result{Score: 55, IsValidated: true}, nil
	}
	router := f.router()

	rec := do(t, router, http.MethodPost, "/api/v1/opportunities/opp-1/score", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"score":55`)

	rec = do(t, router, http.MethodPost, "/api/v1/opportunities/missing/score", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRescoreAll(t *testing.T) {
	f := newFixture()
	rec := do(t, f.router(), http.MethodPost, "/api/v1/opportunities/rescore", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rescored":4`)
}

func TestHealth(t *testing.T) {
	f := newFixture()
	f.checks = map[string]api.HealthCheck{
		"database": func(context.Context) error { return nil },
	}
	rec := do(t, f.router(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	f.checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	rec = do(t, f.router(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture()
	rec := do(t, f.router(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// memoryConfig is a scoring.ConfigStore backed by a struct, counting writes.
type memoryConfig struct {
	cfg    domain.ScoringConfig
	writes int
}

func (m *memoryConfig) ScoringConfig(context.Context) (domain.ScoringConfig, error) { return m.cfg, nil }

func (m *memoryConfig) SaveScoringConfig(_ context.Context, cfg domain.ScoringConfig) error {
	m.writes++
	m.cfg = cfg
	return nil
}

// noOpportunities is a scoring.Store with nothing in it.
type noOpportunities struct{}

func (noOpportunities) GetOpportunity(_ context.Context, id string) (*domain.Opportunity, error) {
	return nil, fmt.Errorf("opportunity %s not found", id)
}

func (noOpportunities) ListCompetitors(context.Context, string) ([]domain.Competitor, error) {
	return nil, nil
}

func (noOpportunities) ListOpportunityIDs(context.Context, bool, int) ([]string, error) {
	return nil, nil
}

func (noOpportunities) UpdateOpportunityScore(context.Context, string, domain.ScoreUpdate) error {
	return nil
}

func TestUpdateScoringConfig_NoPartialWrite(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		wantStatus     int
		wantWrites     int
		wantThresholds domain.ValidationThresholds
	}{
		{
			name:           "valid thresholds with weights summing to 1.25",
			body:           `{"thresholds":{"min_revenue_mrr":1,"min_mentions":1,"min_competitors":0},"weights":{"demand_frequency":0.5,"revenue_proof":0.35,"competition":0.2,"build_complexity":0.2}}`,
			wantStatus:     http.StatusBadRequest,
			wantThresholds: domain.DefaultValidationThresholds(),
		},
		{
			name:           "negative threshold with valid weights",
			body:           `{"thresholds":{"min_revenue_mrr":-1,"min_mentions":1,"min_competitors":0},"weights":{"demand_frequency":0.25,"revenue_proof":0.35,"competition":0.2,"build_complexity":0.2}}`,
			wantStatus:     http.StatusBadRequest,
			wantThresholds: domain.DefaultValidationThresholds(),
		},
		{
			name:           "both valid",
			body:           `{"thresholds":{"min_revenue_mrr":1,"min_mentions":1,"min_competitors":0},"weights":{"demand_frequency":0.25,"revenue_proof":0.35,"competition":0.2,"build_complexity":0.2}}`,
			wantStatus:     http.StatusOK,
			wantWrites:     1,
			wantThresholds: domain.ValidationThresholds{MinRevenueMRR: 1, MinMentions: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryConfig{cfg: domain.DefaultScoringConfig()}
			f := newFixture()
			handler := api.NewHandler(api.HandlerDeps{
				Scans:   f.scans,
				Sources: f.sources,
				Rules:   f.rules,
				Scoring: scoring.NewService(noOpportunities{}, store, nil, infralogger.NewNop()),
			}, infralogger.NewNop())
			gin.SetMode(gin.TestMode)
			router := gin.New()
			api.SetupRoutes(router, handler)

			rec := do(t, router, http.MethodPut, "/api/v1/scoring/config", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantWrites, store.writes)
			assert.Equal(t, tt.wantThresholds, store.cfg.Thresholds)
		})
	}
}
