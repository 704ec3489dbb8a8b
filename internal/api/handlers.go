package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/metrics"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scan"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scoring"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/settings"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/sources"
)

const healthCheckTimeout = 3 * time.Second

// ScanService starts scans and reports their status.
type ScanService interface {
	StartScan(ctx context.Context, sources []string) (string, error)
	GetScanStatus(ctx context.Context, id string) (*scan.Status, error)
}

// SourceLister lists configured source adapters.
type SourceLister interface {
	Infos() []sources.Info
}

// RulesService reads and writes the filter-rule document.
type RulesService interface {
	FilterRules(ctx context.Context) (domain.FilterRules, error)
	UpdateFilterRules(ctx context.Context, rules domain.FilterRules) error
	AddExclusion(ctx context.Context, keyword, reason string) (domain.FilterRules, error)
}

// ScoringService scores opportunities and manages the scoring configuration.
type ScoringService interface {
	Config(ctx context.Context) (domain.ScoringConfig, error)
	UpdateConfig(
		ctx context.Context,
		weights map[string]float64,
		thresholds *domain.ValidationThresholds,
	) (domain.ScoringConfig, error)
	ScoreOpportunity(ctx context.Context, id string) (scoring.Result, error)
	RescoreAll(ctx context.Context) (scoring.Summary, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handler serves the operator routes.
type Handler struct {
	scans   ScanService
	sources SourceLister
	rules   RulesService
	scoring ScoringService
	metrics *metrics.Metrics
	checks  map[string]HealthCheck
	service string
	version string
	logger  infralogger.Logger
}

// HandlerDeps groups the Handler's collaborators.
type HandlerDeps struct {
	Scans   ScanService
	Sources SourceLister
	Rules   RulesService
	Scoring ScoringService
	Metrics *metrics.Metrics
	Checks  map[string]HealthCheck
	Service string
	Version string
}

// NewHandler creates a Handler.
func NewHandler(deps HandlerDeps, logger infralogger.Logger) *Handler {
	checks := deps.Checks
	if checks == nil {
		checks = map[string]HealthCheck{}
	}
	return &Handler{
		scans:   deps.Scans,
		sources: deps.Sources,
		rules:   deps.Rules,
		scoring: deps.Scoring,
		metrics: deps.Metrics,
		checks:  checks,
		service: deps.Service,
		version: deps.Version,
		logger:  logger.With(infralogger.Component("api")),
	}
}

// Health handles GET /health. Any failing dependency makes the response 503.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: statusHealthy, Service: h.service, Version: h.version}
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]checkResult, len(h.checks))
	}
	for name, check := range h.checks {
		start := time.Now()
		result := checkResult{Status: statusHealthy}
		if err := check(ctx); err != nil {
			result.Status = statusUnhealthy
			result.Message = err.Error()
			resp.Status = statusUnhealthy
		}
		result.Latency = time.Since(start).String()
		resp.Checks[name] = result
	}

	code := http.StatusOK
	if resp.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// StartScan handles POST /api/v1/scans. The body is optional.
func (h *Handler) StartScan(c *gin.Context) {
	var req startScanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, err)
		return
	}

	scanID, err := h.scans.StartScan(c.Request.Context(), req.Sources)
	switch {
	case errors.Is(err, scan.ErrScanInProgress):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error(), Code: "SCAN_IN_PROGRESS"})
		return
	case errors.Is(err, sources.ErrUnknownSource):
		h.badRequest(c, err)
		return
	case err != nil:
		h.internalError(c, "Failed to start scan", err)
		return
	}

	c.JSON(http.StatusAccepted, startScanResponse{ScanID: scanID, Status: domain.ScanPending})
}

// GetScan handles GET /api/v1/scans/:id.
func (h *Handler) GetScan(c *gin.Context) {
	status, err := h.scans.GetScanStatus(c.Request.Context(), c.Param("id"))
	if errors.Is(err, scan.ErrScanNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to load scan status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListSources handles GET /api/v1/sources.
func (h *Handler) ListSources(c *gin.Context) {
	infos := h.sources.Infos()
	c.JSON(http.StatusOK, gin.H{"sources": infos, "count": len(infos)})
}

func (h *Handler) GetFilterRules(c *gin.Context) {
	rules, err := h.rules.FilterRules(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to load filter rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *Handler) UpdateFilterRules(c *gin.Context) {
	var rules domain.FilterRules
	if err := c.ShouldBindJSON(&rules); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.rules.UpdateFilterRules(c.Request.Context(), rules); err != nil {
		h.internalError(c, "Failed to save filter rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// AddExclusion handles POST /api/v1/filter-rules/exclusions.
func (h *Handler) AddExclusion(c *gin.Context) {
	var req exclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	rules, err := h.rules.AddExclusion(c.Request.Context(), req.Keyword, req.Reason)
	if errors.Is(err, settings.ErrEmptyKeyword) {
		h.badRequest(c, err)
		return
	}
	if err != nil {
		h.internalError(c, "Failed to add exclusion", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *Handler) GetScoringConfig(c *gin.Context) {
	cfg, err := h.scoring.Config(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to load scoring config", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateScoringConfig handles PUT /api/v1/scoring/config. Weights and thresholds are saved
// together or not at all. A weights change rescores every opportunity before responding.
func (h *Handler) UpdateScoringConfig(c *gin.Context) {
	var req scoringConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.Weights == nil && req.Thresholds == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "weights or thresholds required", Code: "BAD_REQUEST"})
		return
	}

	ctx := c.Request.Context()
	cfg, err := h.scoring.UpdateConfig(ctx, req.Weights, req.Thresholds)
	if err != nil {
		h.scoringError(c, err)
		return
	}

	resp := scoringConfigResponse{Config: cfg}
	if req.Weights != nil {
		summary, rescoreErr := h.scoring.RescoreAll(ctx)
		if rescoreErr != nil {
			h.logger.Warn("Rescore after weight change failed", infralogger.Error(rescoreErr))
			resp.RescoreError = rescoreErr.Error()
		} else {
			resp.Rescored = &summary
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ScoreOne handles POST /api/v1/opportunities/:id/score.
func (h *Handler) ScoreOne(c *gin.Context) {
	result, err := h.scoring.ScoreOpportunity(c.Request.Context(), c.Param("id"))
	if errors.Is(err, scoring.ErrOpportunityNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to score opportunity", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) RescoreAll(c *gin.Context) {
	summary, err := h.scoring.RescoreAll(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to rescore opportunities", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) scoringError(c *gin.Context, err error) {
	if errors.Is(err, scoring.ErrInvalidWeights) || errors.Is(err, scoring.ErrInvalidThresholds) {
		h.badRequest(c, err)
		return
	}
	h.internalError(c, "Failed to update scoring config", err)
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "BAD_REQUEST"})
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	infralogger.FromContext(c.Request.Context()).Error(msg, infralogger.Error(err))
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, errorResponse{Error: msg, Code: "INTERNAL_ERROR"})
}
