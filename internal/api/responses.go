package api

import (
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scoring"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type healthResponse struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Checks  map[string]checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type startScanRequest struct {
	Sources []string `json:"sources"`
}

type startScanResponse struct {
	ScanID string            `json:"scan_id"`
	Status domain.ScanStatus `json:"status"`
}

type exclusionRequest struct {
	Keyword string `json:"keyword"`
	Reason  string `json:"reason"`
}

// scoringConfigRequest takes weights as a map so unknown keys can be rejected.
type scoringConfigRequest struct {
	Weights    map[string]float64           `json:"weights"`
	Thresholds *domain.ValidationThresholds `json:"thresholds"`
}

type scoringConfigResponse struct {
	Config       domain.ScoringConfig `json:"config"`
	Rescored     *scoring.Summary     `json:"rescored,omitempty"`
	RescoreError string               `json:"rescore_error,omitempty"`
}
