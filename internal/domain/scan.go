package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ScanStatus is the lifecycle state of a scan.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed
}

// Per-source outcomes.
const (
	SourceCompleted = "completed"
	SourceSkipped   = "skipped"
	SourceFailed    = "failed"
)

// SourceResult is the per-source outcome recorded on a scan.
type SourceResult struct {
	Status     string `json:"status"`
	Count      int    `json:"count"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// SourceResults maps a source name to its outcome. Stored as JSONB.
type SourceResults map[string]SourceResult

func (r SourceResults) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

func (r *SourceResults) Scan(src any) error {
	return scanJSON(src, r)
}

// ScanStats are the per-stage counters of a scan. Stored as JSONB.
type ScanStats struct {
	Collected         int `json:"collected"`
	Duplicates        int `json:"duplicates"`
	Filtered          int `json:"filtered"`
	AIAnalyzed        int `json:"ai_analyzed"`
	AIRejected        int `json:"ai_rejected"`
	PendingAdded      int `json:"pending_added"`
	MatchedToExisting int `json:"matched_to_existing"`
	NewOpportunities  int `json:"new_opportunities"`
	PendingRemaining  int `json:"pending_remaining"`
	Expired           int `json:"expired"`
	Scored            int `json:"scored"`
}

// OpportunitiesFound is the headline count: newly created plus matched.
func (s ScanStats) OpportunitiesFound() int {
	return s.NewOpportunities + s.MatchedToExisting
}

func (s ScanStats) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *ScanStats) Scan(src any) error {
	return scanJSON(src, s)
}

// Scan is one pipeline run.
type Scan struct {
	ID                 string        `db:"id"`
	Status             ScanStatus    `db:"status"`
	Progress           int           `db:"progress"`
	Message            string        `db:"message"`
	OpportunitiesFound int           `db:"opportunities_found"`
	SourcesProcessed   SourceResults `db:"sources_processed"`
	Stats              ScanStats     `db:"stats"`
	ErrorMessage       *string       `db:"error_message"`
	StartedAt          *time.Time    `db:"started_at"`
	CompletedAt        *time.Time    `db:"completed_at"`
	CreatedAt          time.Time     `db:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"`
}
