// Package domain holds the pipeline's data model: signals as they move from source adapters
// through staging, and the opportunities they are eventually promoted into.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Engagement metric keys every adapter emits.
const (
	MetricUpvotes  = "upvotes"
	MetricComments = "comments"
	MetricVotes    = "votes"
	MetricPoints   = "points"
)

// Engagement levels assigned by enrichment.
const (
	EngagementLow    = "LOW"
	EngagementMedium = "MEDIUM"
	EngagementHigh   = "HIGH"
)

// Metrics is a map of numeric engagement counters, stored as JSONB.
type Metrics map[string]float64

// Get returns the counter or zero.
func (m Metrics) Get(key string) float64 {
	if m == nil {
		return 0
	}
	return m[key]
}

// Upvotes resolves the upvote-like counter: upvotes, then votes, then points.
func (m Metrics) Upvotes() float64 {
	for _, key := range []string{MetricUpvotes, MetricVotes, MetricPoints} {
		if v, ok := m[key]; ok && v != 0 {
			return v
		}
	}
	return 0
}

// Comments returns the comment counter.
func (m Metrics) Comments() float64 {
	return m.Get(MetricComments)
}

func (m Metrics) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metrics) Scan(src any) error {
	return scanJSON(src, m)
}

// RawSignal is one normalized item as returned by a source adapter.
type RawSignal struct {
	Title       string
	Description string
	URL         string
	SourceType  string
	Metrics     Metrics
	Metadata    map[string]any
	CollectedAt time.Time

	EngagementScore float64
	EngagementLevel string
}

// Text is the title and description joined for keyword matching.
func (s *RawSignal) Text() string {
	return s.Title + " " + s.Description
}

// PendingSignal is a classified signal waiting in staging for corroboration.
type PendingSignal struct {
	ID              string          `db:"id"`
	Title           string          `db:"title"`
	Description     string          `db:"description"`
	URL             string          `db:"url"`
	SourceType      string          `db:"source_type"`
	PainPoint       string          `db:"pain_point"`
	OpportunityName string          `db:"opportunity_name"`
	Category        string          `db:"category"`
	Classification  *Classification `db:"classification"`
	Metrics         Metrics         `db:"engagement_metrics"`
	EngagementScore float64         `db:"engagement_score"`
	EngagementLevel string          `db:"engagement_level"`
	ScanID          string          `db:"scan_id"`
	CreatedAt       time.Time       `db:"created_at"`
}

// Classified reports whether the signal carries a model analysis whose pain point differs
// from the raw description. Only such signals take part in clustering.
func (p *PendingSignal) Classified() bool {
	return p.Classification != nil && p.PainPoint != "" && p.PainPoint != p.Description
}

// LinkEngagement is the engagement document stored on a SourceLink.
type LinkEngagement struct {
	Metrics         Metrics         `json:"metrics"`
	EngagementScore float64         `json:"engagement_score"`
	EngagementLevel string          `json:"engagement_level,omitempty"`
	Analysis        *Classification `json:"ai_analysis,omitempty"`
}

func (e LinkEngagement) Value() (driver.Value, error) {
	return json.Marshal(e)
}

func (e *LinkEngagement) Scan(src any) error {
	return scanJSON(src, e)
}

// SourceLink ties one origin post to an opportunity.
type SourceLink struct {
	ID            string         `db:"id"`
	OpportunityID string         `db:"opportunity_id"`
	SourceType    string         `db:"source_type"`
	URL           string         `db:"url"`
	Title         string         `db:"title"`
	Engagement    LinkEngagement `db:"engagement"`
	CollectedAt   time.Time      `db:"collected_at"`
}

// LinkFromPending builds the SourceLink recorded when a pending signal is promoted.
func LinkFromPending(p *PendingSignal, opportunityID string, now time.Time) SourceLink {
	return SourceLink{
		OpportunityID: opportunityID,
		SourceType:    p.SourceType,
		URL:           p.URL,
		Title:         p.Title,
		Engagement: LinkEngagement{
			Metrics:         p.Metrics,
			EngagementScore: p.EngagementScore,
			EngagementLevel: p.EngagementLevel,
			Analysis:        p.Classification,
		},
		CollectedAt: now,
	}
}

var errUnsupportedScan = errors.New("unsupported scan source type")

func scanJSON(src, dst any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("%w: %T", errUnsupportedScan, src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
