package domain

import (
	"time"

	"github.com/lib/pq"
)

// Opportunity is a promoted, corroborated business opportunity.
type Opportunity struct {
	ID               string         `db:"id"`
	Title            string         `db:"title"`
	Description      string         `db:"description"`
	Problem          string         `db:"problem"`
	TargetMarket     string         `db:"target_market"`
	Category         string         `db:"category"`
	Score            *int           `db:"score"`
	DemandScore      *int           `db:"demand_score"`
	CompetitionScore *int           `db:"competition_score"`
	ComplexityScore  *int           `db:"complexity_score"`
	IsValidated      bool           `db:"is_validated"`
	CompetitorCount  int            `db:"competitor_count"`
	MentionCount     int            `db:"mention_count"`
	SourceTypes      pq.StringArray `db:"source_types"`
	ClusterID        string         `db:"cluster_id"`
	ScoredAt         *time.Time     `db:"scored_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// Competitor is an existing product addressing an opportunity.
type Competitor struct {
	ID            string    `db:"id"`
	OpportunityID string    `db:"opportunity_id"`
	Name          string    `db:"name"`
	URL           string    `db:"url"`
	Description   string    `db:"description"`
	RevenueEst    string    `db:"revenue_est"`
	Pricing       string    `db:"pricing"`
	CreatedAt     time.Time `db:"created_at"`
}

// ScoreUpdate is what the scoring engine persists for an opportunity.
type ScoreUpdate struct {
	Score            int
	DemandScore      int
	CompetitionScore int
	ComplexityScore  int
	IsValidated      bool
	CompetitorCount  int
}

// Match attaches a pending signal to an existing opportunity.
type Match struct {
	Signal        *PendingSignal
	OpportunityID string
	Confidence    float64
}

// ClusterPromotion is a corroborated group ready to become a new Opportunity.
type ClusterPromotion struct {
	Opportunity Opportunity
	Members     []*PendingSignal
}
