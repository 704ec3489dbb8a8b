package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const opportunityColumns = `id, title, description, problem, target_market, category, score,
	demand_score, competition_score, complexity_score, is_validated, competitor_count, mention_count,
	source_types, cluster_id, scored_at, created_at, updated_at`

// ListRecentOpportunities returns opportunities created after since, best scored first.
func (r *Repository) ListRecentOpportunities(ctx context.Context, since time.Time, limit int) ([]*domain.Opportunity, error) {
	query := `SELECT ` + opportunityColumns + `
		FROM opportunities
		WHERE created_at >= $1
		ORDER BY score DESC NULLS LAST, created_at DESC
		LIMIT $2`

	var out []*domain.Opportunity
	if err := r.db.SelectContext(ctx, &out, query, since, limit); err != nil {
		return nil, fmt.Errorf("list recent opportunities: %w", err)
	}
	return out, nil
}

// GetOpportunity loads one opportunity or returns ErrNotFound.
func (r *Repository) GetOpportunity(ctx context.Context, id string) (*domain.Opportunity, error) {
	var opp domain.Opportunity
	query := `SELECT ` + opportunityColumns + ` FROM opportunities WHERE id = $1`

	if err := r.db.GetContext(ctx, &opp, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get opportunity: %w", err)
	}
	return &opp, nil
}

// ListOpportunityIDs returns ids of every opportunity, or only unscored ones, oldest first.
// A non-positive limit means no limit.
func (r *Repository) ListOpportunityIDs(ctx context.Context, unscoredOnly bool, limit int) ([]string, error) {
	query := `SELECT id FROM opportunities`
	if unscoredOnly {
		query += ` WHERE scored_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`

	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list opportunity ids: %w", err)
	}
	return ids, nil
}

// ListCompetitors returns the competitors recorded for an opportunity.
func (r *Repository) ListCompetitors(ctx context.Context, opportunityID string) ([]domain.Competitor, error) {
	query := `
		SELECT id, opportunity_id, name, url, description, revenue_est, pricing, created_at
		FROM competitors
		WHERE opportunity_id = $1
		ORDER BY created_at ASC`

	var out []domain.Competitor
	if err := r.db.SelectContext(ctx, &out, query, opportunityID); err != nil {
		return nil, fmt.Errorf("list competitors: %w", err)
	}
	return out, nil
}

// UpdateOpportunityScore persists a scoring result.
func (r *Repository) UpdateOpportunityScore(ctx context.Context, id string, u domain.ScoreUpdate) error {
	query := `
		UPDATE opportunities
		SET score = $2, demand_score = $3, competition_score = $4, complexity_score = $5,
		    is_validated = $6, competitor_count = $7, scored_at = $8, updated_at = $8
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id,
		u.Score, u.DemandScore, u.CompetitionScore, u.ComplexityScore,
		u.IsValidated, u.CompetitorCount, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update opportunity score: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}
	return nil
}

const insertLinkQuery = `
	INSERT INTO source_links (opportunity_id, source_type, url, title, engagement, collected_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (url) DO NOTHING`

// bumpMentionsQuery increments mention_count and adds the source type when it is new.
const bumpMentionsQuery = `
	UPDATE opportunities
	SET mention_count = mention_count + 1,
	    source_types = CASE WHEN $2 = ANY(source_types) THEN source_types ELSE array_append(source_types, $2) END,
	    updated_at = $3
	WHERE id = $1`

const deletePendingQuery = `DELETE FROM pending_signals WHERE id = ANY($1)`

// AttachMatches links each matched signal to its opportunity in a single transaction.
// It returns the number of signals that produced a new source link.
func (r *Repository) AttachMatches(ctx context.Context, matches []domain.Match) (int, error) {
	if len(matches) == 0 {
		return 0, nil
	}

	attached := 0
	now := r.now().UTC()
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		consumed := make([]string, 0, len(matches))
		for _, m := range matches {
			link := domain.LinkFromPending(m.Signal, m.OpportunityID, now)
			result, linkErr := tx.ExecContext(ctx, insertLinkQuery,
				link.OpportunityID, link.SourceType, link.URL, link.Title, link.Engagement, link.CollectedAt)
			if linkErr != nil {
				return fmt.Errorf("insert source link %s: %w", link.URL, linkErr)
			}
			consumed = append(consumed, m.Signal.ID)

			if affected, _ := result.RowsAffected(); affected == 0 {
				continue
			}
			if _, bumpErr := tx.ExecContext(ctx, bumpMentionsQuery, m.OpportunityID, link.SourceType, now); bumpErr != nil {
				return fmt.Errorf("update opportunity %s: %w", m.OpportunityID, bumpErr)
			}
			attached++
		}

		if _, delErr := tx.ExecContext(ctx, deletePendingQuery, pq.Array(consumed)); delErr != nil {
			return fmt.Errorf("delete matched pending signals: %w", delErr)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return attached, nil
}

// PromoteCluster creates the opportunity, links every member and clears them from staging,
// all in one transaction. It returns the new opportunity id.
func (r *Repository) PromoteCluster(ctx context.Context, promo domain.ClusterPromotion) (string, error) {
	now := r.now().UTC()
	opp := promo.Opportunity

	var id string
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		insertOpp := `
			INSERT INTO opportunities (
				title, description, problem, target_market, category, score,
				mention_count, source_types, cluster_id, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			RETURNING id`

		if scanErr := tx.QueryRowxContext(ctx, insertOpp,
			opp.Title, opp.Description, opp.Problem, opp.TargetMarket, opp.Category, opp.Score,
			opp.MentionCount, opp.SourceTypes, opp.ClusterID, now,
		).Scan(&id); scanErr != nil {
			return fmt.Errorf("insert opportunity: %w", scanErr)
		}

		memberIDs := make([]string, 0, len(promo.Members))
		for _, member := range promo.Members {
			link := domain.LinkFromPending(member, id, now)
			if _, linkErr := tx.ExecContext(ctx, insertLinkQuery,
				link.OpportunityID, link.SourceType, link.URL, link.Title, link.Engagement, link.CollectedAt,
			); linkErr != nil {
				return fmt.Errorf("insert source link %s: %w", link.URL, linkErr)
			}
			memberIDs = append(memberIDs, member.ID)
		}

		if _, delErr := tx.ExecContext(ctx, deletePendingQuery, pq.Array(memberIDs)); delErr != nil {
			return fmt.Errorf("delete promoted pending signals: %w", delErr)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
