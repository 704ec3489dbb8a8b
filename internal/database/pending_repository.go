package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const pendingColumns = `id, title, description, url, source_type, pain_point, opportunity_name, category,
	classification, engagement_metrics, engagement_score, engagement_level, COALESCE(scan_id::text, '') AS scan_id, created_at`

// DuplicateURLs returns the subset of urls already known as a source link or a pending signal.
func (r *Repository) DuplicateURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	if len(urls) == 0 {
		return known, nil
	}

	query := `
		SELECT url FROM source_links WHERE url = ANY($1)
		UNION
		SELECT url FROM pending_signals WHERE url = ANY($1)
	`

	var found []string
	if err := r.db.SelectContext(ctx, &found, query, pq.Array(urls)); err != nil {
		return nil, fmt.Errorf("select duplicate urls: %w", err)
	}
	for _, u := range found {
		known[u] = struct{}{}
	}
	return known, nil
}

// insertPendingQuery skips rows whose URL is already staged or already linked to an opportunity.
const insertPendingQuery = `
	INSERT INTO pending_signals (
		title, description, url, source_type, pain_point, opportunity_name, category,
		classification, engagement_metrics, engagement_score, engagement_level, scan_id, created_at
	)
	SELECT $1::text, $2::text, $3::varchar, $4::varchar, $5::text, $6::text, $7::varchar,
		$8::jsonb, $9::jsonb, $10::double precision, $11::varchar, NULLIF($12, '')::uuid, $13::timestamptz
	WHERE NOT EXISTS (SELECT 1 FROM source_links WHERE url = $3)
	ON CONFLICT (url) DO NOTHING
`

// InsertPendingSignals stages signals in one transaction and returns how many were inserted.
func (r *Repository) InsertPendingSignals(ctx context.Context, signals []domain.PendingSignal) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}

	inserted := 0
	now := r.now().UTC()
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		for i := range signals {
			s := &signals[i]
			result, execErr := tx.ExecContext(ctx, insertPendingQuery,
				s.Title, s.Description, s.URL, s.SourceType, s.PainPoint, s.OpportunityName, s.Category,
				s.Classification, s.Metrics, s.EngagementScore, s.EngagementLevel, s.ScanID, now,
			)
			if execErr != nil {
				return fmt.Errorf("insert pending signal %s: %w", s.URL, execErr)
			}
			affected, rowsErr := result.RowsAffected()
			if rowsErr != nil {
				return fmt.Errorf("rows affected: %w", rowsErr)
			}
			inserted += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListMatchCandidates returns staged signals that carry a pain point, oldest first.
func (r *Repository) ListMatchCandidates(ctx context.Context, limit int) ([]*domain.PendingSignal, error) {
	query := `SELECT ` + pendingColumns + `
		FROM pending_signals
		WHERE pain_point <> ''
		ORDER BY created_at ASC
		LIMIT $1`

	var out []*domain.PendingSignal
	if err := r.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("list match candidates: %w", err)
	}
	return out, nil
}

// ListClusterCandidates returns staged signals with a model analysis, oldest first.
func (r *Repository) ListClusterCandidates(ctx context.Context, limit int) ([]*domain.PendingSignal, error) {
	query := `SELECT ` + pendingColumns + `
		FROM pending_signals
		WHERE classification IS NOT NULL
		  AND pain_point <> ''
		  AND pain_point <> description
		ORDER BY created_at ASC
		LIMIT $1`

	var out []*domain.PendingSignal
	if err := r.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("list cluster candidates: %w", err)
	}
	return out, nil
}

// DeletePendingBefore removes staged signals created before cutoff.
func (r *Repository) DeletePendingBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pending_signals WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired pending signals: %w", err)
	}
	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return 0, fmt.Errorf("rows affected: %w", rowsErr)
	}
	return int(affected), nil
}

// CountPending returns the number of staged signals.
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pending_signals`); err != nil {
		return 0, fmt.Errorf("count pending signals: %w", err)
	}
	return n, nil
}
