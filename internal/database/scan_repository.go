package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const scanColumns = `id, status, progress, message, opportunities_found, sources_processed, stats,
	error_message, started_at, completed_at, created_at, updated_at`

// CreateScan inserts a pending scan and returns it.
func (r *Repository) CreateScan(ctx context.Context) (*domain.Scan, error) {
	now := r.now().UTC()
	scan := &domain.Scan{
		Status:           domain.ScanPending,
		SourcesProcessed: domain.SourceResults{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	query := `
		INSERT INTO scans (status, progress, message, sources_processed, stats, created_at, updated_at)
		VALUES ($1, 0, '', $2, $3, $4, $4)
		RETURNING id`

	if err := r.db.QueryRowxContext(ctx, query, scan.Status, scan.SourcesProcessed, scan.Stats, now).
		Scan(&scan.ID); err != nil {
		return nil, fmt.Errorf("insert scan: %w", err)
	}
	return scan, nil
}

// MarkScanRunning moves a pending scan to running and stamps started_at.
func (r *Repository) MarkScanRunning(ctx context.Context, id string) error {
	now := r.now().UTC()
	query := `
		UPDATE scans
		SET status = $2, started_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, id, domain.ScanRunning, now, domain.ScanPending)
	if err != nil {
		return fmt.Errorf("mark scan running: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("scan %s is not pending: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateScanProgress records stage progress and bumps the heartbeat of a running scan.
func (r *Repository) UpdateScanProgress(ctx context.Context, id string, progress int, message string) error {
	query := `
		UPDATE scans SET progress = $2, message = $3, updated_at = $4
		WHERE id = $1 AND status = $5`

	result, err := r.db.ExecContext(ctx, query, id, progress, message, r.now().UTC(), domain.ScanRunning)
	if err != nil {
		return fmt.Errorf("update scan progress: %w", err)
	}
	return requireRow(result, id)
}

// UpdateScanSources records per-source outcomes of a running scan.
func (r *Repository) UpdateScanSources(ctx context.Context, id string, results domain.SourceResults) error {
	query := `
		UPDATE scans SET sources_processed = $2, updated_at = $3
		WHERE id = $1 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, id, results, r.now().UTC(), domain.ScanRunning)
	if err != nil {
		return fmt.Errorf("update scan sources: %w", err)
	}
	return requireRow(result, id)
}

// CompleteScan finalizes a running scan. A scan already failed by the watchdog is left alone.
func (r *Repository) CompleteScan(ctx context.Context, id string, stats domain.ScanStats, results domain.SourceResults) error {
	now := r.now().UTC()
	query := `
		UPDATE scans
		SET status = $2, progress = 100, message = $3, opportunities_found = $4,
		    stats = $5, sources_processed = $6, completed_at = $7, updated_at = $7
		WHERE id = $1 AND status = $8`

	result, err := r.db.ExecContext(ctx, query, id, domain.ScanCompleted, "Scan complete",
		stats.OpportunitiesFound(), stats, results, now, domain.ScanRunning)
	if err != nil {
		return fmt.Errorf("complete scan: %w", err)
	}
	return requireRow(result, id)
}

// FailScan finalizes a pending or running scan as failed, keeping the counters gathered so far.
func (r *Repository) FailScan(ctx context.Context, id, message string, stats domain.ScanStats, results domain.SourceResults) error {
	now := r.now().UTC()
	query := `
		UPDATE scans
		SET status = $2, error_message = $3, message = $3, opportunities_found = $4,
		    stats = $5, sources_processed = $6, completed_at = $7, updated_at = $7
		WHERE id = $1 AND status IN ($8, $9)`

	result, err := r.db.ExecContext(ctx, query, id, domain.ScanFailed, message,
		stats.OpportunitiesFound(), stats, results, now, domain.ScanPending, domain.ScanRunning)
	if err != nil {
		return fmt.Errorf("fail scan: %w", err)
	}
	return requireRow(result, id)
}

// requireRow turns an update that touched nothing into ErrScanNotRunning.
func requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("scan %s: %w", id, ErrScanNotRunning)
	}
	return nil
}

// GetScan loads a scan or returns ErrNotFound.
func (r *Repository) GetScan(ctx context.Context, id string) (*domain.Scan, error) {
	var scan domain.Scan
	query := `SELECT ` + scanColumns + ` FROM scans WHERE id = $1`

	if err := r.db.GetContext(ctx, &scan, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return &scan, nil
}

// FailStaleScans marks running scans with no heartbeat since before as failed.
func (r *Repository) FailStaleScans(ctx context.Context, before time.Time, message string) ([]string, error) {
	now := r.now().UTC()
	query := `
		UPDATE scans
		SET status = $1, error_message = $2, message = $2, completed_at = $3, updated_at = $3
		WHERE status = $4 AND updated_at < $5
		RETURNING id`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, domain.ScanFailed, message, now, domain.ScanRunning, before); err != nil {
		return nil, fmt.Errorf("fail stale scans: %w", err)
	}
	return ids, nil
}
