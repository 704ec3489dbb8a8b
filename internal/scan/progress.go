package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const progressKeyPrefix = "scan_progress:"

// Progress is the live view of a running scan.
type Progress struct {
	Status    domain.ScanStatus
	Progress  int
	Message   string
	Stats     domain.ScanStats
	UpdatedAt time.Time
}

// ProgressStore caches live progress so status reads avoid the database.
type ProgressStore interface {
	Set(ctx context.Context, scanID string, p Progress) error
	Get(ctx context.Context, scanID string) (Progress, bool, error)
}

// RedisProgress keeps progress in a hash per scan that expires after ttl.
type RedisProgress struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisProgress creates a Redis-backed progress store.
func NewRedisProgress(client *redis.Client, ttl time.Duration) *RedisProgress {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisProgress{client: client, ttl: ttl}
}

func progressKey(scanID string) string {
	return progressKeyPrefix + scanID
}

// Set writes every field and refreshes the expiry in one pipeline.
func (r *RedisProgress) Set(ctx context.Context, scanID string, p Progress) error {
	stats, err := json.Marshal(p.Stats)
	if err != nil {
		return fmt.Errorf("encode scan stats: %w", err)
	}

	key := progressKey(scanID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", string(p.Status),
			"progress", p.Progress,
			"message", p.Message,
			"stats", string(stats),
			"updated_at", p.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write scan progress: %w", err)
	}
	return nil
}

// Get returns the cached progress. The boolean is false when nothing is cached.
func (r *RedisProgress) Get(ctx context.Context, scanID string) (Progress, bool, error) {
	fields, err := r.client.HGetAll(ctx, progressKey(scanID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Progress{}, false, nil
		}
		return Progress{}, false, fmt.Errorf("read scan progress: %w", err)
	}
	if len(fields) == 0 {
		return Progress{}, false, nil
	}

	p := Progress{
		Status:  domain.ScanStatus(fields["status"]),
		Message: fields["message"],
	}
	if v, convErr := strconv.Atoi(fields["progress"]); convErr == nil {
		p.Progress = v
	}
	if raw := fields["stats"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &p.Stats)
	}
	if ts, parseErr := time.Parse(time.RFC3339Nano, fields["updated_at"]); parseErr == nil {
		p.UpdatedAt = ts
	}
	return p, true, nil
}

// nopProgress is used when Redis is disabled; status reads go to the database.
type nopProgress struct{}

func (nopProgress) Set(context.Context, string, Progress) error { return nil }

func (nopProgress) Get(context.Context, string) (Progress, bool, error) { return Progress{}, false, nil }
