package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const upsertSettingQuery = `
	INSERT INTO system_settings (key, value, updated_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

// GetSetting returns the raw JSON stored under key and whether it exists.
func (r *Repository) GetSetting(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var raw []byte
	err := r.db.GetContext(ctx, &raw, `SELECT value FROM system_settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return json.RawMessage(raw), true, nil
}

// PutSettings upserts every key in one transaction.
func (r *Repository) PutSettings(ctx context.Context, values map[string]json.RawMessage) error {
	now := r.now().UTC()
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		for key, value := range values {
			if _, err := tx.ExecContext(ctx, upsertSettingQuery, key, []byte(value), now); err != nil {
				return fmt.Errorf("put setting %s: %w", key, err)
			}
		}
		return nil
	})
}
