package store

import (
	"context"
	"fmt"

	"storefront/internal/models"
)

// GetSettings returns every setting keyed by name
func (s *Store) GetSettings(ctx context.Context) (map[string]string, error) {
	var rows []models.Setting
	if err := s.db.SelectContext(ctx, &rows, "SELECT key, value, updated_at FROM settings"); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// UpsertSettings writes all values in one transaction
func (s *Store) UpsertSettings(ctx context.Context, values map[string]string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		query := tx.tx.Rebind(`
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
		for k, v := range values {
			if _, err := tx.tx.ExecContext(ctx, query, k, v, tx.now); err != nil {
				return fmt.Errorf("failed to save setting %s: %w", k, err)
			}
		}
		return nil
	})
}
