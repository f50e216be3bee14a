package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// PostgresRepo persists the settings singleton as a single JSONB row.
//
// NOTE: assumes the following table exists:
//   voice_settings (id INT PRIMARY KEY CHECK (id = 1), value JSONB NOT NULL, updated_at TIMESTAMPTZ NOT NULL)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context) (Settings, bool, error) {
	const q = `SELECT value FROM voice_settings WHERE id = 1`
	var raw []byte
	if err := r.db.QueryRowContext(ctx, q).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Settings{}, false, nil
		}
		return Settings{}, false, err
	}
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, false, err
	}
	return s, true, nil
}

func (r *PostgresRepo) Put(ctx context.Context, s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO voice_settings (id, value, updated_at)
VALUES (1, $1, now())
ON CONFLICT (id)
DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`
	_, err = r.db.ExecContext(ctx, q, raw)
	return err
}
