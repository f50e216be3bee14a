package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// NOTE: This repository assumes the following table exists:
//
// CREATE TABLE voice_alerts (
//     id         TEXT PRIMARY KEY,
//     code       TEXT NOT NULL,
//     message    TEXT NOT NULL,
//     severity   TEXT NOT NULL,
//     details    JSONB NOT NULL DEFAULT '{}',
//     created_at TIMESTAMPTZ NOT NULL
// );
// CREATE INDEX ON voice_alerts (created_at DESC);

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Add(ctx context.Context, a Alert) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	const q = `
INSERT INTO voice_alerts (id, code, message, severity, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err = r.db.ExecContext(ctx, q, a.ID, a.Code, a.Message, string(a.Severity), details, a.CreatedAt)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, limit int, severity Severity) ([]Alert, error) {
	q := `SELECT id, code, message, severity, details, created_at FROM voice_alerts`
	args := []any{}
	if severity != "" {
		q += ` WHERE severity = $1`
		args = append(args, string(severity))
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Alert, 0)
	for rows.Next() {
		var (
			a       Alert
			sev     string
			details []byte
		)
		if err := rows.Scan(&a.ID, &a.Code, &a.Message, &sev, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Severity = Severity(sev)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM voice_alerts`).Scan(&n)
	return n, err
}
