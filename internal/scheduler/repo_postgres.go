package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NOTE: This repository assumes the following tables exist:
//
// CREATE TABLE voice_jobs (
//     id           TEXT PRIMARY KEY,
//     status       TEXT NOT NULL,
//     user_id      TEXT NOT NULL,
//     session_id   TEXT NOT NULL DEFAULT '',
//     cart_id      TEXT NOT NULL,
//     recovery_key TEXT NOT NULL UNIQUE,
//     attempt      INT NOT NULL DEFAULT 0,
//     next_run_at  TIMESTAMPTZ,
//     last_error   TEXT NOT NULL DEFAULT '',
//     created_at   TIMESTAMPTZ NOT NULL,
//     updated_at   TIMESTAMPTZ NOT NULL
// );
// CREATE INDEX ON voice_jobs (status, next_run_at);
//
// CREATE TABLE voice_recoveries (
//     recovery_key     TEXT PRIMARY KEY,
//     provider_call_id TEXT NOT NULL DEFAULT '',
//     created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
// );

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const jobColumns = `
id, status, user_id, session_id, cart_id, recovery_key, attempt, next_run_at,
last_error, created_at, updated_at`

func (r *PostgresRepo) GetJob(ctx context.Context, id string) (Job, error) {
	q := `SELECT ` + jobColumns + ` FROM voice_jobs WHERE id = $1`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

func (r *PostgresRepo) PutJob(ctx context.Context, j Job) error {
	const q = `
INSERT INTO voice_jobs (
    id, status, user_id, session_id, cart_id, recovery_key, attempt,
    next_run_at, last_error, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    attempt = EXCLUDED.attempt,
    next_run_at = EXCLUDED.next_run_at,
    last_error = EXCLUDED.last_error,
    updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q,
		j.ID, string(j.Status), j.UserID, j.SessionID, j.CartID, j.RecoveryKey, j.Attempt,
		j.NextRunAt, j.LastError, j.CreatedAt, j.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) HasRecoveryKey(ctx context.Context, key string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM voice_jobs WHERE recovery_key = $1)`
	var exists bool
	err := r.db.QueryRowContext(ctx, q, key).Scan(&exists)
	return exists, err
}

func (r *PostgresRepo) SelectDue(ctx context.Context, now time.Time) ([]Job, error) {
	q := `SELECT ` + jobColumns + ` FROM voice_jobs
WHERE status IN ('queued', 'retrying') AND next_run_at IS NOT NULL AND next_run_at <= $1
ORDER BY next_run_at ASC`
	return r.queryJobs(ctx, q, now)
}

func (r *PostgresRepo) ListJobs(ctx context.Context, limit int, status JobStatus) ([]Job, error) {
	q := `SELECT ` + jobColumns + ` FROM voice_jobs`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, string(status))
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	return r.queryJobs(ctx, q, args...)
}

func (r *PostgresRepo) PendingJobs(ctx context.Context) (int, int, error) {
	const q = `
SELECT
    COUNT(*) FILTER (WHERE status = 'queued'),
    COUNT(*) FILTER (WHERE status = 'retrying')
FROM voice_jobs
`
	var queued, retrying int
	err := r.db.QueryRowContext(ctx, q).Scan(&queued, &retrying)
	return queued, retrying, err
}

func (r *PostgresRepo) MarkRecovered(ctx context.Context, recoveryKey, providerCallID string) error {
	const q = `
INSERT INTO voice_recoveries (recovery_key, provider_call_id)
VALUES ($1, $2)
ON CONFLICT (recovery_key) DO NOTHING
`
	_, err := r.db.ExecContext(ctx, q, recoveryKey, providerCallID)
	return err
}

func (r *PostgresRepo) HasRecoveryRecord(ctx context.Context, recoveryKey string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM voice_recoveries WHERE recovery_key = $1)`
	var exists bool
	err := r.db.QueryRowContext(ctx, q, recoveryKey).Scan(&exists)
	return exists, err
}

func (r *PostgresRepo) queryJobs(ctx context.Context, q string, args ...any) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j      Job
		status string
	)
	if err := row.Scan(
		&j.ID, &status, &j.UserID, &j.SessionID, &j.CartID, &j.RecoveryKey, &j.Attempt,
		&j.NextRunAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return Job{}, err
	}
	j.Status = JobStatus(status)
	return j, nil
}
