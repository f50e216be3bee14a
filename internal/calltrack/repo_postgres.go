package calltrack

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NOTE: This repository assumes the following table exists:
//
// CREATE TABLE voice_calls (
//     id                  TEXT PRIMARY KEY,
//     recovery_key        TEXT NOT NULL UNIQUE,
//     user_id             TEXT NOT NULL,
//     session_id          TEXT NOT NULL DEFAULT '',
//     cart_id             TEXT NOT NULL,
//     status              TEXT NOT NULL,
//     attempt_count       INT NOT NULL DEFAULT 0,
//     attempts            JSONB NOT NULL DEFAULT '[]',
//     provider            TEXT NOT NULL,
//     provider_call_id    TEXT NOT NULL DEFAULT '',
//     provider_event_keys JSONB NOT NULL DEFAULT '[]',
//     provider_events     JSONB NOT NULL DEFAULT '[]',
//     script_version      TEXT NOT NULL DEFAULT '',
//     campaign            JSONB NOT NULL DEFAULT '{}',
//     provider_payload    JSONB,
//     outcome             TEXT NOT NULL DEFAULT '',
//     followup_applied    BOOLEAN NOT NULL DEFAULT FALSE,
//     estimated_cost_usd  DOUBLE PRECISION NOT NULL DEFAULT 0,
//     next_retry_at       TIMESTAMPTZ,
//     last_error          TEXT NOT NULL DEFAULT '',
//     created_at          TIMESTAMPTZ NOT NULL,
//     updated_at          TIMESTAMPTZ NOT NULL
// );
// CREATE INDEX ON voice_calls (provider_call_id) WHERE provider_call_id <> '';
// CREATE INDEX ON voice_calls (created_at);

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const callColumns = `
id, recovery_key, user_id, session_id, cart_id, status, attempt_count, attempts,
provider, provider_call_id, provider_event_keys, provider_events,
script_version, campaign, provider_payload, outcome, followup_applied,
estimated_cost_usd, next_retry_at, last_error, created_at, updated_at`

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM voice_calls WHERE id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) GetByRecoveryKey(ctx context.Context, key string) (Call, bool, error) {
	q := `SELECT ` + callColumns + ` FROM voice_calls WHERE recovery_key = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, key))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) FindByProviderCallID(ctx context.Context, providerCallID string) (Call, bool, error) {
	if providerCallID == "" {
		return Call{}, false, nil
	}
	q := `SELECT ` + callColumns + ` FROM voice_calls WHERE provider_call_id = $1 ORDER BY created_at DESC LIMIT 1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, providerCallID))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, c Call) error {
	attempts, err := json.Marshal(c.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	eventKeys, err := json.Marshal(c.ProviderEventKeys)
	if err != nil {
		return fmt.Errorf("marshal event keys: %w", err)
	}
	events, err := json.Marshal(c.ProviderEvents)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	camp, err := json.Marshal(c.Campaign)
	if err != nil {
		return fmt.Errorf("marshal campaign: %w", err)
	}
	var payload []byte
	if c.ProviderPayload != nil {
		payload, err = json.Marshal(c.ProviderPayload)
		if err != nil {
			return fmt.Errorf("marshal provider payload: %w", err)
		}
	}

	const q = `
INSERT INTO voice_calls (
    id, recovery_key, user_id, session_id, cart_id, status, attempt_count, attempts,
    provider, provider_call_id, provider_event_keys, provider_events,
    script_version, campaign, provider_payload, outcome, followup_applied,
    estimated_cost_usd, next_retry_at, last_error, created_at, updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8,
    $9, $10, $11, $12,
    $13, $14, $15, $16, $17,
    $18, $19, $20, $21, $22
)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    attempt_count = EXCLUDED.attempt_count,
    attempts = EXCLUDED.attempts,
    provider_call_id = EXCLUDED.provider_call_id,
    provider_event_keys = EXCLUDED.provider_event_keys,
    provider_events = EXCLUDED.provider_events,
    provider_payload = EXCLUDED.provider_payload,
    outcome = EXCLUDED.outcome,
    followup_applied = EXCLUDED.followup_applied,
    next_retry_at = EXCLUDED.next_retry_at,
    last_error = EXCLUDED.last_error,
    updated_at = EXCLUDED.updated_at
`
	_, err = r.db.ExecContext(ctx, q,
		c.ID, c.RecoveryKey, c.UserID, c.SessionID, c.CartID, string(c.Status), c.AttemptCount, attempts,
		c.Provider, c.ProviderCallID, eventKeys, events,
		c.ScriptVersion, camp, payload, c.Outcome, c.FollowupApplied,
		c.EstimatedCostUSD, c.NextRetryAt, c.LastError, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, limit int, status CallStatus) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM voice_calls`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, string(status))
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	return r.queryCalls(ctx, q, args...)
}

func (r *PostgresRepo) ListCreatedSince(ctx context.Context, since time.Time) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM voice_calls WHERE created_at >= $1 ORDER BY created_at DESC`
	return r.queryCalls(ctx, q, since)
}

func (r *PostgresRepo) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM voice_calls WHERE created_at >= $1`
	var n int
	err := r.db.QueryRowContext(ctx, q, since).Scan(&n)
	return n, err
}

func (r *PostgresRepo) CountUserCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM voice_calls WHERE user_id = $1 AND created_at >= $2`
	var n int
	err := r.db.QueryRowContext(ctx, q, userID, since).Scan(&n)
	return n, err
}

func (r *PostgresRepo) ListActiveProviderCalls(ctx context.Context) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM voice_calls
WHERE provider_call_id <> '' AND status IN ('initiated', 'ringing', 'in_progress')
ORDER BY created_at ASC`
	return r.queryCalls(ctx, q)
}

func (r *PostgresRepo) queryCalls(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c         Call
		status    string
		attempts  []byte
		eventKeys []byte
		events    []byte
		camp      []byte
		payload   []byte
	)
	if err := row.Scan(
		&c.ID, &c.RecoveryKey, &c.UserID, &c.SessionID, &c.CartID, &status, &c.AttemptCount, &attempts,
		&c.Provider, &c.ProviderCallID, &eventKeys, &events,
		&c.ScriptVersion, &camp, &payload, &c.Outcome, &c.FollowupApplied,
		&c.EstimatedCostUSD, &c.NextRetryAt, &c.LastError, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return Call{}, err
	}
	c.Status = CallStatus(status)
	if err := json.Unmarshal(attempts, &c.Attempts); err != nil {
		return Call{}, fmt.Errorf("unmarshal attempts: %w", err)
	}
	if err := json.Unmarshal(eventKeys, &c.ProviderEventKeys); err != nil {
		return Call{}, fmt.Errorf("unmarshal event keys: %w", err)
	}
	if err := json.Unmarshal(events, &c.ProviderEvents); err != nil {
		return Call{}, fmt.Errorf("unmarshal events: %w", err)
	}
	if err := json.Unmarshal(camp, &c.Campaign); err != nil {
		return Call{}, fmt.Errorf("unmarshal campaign: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &c.ProviderPayload); err != nil {
			return Call{}, fmt.Errorf("unmarshal provider payload: %w", err)
		}
	}
	return c, nil
}
